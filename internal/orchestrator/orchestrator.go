// Package orchestrator implements component D (§4.D): composing the SCC
// engine's ranked catalog with the volume-matching engine across multiple
// window sizes, applying wash labels under the ordering property that
// gives earlier-processed SCCs priority.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/wash-trade-engine/internal/graph"
	"github.com/rawblock/wash-trade-engine/internal/registry"
	"github.com/rawblock/wash-trade-engine/internal/wash"
	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// Hub is the live-broadcast sink for wash_detected events (§6 GET
// /api/v1/stream). The orchestrator depends on this interface rather
// than the concrete alert hub so it can run label-only, with no API
// layer at all, in tests and batch jobs.
type Hub interface {
	BroadcastWashDetected(sccHash string, windowSeconds int64, txIDs []string)
}

type noopHub struct{}

func (noopHub) BroadcastWashDetected(string, int64, []string) {}

// partitionResult is what one (scc, window, token, bin) volume-match pass
// contributes; collected from the parallel region and applied to the
// shared trade table only in the serial finalize step.
type partitionResult struct {
	sccHash string
	window  int64
	matched []int // indices into the working trade slice
	txIDs   []string
}

// Run implements §4.D end to end. trades must already be sorted by
// timestamp ascending (preprocess.Process's postcondition). catalog is the
// SCC engine's output; its Relevant list is iterated in its existing rank
// order (occurrence desc, hash asc — §4.D "ranked, tie-broken-by-hash
// order"). hub may be nil, in which case broadcasts are dropped.
func Run(ctx context.Context, trades []models.Trade, catalog *graph.Catalog, windowSizes []int64, margin decimal.Decimal, workerCount int, useEthAmount bool, hub Hub) ([]models.Trade, models.WashMap, error) {
	if hub == nil {
		hub = noopHub{}
	}

	labeled := make([]models.Trade, len(trades))
	copy(labeled, trades)
	for i := range labeled {
		labeled[i].WashLabel = false // §4.D step 1
	}

	washMap := make(models.WashMap)
	windowSizes = sortedWindowSizes(windowSizes)

	for _, scc := range catalog.Relevant {
		members := make(map[int64]struct{}, len(scc.Members))
		for _, m := range scc.Members {
			members[m] = struct{}{}
		}

		// §4.D step 2a: filter once per SCC to currently-unlabeled trades
		// whose both legs are in the member set; trades labeled by an
		// earlier SCC are excluded here. Re-derived per window size below
		// so that a label applied by an earlier (smaller) window in this
		// same SCC is excluded from later windows.
		var sccScope []int
		for i, tr := range labeled {
			if !tr.WashLabel && isMember(tr, members) {
				sccScope = append(sccScope, i)
			}
		}
		if len(sccScope) == 0 {
			continue
		}

		for _, w := range windowSizes {
			var unlabeled []int
			for _, i := range sccScope {
				if !labeled[i].WashLabel {
					unlabeled = append(unlabeled, i)
				}
			}
			if len(unlabeled) == 0 {
				continue
			}

			results, err := matchWindow(ctx, labeled, scc.SCCHash, w, unlabeled, margin, workerCount, useEthAmount)
			if err != nil {
				return nil, nil, fmt.Errorf("orchestrator: scc %s window %d: %w", scc.SCCHash, w, err)
			}

			// Serial finalize: apply labels and broadcast only after every
			// partition of this SCC×window has returned (§5 "labels
			// applied only after all partitions ... complete").
			for _, r := range results {
				if len(r.txIDs) == 0 {
					continue
				}
				for _, idx := range r.matched {
					labeled[idx].WashLabel = true
				}
				if washMap[r.sccHash] == nil {
					washMap[r.sccHash] = make(map[string][]string)
				}
				key := windowKey(r.window)
				washMap[r.sccHash][key] = append(washMap[r.sccHash][key], r.txIDs...)
				hub.BroadcastWashDetected(r.sccHash, r.window, r.txIDs)
			}
		}
	}

	log.Printf("[orchestrator] run complete: %d scc groups processed, %d trades labeled", len(catalog.Relevant), countLabeled(labeled))
	return labeled, washMap, nil
}

func isMember(tr models.Trade, members map[int64]struct{}) bool {
	if _, ok := members[tr.EthBuyerID]; !ok {
		return false
	}
	_, ok := members[tr.EthSellerID]
	return ok
}

func countLabeled(trades []models.Trade) int {
	n := 0
	for _, t := range trades {
		if t.WashLabel {
			n++
		}
	}
	return n
}

// matchWindow runs component C over every (token, bin) partition of one
// SCC×window pass in a fixed-size worker pool (§5 region 2), returning
// each partition's result for serial application by the caller.
func matchWindow(ctx context.Context, trades []models.Trade, sccHash string, w int64, idxs []int, margin decimal.Decimal, workerCount int, useEthAmount bool) ([]partitionResult, error) {
	parts := buildPartitions(trades, idxs, w)
	if len(parts) == 0 {
		return nil, nil
	}

	results := make([]partitionResult, len(parts))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	for i, p := range parts {
		i, p := i, p
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("partition token=%s bin=%d: %v", p.token, p.binIndex, r)
				}
			}()

			slice := wash.Slice{
				TxIDs:   make([]string, len(p.indices)),
				Buyers:  make([]int64, len(p.indices)),
				Sellers: make([]int64, len(p.indices)),
				Amounts: make([]decimal.Decimal, len(p.indices)),
			}
			for j, idx := range p.indices {
				tr := trades[idx]
				slice.TxIDs[j] = tr.TxID
				slice.Buyers[j] = tr.EthBuyerID
				slice.Sellers[j] = tr.EthSellerID
				if useEthAmount {
					slice.Amounts[j] = tr.AmountETH
				} else {
					slice.Amounts[j] = tr.AmountToken
				}
			}

			matchedTxIDs := wash.Detect(slice, margin)
			results[i] = partitionResult{
				sccHash: sccHash,
				window:  w,
				matched: append([]int(nil), p.indices[:len(matchedTxIDs)]...),
				txIDs:   matchedTxIDs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BuildAddressClusters resolves every relevant SCC's member-ID list into
// sorted human-readable addresses via the trader registry (§6 Outputs:
// "Address cluster map").
func BuildAddressClusters(catalog *graph.Catalog, reg *registry.Registry) models.AddressClusterMap {
	out := make(models.AddressClusterMap, len(catalog.Relevant))
	for _, scc := range catalog.Relevant {
		out[scc.SCCHash] = reg.AddressesFor(scc.Members)
	}
	return out
}

// sortedWindowSizes returns a defensive ascending-sorted copy of window
// sizes — the ordering property depends on smaller windows being applied
// before larger ones within the same SCC (§4.D "excluded from subsequent
// detection in larger windows"), and config.Validate only enforces
// positivity, not order.
func sortedWindowSizes(sizes []int64) []int64 {
	out := append([]int64(nil), sizes...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
