package graph

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// TokenTrades is one token's sub-slice of the canonical trade table: just
// the two columns the SCC engine needs, parallel-indexed.
type TokenTrades struct {
	Token     string
	SellerIDs []int64
	BuyerIDs  []int64
}

// Catalog is the SCC engine's output (§4.B contract): occurrence counts
// and the member list per hash, plus the relevant-SCC subset at threshold T.
type Catalog struct {
	Occurrence map[string]int
	Members    map[string][]int64
	Relevant   []models.SCCRecord // sorted by occurrence desc, then hash asc
}

// Hash renders a sorted member-ID list as sha256(join(",", ids)) interpreted
// as a non-negative base-10 big integer (§3, §9). Deterministic, but the
// digest depends on input order, so callers must pass members pre-sorted.
func Hash(sortedMembers []int64) string {
	parts := make([]string, len(sortedMembers))
	for i, id := range sortedMembers {
		parts[i] = strconv.FormatInt(id, 10)
	}
	joined := strings.Join(parts, ",")
	digest := sha256.Sum256([]byte(joined))
	n := new(big.Int).SetBytes(digest[:])
	return n.String()
}

// layerResult is what one layer of peeling on one token contributes.
type layerResult struct {
	hashes  []string
	members map[string][]int64
}

// ExtractToken implements the per-token layered-peeling algorithm (§4.B
// steps 1-3): build the simple weighted digraph, then repeatedly take
// non-trivial SCCs, decrement every edge, and prune, until no edges remain
// or no SCC has >= 2 members.
func ExtractToken(tt TokenTrades) layerResult {
	g := NewDigraph(tt.SellerIDs, tt.BuyerIDs)

	result := layerResult{members: make(map[string][]int64)}

	for g.NumNodes() > 0 {
		components := stronglyConnectedComponents(g)

		var nonTrivial [][]int64
		for _, c := range components {
			if len(c) >= 2 {
				nonTrivial = append(nonTrivial, c)
			}
		}
		if len(nonTrivial) == 0 {
			break
		}

		for _, c := range nonTrivial {
			sorted := append([]int64(nil), c...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			h := Hash(sorted)
			result.members[h] = sorted
			result.hashes = append(result.hashes, h)
		}

		g.decrementAndPrune()
	}

	return result
}

// ExtractAll runs ExtractToken over every token's trade partition in a
// fixed-size work-stealing pool (§5 region 1: default 16 workers), then
// merges the per-token results into a global catalog (§4.B "Aggregation").
// A worker error aborts the whole run and is returned to the caller
// (§4.E "Parallel worker exceptions are propagated to the driver").
func ExtractAll(ctx context.Context, tokens []TokenTrades, workerCount int, threshold int) (*Catalog, error) {
	results := make([]layerResult, len(tokens))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	for i, tt := range tokens {
		i, tt := i, tt
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					// A worker panic is propagated to the driver as an
					// error rather than crashing the process, so the run
					// aborts cleanly per §4.E.
					err = fmt.Errorf("token %s: %v", tt.Token, r)
				}
			}()
			results[i] = ExtractToken(tt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("graph: SCC extraction worker failed: %w", err)
	}

	occurrence := make(map[string]int)
	members := make(map[string][]int64)
	for _, r := range results {
		for _, h := range r.hashes {
			occurrence[h]++
		}
		for h, m := range r.members {
			// Keys collide only with identical value lists (§4.B
			// "Parallelism"): merge is conflict-free, last write is
			// equivalent to first write.
			members[h] = m
		}
	}

	relevant := make([]models.SCCRecord, 0)
	for h, count := range occurrence {
		if count >= threshold {
			relevant = append(relevant, models.SCCRecord{
				SCCHash:    h,
				Members:    members[h],
				Occurrence: count,
				NumTraders: len(members[h]),
			})
		}
	}
	sort.Slice(relevant, func(i, j int) bool {
		if relevant[i].Occurrence != relevant[j].Occurrence {
			return relevant[i].Occurrence > relevant[j].Occurrence
		}
		return relevant[i].SCCHash < relevant[j].SCCHash
	})

	return &Catalog{Occurrence: occurrence, Members: members, Relevant: relevant}, nil
}
