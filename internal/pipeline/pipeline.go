// Package pipeline wires components A through D (preprocess, the SCC
// engine, the volume-matching engine, and the orchestrator) into one run,
// the way the API handler's POST /api/v1/runs invokes it.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rawblock/wash-trade-engine/internal/config"
	"github.com/rawblock/wash-trade-engine/internal/graph"
	"github.com/rawblock/wash-trade-engine/internal/orchestrator"
	"github.com/rawblock/wash-trade-engine/internal/preprocess"
	"github.com/rawblock/wash-trade-engine/internal/registry"
	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// Result is one run's full output, the union of what GET /api/v1/runs/:id
// and GET /api/v1/runs/:id/clusters serve.
type Result struct {
	Trades   []models.Trade
	Catalog  *graph.Catalog
	Registry *registry.Registry
	Clusters models.AddressClusterMap
	WashMap  models.WashMap
	Report   preprocess.Report
}

// Run executes components A-D end to end against one batch of raw trades.
func Run(ctx context.Context, raw []models.RawTrade, decimals preprocess.Decimals, prices preprocess.Prices, cfg config.Config, hub orchestrator.Hub) (Result, error) {
	trades, reg, report, err := preprocess.Process(raw, decimals, prices, cfg.EtherAddressHex, cfg.FilterStatus)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: preprocess: %w", err)
	}

	catalog, err := graph.ExtractAll(ctx, tokenTradesFrom(trades), cfg.WorkerCount, cfg.SCCOccurrenceThreshold)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: scc extraction: %w", err)
	}

	margin := decimal.NewFromFloat(cfg.WashMargin)
	labeled, washMap, err := orchestrator.Run(ctx, trades, catalog, cfg.WindowSizesSeconds, margin, cfg.WorkerCount, cfg.WashTradeUsesETHAmount, hub)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: orchestrator: %w", err)
	}

	clusters := orchestrator.BuildAddressClusters(catalog, reg)

	return Result{
		Trades:   labeled,
		Catalog:  catalog,
		Registry: reg,
		Clusters: clusters,
		WashMap:  washMap,
		Report:   report,
	}, nil
}

// tokenTradesFrom groups the canonical trade table by token into the
// parallel seller/buyer ID slices the SCC engine consumes (§4.B "Input").
// Trades are walked in their existing (timestamp-sorted) order, so each
// token's slices preserve that ordering too, though the SCC engine itself
// is order-independent within a token.
func tokenTradesFrom(trades []models.Trade) []graph.TokenTrades {
	byToken := make(map[string]*graph.TokenTrades)
	var tokens []string
	for _, t := range trades {
		tt, ok := byToken[t.Token]
		if !ok {
			tt = &graph.TokenTrades{Token: t.Token}
			byToken[t.Token] = tt
			tokens = append(tokens, t.Token)
		}
		tt.SellerIDs = append(tt.SellerIDs, t.EthSellerID)
		tt.BuyerIDs = append(tt.BuyerIDs, t.EthBuyerID)
	}
	sort.Strings(tokens)

	out := make([]graph.TokenTrades, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, *byToken[tok])
	}
	return out
}
