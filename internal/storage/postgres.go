// Package storage persists a completed run (labeled trades, SCC catalog,
// member map, address clusters) so GET /api/v1/runs/:id can serve it
// after the process that computed it exits (§6 "Persistence, ambient,
// optional"). Adapted from the teacher's internal/db package.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/wash-trade-engine/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Store is a Postgres-backed persistence layer for completed runs.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping failed: %w", err)
	}
	log.Println("[storage] connected to Postgres")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded schema. Safe to call on every startup —
// every statement is a CREATE TABLE or CREATE INDEX ... IF NOT EXISTS.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("storage: applying schema: %w", err)
	}
	log.Println("[storage] schema initialized")
	return nil
}

// RunSummary is what GET /api/v1/runs/:id returns.
type RunSummary struct {
	RunID       string `json:"runId"`
	LabelCount  int    `json:"labelCount"`
	TradeCount  int    `json:"tradeCount"`
	SCCCount    int    `json:"sccCount"`
	CreatedUnix int64  `json:"createdUnix"`
}

// SaveRun persists one run's full output in a single transaction: the run
// header, every labeled trade, the SCC catalog, its member map, and the
// address cluster map. Persistence failure is logged by the caller and
// does not fail the run itself (§4.E, §6 "Persistence").
func (s *Store) SaveRun(ctx context.Context, runID string, createdUnix int64, trades []models.Trade, catalog []models.SCCRecord, clusters models.AddressClusterMap) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	labelCount := 0
	for _, t := range trades {
		if t.WashLabel {
			labelCount++
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (run_id, created_unix, trade_count, label_count, scc_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE
		SET trade_count = EXCLUDED.trade_count, label_count = EXCLUDED.label_count, scc_count = EXCLUDED.scc_count
	`, runID, createdUnix, len(trades), labelCount, len(catalog))
	if err != nil {
		return fmt.Errorf("storage: insert run: %w", err)
	}

	for _, t := range trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO labeled_trades (run_id, tx_id, ts, token, eth_buyer_id, eth_seller_id, amount_eth, amount_token, amount_usd, wash_label)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (run_id, tx_id) DO UPDATE SET wash_label = EXCLUDED.wash_label
		`, runID, t.TxID, t.Timestamp, t.Token, t.EthBuyerID, t.EthSellerID,
			t.AmountETH.String(), t.AmountToken.String(), t.AmountUSD.String(), t.WashLabel)
		if err != nil {
			return fmt.Errorf("storage: insert labeled trade %s: %w", t.TxID, err)
		}
	}

	for _, rec := range catalog {
		_, err = tx.Exec(ctx, `
			INSERT INTO scc_catalog (run_id, scc_hash, occurrence, num_traders)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (run_id, scc_hash) DO UPDATE SET occurrence = EXCLUDED.occurrence
		`, runID, rec.SCCHash, rec.Occurrence, rec.NumTraders)
		if err != nil {
			return fmt.Errorf("storage: insert scc_catalog %s: %w", rec.SCCHash, err)
		}
		for _, traderID := range rec.Members {
			_, err = tx.Exec(ctx, `
				INSERT INTO scc_members (run_id, scc_hash, trader_id)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, runID, rec.SCCHash, traderID)
			if err != nil {
				return fmt.Errorf("storage: insert scc_members %s/%d: %w", rec.SCCHash, traderID, err)
			}
		}
	}

	for sccHash, addrs := range clusters {
		for _, addr := range addrs {
			_, err = tx.Exec(ctx, `
				INSERT INTO address_clusters (run_id, scc_hash, address)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, runID, sccHash, addr)
			if err != nil {
				return fmt.Errorf("storage: insert address_clusters %s/%s: %w", sccHash, addr, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// GetRunSummary fetches a run's header row.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (RunSummary, error) {
	var out RunSummary
	out.RunID = runID
	err := s.pool.QueryRow(ctx, `
		SELECT created_unix, trade_count, label_count, scc_count FROM runs WHERE run_id = $1
	`, runID).Scan(&out.CreatedUnix, &out.TradeCount, &out.LabelCount, &out.SCCCount)
	if err != nil {
		return RunSummary{}, fmt.Errorf("storage: run %s not found: %w", runID, err)
	}
	return out, nil
}

// GetSCCCatalog fetches the persisted SCC catalog for a run.
func (s *Store) GetSCCCatalog(ctx context.Context, runID string) ([]models.SCCRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scc_hash, occurrence, num_traders FROM scc_catalog WHERE run_id = $1 ORDER BY occurrence DESC, scc_hash ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: query scc_catalog: %w", err)
	}
	defer rows.Close()

	var out []models.SCCRecord
	for rows.Next() {
		var rec models.SCCRecord
		if err := rows.Scan(&rec.SCCHash, &rec.Occurrence, &rec.NumTraders); err != nil {
			return nil, fmt.Errorf("storage: scan scc_catalog row: %w", err)
		}
		members, err := s.getMembers(ctx, runID, rec.SCCHash)
		if err != nil {
			return nil, err
		}
		rec.Members = members
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) getMembers(ctx context.Context, runID, sccHash string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trader_id FROM scc_members WHERE run_id = $1 AND scc_hash = $2 ORDER BY trader_id ASC
	`, runID, sccHash)
	if err != nil {
		return nil, fmt.Errorf("storage: query scc_members: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan scc_members row: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// GetAddressClusters fetches the persisted address cluster map for a run.
func (s *Store) GetAddressClusters(ctx context.Context, runID string) (models.AddressClusterMap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scc_hash, address FROM address_clusters WHERE run_id = $1 ORDER BY scc_hash ASC, address ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: query address_clusters: %w", err)
	}
	defer rows.Close()

	out := make(models.AddressClusterMap)
	for rows.Next() {
		var sccHash, addr string
		if err := rows.Scan(&sccHash, &addr); err != nil {
			return nil, fmt.Errorf("storage: scan address_clusters row: %w", err)
		}
		out[sccHash] = append(out[sccHash], addr)
	}
	return out, nil
}
