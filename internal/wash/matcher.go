// Package wash implements component C (§4.C): given a contiguous,
// timestamp-ordered slice of trades already scoped to one SCC, one token,
// and one time window, it finds the longest prefix whose per-account net
// position is balanced within a margin of the window's mean trade amount.
package wash

import (
	"github.com/shopspring/decimal"
)

// Slice is one (SCC, token, window) partition handed to the matcher. Trades
// must already be sorted by timestamp ascending — the matcher does not
// re-sort; the orchestrator fills it from a timestamp-ordered partition.
type Slice struct {
	TxIDs   []string
	Buyers  []int64
	Sellers []int64
	Amounts []decimal.Decimal // token- or ETH-denominated per config.WashTradeUsesETHAmount
}

// Len returns the number of trades in the slice.
func (s Slice) Len() int { return len(s.TxIDs) }

// Detect runs the §4.C algorithm and returns the tx_ids of the longest
// balanced prefix: a forward scan accumulates running_sum and a per-account
// balance map over all n trades, then k descends from n, unwinding one
// trade at a time, until a balanced prefix is found or k reaches 0.
func Detect(s Slice, margin decimal.Decimal) []string {
	n := s.Len()
	if n == 0 {
		return nil
	}

	runningSum := decimal.Zero
	balance := make(map[int64]decimal.Decimal, n*2)

	for i := 0; i < n; i++ {
		runningSum = runningSum.Add(s.Amounts[i])
		balance[s.Buyers[i]] = balance[s.Buyers[i]].Add(s.Amounts[i])
		balance[s.Sellers[i]] = balance[s.Sellers[i]].Sub(s.Amounts[i])
	}

	for k := n; k >= 1; k-- {
		if balanced(runningSum, balance, k, margin) {
			return append([]string(nil), s.TxIDs[:k]...)
		}
		// Unwind trade k-1 (0-indexed) before checking prefix length k-1.
		i := k - 1
		runningSum = runningSum.Sub(s.Amounts[i])
		balance[s.Buyers[i]] = balance[s.Buyers[i]].Sub(s.Amounts[i])
		balance[s.Sellers[i]] = balance[s.Sellers[i]].Add(s.Amounts[i])
	}

	return nil
}

// balanced implements the §4.C criterion for a prefix of length k: every
// account's |balance| / mean must be <= margin, where mean = running_sum/k.
// When mean is zero, a prefix is balanced only if every balance is also
// exactly zero (§4.C "Numerical rules").
func balanced(runningSum decimal.Decimal, balance map[int64]decimal.Decimal, k int, margin decimal.Decimal) bool {
	if k <= 0 {
		return true // degenerate; unreachable from Detect since k starts >= 1
	}
	mean := runningSum.Div(decimal.NewFromInt(int64(k)))

	if mean.IsZero() {
		for _, b := range balance {
			if !b.IsZero() {
				return false
			}
		}
		return true
	}

	for _, b := range balance {
		normalized := b.Abs().Div(mean.Abs())
		if normalized.GreaterThan(margin) {
			return false
		}
	}
	return true
}
