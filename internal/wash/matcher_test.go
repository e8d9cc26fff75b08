package wash

import (
	"testing"

	"github.com/shopspring/decimal"
)

const (
	traderA int64 = 1
	traderB int64 = 2
)

func amounts(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

var margin = decimal.NewFromFloat(0.1)

// S1 — Trivial balanced pair: (A sells->B, 100), (B sells->A, 100).
func TestDetect_S1_TrivialBalancedPair(t *testing.T) {
	s := Slice{
		TxIDs:   []string{"tx1", "tx2"},
		Sellers: []int64{traderA, traderB},
		Buyers:  []int64{traderB, traderA},
		Amounts: amounts(100, 100),
	}

	got := Detect(s, margin)
	if len(got) != 2 || got[0] != "tx1" || got[1] != "tx2" {
		t.Fatalf("expected both trades labeled wash, got %v", got)
	}
}

// S2 — Unbalanced suffix, balanced prefix: (A->B,100), (B->A,100), (A->B,50).
func TestDetect_S2_BalancedPrefixUnbalancedSuffix(t *testing.T) {
	s := Slice{
		TxIDs:   []string{"tx1", "tx2", "tx3"},
		Sellers: []int64{traderA, traderB, traderA},
		Buyers:  []int64{traderB, traderA, traderB},
		Amounts: amounts(100, 100, 50),
	}

	got := Detect(s, margin)
	if len(got) != 2 || got[0] != "tx1" || got[1] != "tx2" {
		t.Fatalf("expected the first two trades labeled wash, third excluded; got %v", got)
	}
}

// S3 — No balanced prefix: (A->B,100), (A->B,100).
func TestDetect_S3_NoBalancedPrefix(t *testing.T) {
	s := Slice{
		TxIDs:   []string{"tx1", "tx2"},
		Sellers: []int64{traderA, traderA},
		Buyers:  []int64{traderB, traderB},
		Amounts: amounts(100, 100),
	}

	got := Detect(s, margin)
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %v", got)
	}
}

// Empty-input safety (§8 property 6).
func TestDetect_EmptySlice(t *testing.T) {
	got := Detect(Slice{}, margin)
	if len(got) != 0 {
		t.Fatalf("expected empty output for empty slice, got %v", got)
	}
}

// Wash-prefix correctness (§8 property 5): the returned prefix of length k
// is balanced, and the prefix of length k+1 (when k<n) is not.
func TestDetect_PrefixCorrectness(t *testing.T) {
	s := Slice{
		TxIDs:   []string{"tx1", "tx2", "tx3", "tx4"},
		Sellers: []int64{traderA, traderB, traderA, traderB},
		Buyers:  []int64{traderB, traderA, traderB, traderA},
		Amounts: amounts(100, 100, 10, 500),
	}

	got := Detect(s, margin)
	k := len(got)
	if k == 0 {
		t.Fatal("expected a non-empty balanced prefix")
	}

	if !prefixBalanced(s, k, margin) {
		t.Fatalf("returned prefix of length %d is not balanced", k)
	}
	if k < s.Len() && prefixBalanced(s, k+1, margin) {
		t.Fatalf("prefix of length %d should not be balanced if %d was the maximal prefix", k+1, k)
	}
}

// prefixBalanced recomputes the §4.C criterion directly from a fresh scan,
// independent of Detect's incremental bookkeeping, as a cross-check.
func prefixBalanced(s Slice, k int, margin decimal.Decimal) bool {
	sum := decimal.Zero
	bal := make(map[int64]decimal.Decimal)
	for i := 0; i < k; i++ {
		sum = sum.Add(s.Amounts[i])
		bal[s.Buyers[i]] = bal[s.Buyers[i]].Add(s.Amounts[i])
		bal[s.Sellers[i]] = bal[s.Sellers[i]].Sub(s.Amounts[i])
	}
	mean := sum.Div(decimal.NewFromInt(int64(k)))
	if mean.IsZero() {
		for _, b := range bal {
			if !b.IsZero() {
				return false
			}
		}
		return true
	}
	for _, b := range bal {
		if b.Abs().Div(mean.Abs()).GreaterThan(margin) {
			return false
		}
	}
	return true
}
