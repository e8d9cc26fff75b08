package graph

import (
	"context"
	"sort"
	"testing"
)

// S4 — Single-layer 3-cycle: A->B, B->C, C->A, each with weight 1, so one
// pass of peeling exhausts every edge and the SCC is recorded exactly once.
func TestExtractToken_S4_SingleLayerCycle(t *testing.T) {
	tt := TokenTrades{
		Token:     "tok",
		SellerIDs: []int64{1, 2, 3},
		BuyerIDs:  []int64{2, 3, 1},
	}

	r := ExtractToken(tt)

	if len(r.hashes) != 1 {
		t.Fatalf("expected exactly one SCC occurrence, got %d: %v", len(r.hashes), r.hashes)
	}
	members := r.members[r.hashes[0]]
	if !sameMembers(members, []int64{1, 2, 3}) {
		t.Fatalf("expected members {1,2,3}, got %v", members)
	}
}

// S5 — Multi-layer SCC: A->B x3, B->A x2. Layer 1 and 2 both see {A,B};
// layer 3 has B->A exhausted so the component collapses to 0/1-node — no SCC.
func TestExtractToken_S5_MultiLayer(t *testing.T) {
	tt := TokenTrades{
		Token:     "tok",
		SellerIDs: []int64{1, 1, 1, 2, 2},
		BuyerIDs:  []int64{2, 2, 2, 1, 1},
	}

	r := ExtractToken(tt)

	if len(r.hashes) != 2 {
		t.Fatalf("expected occurrence 2 for {A,B}, got %d: %v", len(r.hashes), r.hashes)
	}
	for _, h := range r.hashes {
		if !sameMembers(r.members[h], []int64{1, 2}) {
			t.Fatalf("expected every recorded hash to be {1,2}, got %v", r.members[h])
		}
	}
}

// S6 — Relevance threshold: {A,B} recurring once per token across 100
// tokens is relevant at T=100 but not at T=101.
func TestExtractAll_S6_RelevanceThreshold(t *testing.T) {
	tokens := make([]TokenTrades, 100)
	for i := range tokens {
		tokens[i] = TokenTrades{
			Token:     string(rune('a' + i%26)) + "-" + string(rune(i)),
			SellerIDs: []int64{1, 2},
			BuyerIDs:  []int64{2, 1},
		}
	}

	cat100, err := ExtractAll(context.Background(), tokens, 16, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat100.Relevant) != 1 {
		t.Fatalf("expected {1,2} relevant at T=100, got %d relevant records", len(cat100.Relevant))
	}

	cat101, err := ExtractAll(context.Background(), tokens, 16, 101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat101.Relevant) != 0 {
		t.Fatalf("expected no relevant SCCs at T=101, got %d", len(cat101.Relevant))
	}
}

// Hash determinism (§8 property 1): identical member sets produce
// identical scc_hash strings across repeated calls.
func TestHash_Determinism(t *testing.T) {
	members := []int64{3, 17, 42}
	h1 := Hash(members)
	h2 := Hash(members)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s != %s", h1, h2)
	}
	if h1 == "" {
		t.Fatal("expected non-empty hash")
	}
}

// SCC non-triviality (§8 property 2): every emitted SCC has >= 2 members.
func TestExtractToken_NonTriviality(t *testing.T) {
	tt := TokenTrades{
		Token:     "tok",
		SellerIDs: []int64{1, 2, 3},
		BuyerIDs:  []int64{2, 3, 4}, // a simple chain, no cycles
	}
	r := ExtractToken(tt)
	if len(r.hashes) != 0 {
		t.Fatalf("expected no SCCs for an acyclic chain, got %v", r.hashes)
	}
}

// Peeling monotonicity (§8 property 3): total edge weight strictly
// decreases across layers until termination.
func TestDigraph_PeelingMonotonicity(t *testing.T) {
	g := NewDigraph([]int64{1, 1, 1, 2, 2}, []int64{2, 2, 2, 1, 1})

	prev := g.TotalWeight()
	for g.NumNodes() > 0 {
		g.decrementAndPrune()
		cur := g.TotalWeight()
		if cur >= prev && prev != 0 {
			t.Fatalf("expected strictly decreasing weight, got %d -> %d", prev, cur)
		}
		prev = cur
		if cur == 0 {
			break
		}
	}
}

// Self-loop ignorance (§8 property 7): inserting self-trades leaves SCC
// output unchanged.
func TestExtractToken_SelfLoopIgnorance(t *testing.T) {
	base := TokenTrades{
		Token:     "tok",
		SellerIDs: []int64{1, 2, 3},
		BuyerIDs:  []int64{2, 3, 1},
	}
	withSelfLoop := TokenTrades{
		Token:     "tok",
		SellerIDs: []int64{1, 2, 3, 5},
		BuyerIDs:  []int64{2, 3, 1, 5},
	}

	r1 := ExtractToken(base)
	r2 := ExtractToken(withSelfLoop)

	if len(r1.hashes) != len(r2.hashes) {
		t.Fatalf("self-loop changed SCC output: %v vs %v", r1.hashes, r2.hashes)
	}
	for _, h := range r1.hashes {
		if !sameMembers(r1.members[h], r2.members[h]) {
			t.Fatalf("self-loop changed member set for hash %s", h)
		}
	}
}

// Empty-input safety (§8 property 6): an empty token slice yields no SCCs.
func TestExtractToken_Empty(t *testing.T) {
	r := ExtractToken(TokenTrades{Token: "tok"})
	if len(r.hashes) != 0 {
		t.Fatalf("expected no SCCs for empty input, got %v", r.hashes)
	}
}

// Run-to-run catalog stability (SPEC_FULL §8 supplement): re-running the
// engine twice on the same partition produces byte-identical occurrence maps.
func TestExtractAll_RunToRunStability(t *testing.T) {
	tokens := []TokenTrades{
		{Token: "a", SellerIDs: []int64{1, 2, 3, 1, 2, 3}, BuyerIDs: []int64{2, 3, 1, 2, 3, 1}},
		{Token: "b", SellerIDs: []int64{4, 5}, BuyerIDs: []int64{5, 4}},
	}

	cat1, err := ExtractAll(context.Background(), tokens, 16, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cat2, err := ExtractAll(context.Background(), tokens, 16, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cat1.Occurrence) != len(cat2.Occurrence) {
		t.Fatalf("occurrence map size differs across runs: %d vs %d", len(cat1.Occurrence), len(cat2.Occurrence))
	}
	for h, c := range cat1.Occurrence {
		if cat2.Occurrence[h] != c {
			t.Fatalf("occurrence for hash %s differs across runs: %d vs %d", h, c, cat2.Occurrence[h])
		}
	}
}

func sameMembers(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	g := append([]int64(nil), got...)
	w := append([]int64(nil), want...)
	sort.Slice(g, func(i, j int) bool { return g[i] < g[j] })
	sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
	for i := range g {
		if g[i] != w[i] {
			return false
		}
	}
	return true
}
