package metrics

import (
	"sort"

	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// AssignmentFromCatalog turns a trader-ID → scc_hash membership map into
// a trader-ID slice and a parallel integer-label slice suitable for
// AdjustedRandIndex and VariationOfInformation: traders are walked in
// ascending ID order so the label slices returned by two calls over the
// same trader set line up positionally.
func AssignmentFromCatalog(memberOf map[int64]string) (traderIDs []int64, labels []int) {
	traderIDs = make([]int64, 0, len(memberOf))
	for id := range memberOf {
		traderIDs = append(traderIDs, id)
	}
	sort.Slice(traderIDs, func(i, j int) bool { return traderIDs[i] < traderIDs[j] })

	hashIndex := make(map[string]int)
	labels = make([]int, len(traderIDs))
	for i, id := range traderIDs {
		h := memberOf[id]
		idx, ok := hashIndex[h]
		if !ok {
			idx = len(hashIndex)
			hashIndex[h] = idx
		}
		labels[i] = idx
	}
	return traderIDs, labels
}

// MembershipOf flattens a catalog's scc_hash → members map into a
// trader-ID → scc_hash lookup, assigning each trader to the
// highest-occurrence SCC it belongs to (traders in more than one relevant
// SCC are rare but possible; occurrence is the catalog's own ranking
// signal, so it doubles as the tie-break here).
func MembershipOf(records []models.SCCRecord) map[int64]string {
	best := make(map[int64]int)
	out := make(map[int64]string)
	for _, r := range records {
		for _, id := range r.Members {
			if cur, ok := best[id]; !ok || r.Occurrence > cur {
				best[id] = r.Occurrence
				out[id] = r.SCCHash
			}
		}
	}
	return out
}

// CompareAssignments scores how closely two trader→scc_hash partitions
// agree over their common trader IDs, via ARI and VI. Traders present in
// only one assignment are ignored — the metrics are only meaningful over
// the shared support.
func CompareAssignments(a, b map[int64]string) (ari, vi float64) {
	var common []int64
	for id := range a {
		if _, ok := b[id]; ok {
			common = append(common, id)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	if len(common) < 2 {
		return 0, 0
	}

	aIdx := make(map[string]int)
	bIdx := make(map[string]int)
	aLabels := make([]int, len(common))
	bLabels := make([]int, len(common))
	for i, id := range common {
		ah := a[id]
		if _, ok := aIdx[ah]; !ok {
			aIdx[ah] = len(aIdx)
		}
		aLabels[i] = aIdx[ah]

		bh := b[id]
		if _, ok := bIdx[bh]; !ok {
			bIdx[bh] = len(bIdx)
		}
		bLabels[i] = bIdx[bh]
	}

	return AdjustedRandIndex(aLabels, bLabels), VariationOfInformation(aLabels, bLabels)
}
