package orchestrator

import (
	"fmt"
	"sort"

	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// partition is one (token, time-bin) slice of a single SCC×window pass,
// carrying indices into the orchestrator's working trade slice rather
// than copies (§9 "index-range views, not copies").
type partition struct {
	token    string
	binIndex int64
	indices  []int // original trade indices, already in timestamp order
}

// buildPartitions bins idxs — already sorted by timestamp ascending — into
// half-open windows of width w seconds covering [min, max] of their
// timestamps, then groups by (token, bin) per §4.D step 2b. The last bin
// is widened to also catch max_timestamp, so no trade is ever dropped for
// landing exactly on the final boundary.
func buildPartitions(trades []models.Trade, idxs []int, w int64) []partition {
	if len(idxs) == 0 || w <= 0 {
		return nil
	}

	minTS := trades[idxs[0]].Timestamp
	maxTS := trades[idxs[len(idxs)-1]].Timestamp
	for _, i := range idxs {
		if ts := trades[i].Timestamp; ts < minTS {
			minTS = ts
		} else if ts > maxTS {
			maxTS = ts
		}
	}

	lastBin := (maxTS - minTS) / w

	type key struct {
		token string
		bin   int64
	}
	grouped := make(map[key][]int)
	for _, i := range idxs {
		bin := (trades[i].Timestamp - minTS) / w
		if bin > lastBin {
			bin = lastBin
		}
		k := key{token: trades[i].Token, bin: bin}
		grouped[k] = append(grouped[k], i)
	}

	parts := make([]partition, 0, len(grouped))
	for k, indices := range grouped {
		parts = append(parts, partition{token: k.token, binIndex: k.bin, indices: indices})
	}
	// Deterministic iteration order for reproducible worker assignment and
	// test output, though the matching outcome is commutative regardless
	// (§5 "Ordering").
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].token != parts[j].token {
			return parts[i].token < parts[j].token
		}
		return parts[i].binIndex < parts[j].binIndex
	})
	return parts
}

func windowKey(w int64) string {
	return fmt.Sprintf("%d", w)
}
