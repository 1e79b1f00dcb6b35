// Package pick implements weight-proportional random selection.
//
// Selection over n candidates with weights w_i picks index i with
// probability w_i / Σw_j. Ties and equal prefixes resolve to the earliest
// index for a fixed draw: the cumulative scan returns the first bucket
// whose upper bound exceeds the draw, which is a documented contract.
package pick

import (
	"math/rand/v2"
	"sync"
)

var rngPool = sync.Pool{
	New: func() any {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	},
}

// Index picks an index proportionally to weights using rng. Non-positive
// weights are treated as the given def (callers pass 100 for rules, 1 for
// destinations). Returns -1 when weights is empty.
func Index(rng *rand.Rand, weights []int, def int) int {
	if len(weights) == 0 {
		return -1
	}
	total := 0
	for _, w := range weights {
		total += normalize(w, def)
	}
	if total <= 0 {
		return 0
	}
	draw := rng.IntN(total)
	acc := 0
	for i, w := range weights {
		acc += normalize(w, def)
		if draw < acc {
			return i
		}
	}
	return len(weights) - 1
}

// IndexDefault picks with a pooled process RNG.
func IndexDefault(weights []int, def int) int {
	rng := rngPool.Get().(*rand.Rand)
	defer rngPool.Put(rng)
	return Index(rng, weights, def)
}

func normalize(w, def int) int {
	if w <= 0 {
		return def
	}
	return w
}
