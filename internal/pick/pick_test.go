package pick

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestIndexEmpty(t *testing.T) {
	if got := Index(seeded(1), nil, 100); got != -1 {
		t.Fatalf("Index(nil) = %d, want -1", got)
	}
}

func TestIndexSingle(t *testing.T) {
	for i := 0; i < 100; i++ {
		if got := Index(seeded(uint64(i)), []int{50}, 100); got != 0 {
			t.Fatalf("Index single = %d, want 0", got)
		}
	}
}

func TestIndexZeroWeightsUseDefault(t *testing.T) {
	// Two zero weights become def each; distribution should be near 50/50.
	rng := seeded(42)
	counts := [2]int{}
	for i := 0; i < 10000; i++ {
		counts[Index(rng, []int{0, 0}, 100)]++
	}
	if counts[0] < 4500 || counts[0] > 5500 {
		t.Fatalf("zero-weight split %v not near even", counts)
	}
}

func TestIndexProportional(t *testing.T) {
	// Weights 1:3 should converge to 25%/75%.
	rng := seeded(7)
	weights := []int{1, 3}
	counts := [2]int{}
	n := 40000
	for i := 0; i < n; i++ {
		counts[Index(rng, weights, 1)]++
	}
	got := float64(counts[1]) / float64(n)
	if math.Abs(got-0.75) > 0.02 {
		t.Fatalf("weight-3 frequency = %.3f, want ~0.75", got)
	}
}

func TestIndexTieBreakFirstAppearance(t *testing.T) {
	// For a fixed draw the first bucket whose bound exceeds it wins: with
	// equal weights of 100, draws 0-99 pick index 0, 100-199 index 1, and
	// 200-299 index 2. Index draws once with IntN(total), so an identically
	// seeded rng reproduces its draw.
	for i := 0; i < 50; i++ {
		draw := seeded(uint64(i)).IntN(300)
		r1 := seeded(uint64(i))
		r2 := seeded(uint64(i))
		a := Index(r1, []int{100, 100, 100}, 100)
		b := Index(r2, []int{100, 100, 100}, 100)
		if a != b {
			t.Fatalf("same seed produced different picks: %d vs %d", a, b)
		}
		if want := draw / 100; a != want {
			t.Fatalf("draw %d picked index %d, want %d", draw, a, want)
		}
	}
}

func TestIndexDistributionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("empirical frequency tracks weight share", prop.ForAll(
		func(weights []int) bool {
			rng := seeded(99)
			total := 0
			for _, w := range weights {
				total += w
			}
			counts := make([]int, len(weights))
			n := 20000
			for i := 0; i < n; i++ {
				counts[Index(rng, weights, 1)]++
			}
			for i, w := range weights {
				want := float64(w) / float64(total)
				got := float64(counts[i]) / float64(n)
				if math.Abs(got-want) > 0.03 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.IntRange(1, 20)),
	))

	properties.TestingRun(t)
}

func TestIndexDefaultCoversAll(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		seen[IndexDefault([]int{1, 1, 1}, 1)] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Fatalf("index %d never selected", i)
		}
	}
}
