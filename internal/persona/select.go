package persona

import (
	"math/rand/v2"
	"sync"
)

// DefaultKeys are the built-in personas.
var DefaultKeys = []string{"tech", "health", "business", "culture"}

// Selector picks which personas answer a request.
type Selector interface {
	Select(keys []string) []string
}

// Select draws between lo and hi keys (inclusive) from keys without
// replacement, in random order. Bounds are clamped to [0, len(keys)].
func Select(rng *rand.Rand, keys []string, lo, hi int) []string {
	n := len(keys)
	hi = min(max(hi, 0), n)
	lo = min(max(lo, 0), hi)
	count := lo
	if hi > lo {
		count += rng.IntN(hi - lo + 1)
	}

	pool := make([]string, n)
	copy(pool, keys)
	// Partial Fisher-Yates: the first count slots become the sample.
	for i := 0; i < count; i++ {
		j := i + rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count:count]
}

// RandomSelector draws a uniformly random subset size in [Min, Max].
// Safe for concurrent use.
type RandomSelector struct {
	Min, Max int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector seeds from the runtime's random source.
func NewRandomSelector(lo, hi int) *RandomSelector {
	return NewSeededSelector(lo, hi, rand.Uint64(), rand.Uint64())
}

// NewSeededSelector gives reproducible selections for a fixed seed.
func NewSeededSelector(lo, hi int, seed1, seed2 uint64) *RandomSelector {
	return &RandomSelector{
		Min: lo,
		Max: hi,
		rng: rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *RandomSelector) Select(keys []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Select(s.rng, keys, s.Min, s.Max)
}

// Fixed always selects the given keys, in order. Used to pin selection.
type Fixed []string

func (f Fixed) Select([]string) []string {
	out := make([]string, len(f))
	copy(out, f)
	return out
}
