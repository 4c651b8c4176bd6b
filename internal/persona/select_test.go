package persona

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect_BoundsAndNoDuplicates(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seenSizes := map[int]bool{}

	for range 500 {
		got := Select(rng, DefaultKeys, 2, 4)
		if len(got) < 2 || len(got) > 4 {
			t.Fatalf("len = %d, want in [2,4]", len(got))
		}
		seenSizes[len(got)] = true

		seen := map[string]bool{}
		for _, k := range got {
			if seen[k] {
				t.Fatalf("duplicate persona %q in %v", k, got)
			}
			if !slices.Contains(DefaultKeys, k) {
				t.Fatalf("unknown persona %q", k)
			}
			seen[k] = true
		}
	}
	for size := 2; size <= 4; size++ {
		assert.True(t, seenSizes[size], "size %d never drawn", size)
	}
}

func TestSelect_DoesNotMutateInput(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	Select(rand.New(rand.NewPCG(3, 4)), keys, 4, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

func TestSelect_ClampsBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	tests := []struct {
		name    string
		keys    []string
		lo, hi  int
		wantLen int
	}{
		{"max above pool", []string{"a", "b"}, 2, 9, 2},
		{"min above max", []string{"a", "b", "c"}, 3, 1, 1},
		{"negative", []string{"a"}, -2, -1, 0},
		{"empty pool", nil, 2, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Select(rng, tt.keys, tt.lo, tt.hi), tt.wantLen)
		})
	}
}

func TestSeededSelector_Reproducible(t *testing.T) {
	a := NewSeededSelector(2, 4, 42, 7)
	b := NewSeededSelector(2, 4, 42, 7)
	for range 20 {
		assert.Equal(t, a.Select(DefaultKeys), b.Select(DefaultKeys))
	}
}

func TestFixed(t *testing.T) {
	f := Fixed{"tech", "health"}
	got := f.Select(DefaultKeys)
	assert.Equal(t, []string{"tech", "health"}, got)

	got[0] = "x"
	assert.Equal(t, "tech", f[0])
}
