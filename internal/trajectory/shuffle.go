package trajectory

import (
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
)

const maxShuffleAttempts = 100

// isIdentity reports whether order is 0..n-1.
func isIdentity(order []int) bool {
	for i, v := range order {
		if v != i {
			return false
		}
	}
	return true
}

// ShuffleDifferent returns a permutation of 0..n-1 that differs from the
// identity. For n < 2 no such permutation exists and the identity is returned.
func ShuffleDifferent(src random.Source, n int) []int {
	if n < 2 {
		return models.Identity(n)
	}
	for attempt := 0; attempt < maxShuffleAttempts; attempt++ {
		p := src.Perm(n)
		if !isIdentity(p) {
			return p
		}
	}
	p := models.Identity(n)
	p[0], p[1] = p[1], p[0]
	return p
}

// keepsAdjacency reports whether two steps that were neighbours in the
// original order are still next to each other, in either direction.
func keepsAdjacency(order []int) bool {
	for i := 1; i < len(order); i++ {
		d := order[i] - order[i-1]
		if d == 1 || d == -1 {
			return true
		}
	}
	return false
}

// ShuffleNonAdjacent returns a permutation of 0..n-1 in which no two
// originally adjacent steps stay adjacent. Such permutations exist only for
// n >= 4 (or n == 1); otherwise it falls back to ShuffleDifferent.
func ShuffleNonAdjacent(src random.Source, n int) []int {
	if n >= 4 {
		for attempt := 0; attempt < maxShuffleAttempts; attempt++ {
			p := src.Perm(n)
			if !keepsAdjacency(p) {
				return p
			}
		}
	}
	return ShuffleDifferent(src, n)
}

// sortedSample returns k distinct indices from 0..n-1 in increasing order.
func sortedSample(src random.Source, n, k int) []int {
	chosen := make([]bool, n)
	for _, idx := range src.Perm(n)[:k] {
		chosen[idx] = true
	}
	out := make([]int, 0, k)
	for i, ok := range chosen {
		if ok {
			out = append(out, i)
		}
	}
	return out
}
