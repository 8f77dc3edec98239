// Package random defines the random source shared by the samplers, the
// instruction generators and the masking augmenters.
package random

import (
	"math/rand/v2"
	"sync"
)

// Source is the subset of *rand.Rand used by the loader. Implementations
// passed to concurrent workers must be safe for concurrent use; Global is.
type Source interface {
	Float64() float64
	IntN(n int) int
	Perm(n int) []int
	Shuffle(n int, swap func(i, j int))
}

var _ Source = (*rand.Rand)(nil)

type global struct{}

func (global) Float64() float64                   { return rand.Float64() }
func (global) IntN(n int) int                     { return rand.IntN(n) }
func (global) Perm(n int) []int                   { return rand.Perm(n) }
func (global) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Global returns the process-wide, goroutine-safe generator. It is seeded
// randomly at startup and cannot be reseeded.
func Global() Source {
	return global{}
}

// Seeded returns a deterministic, non-concurrent generator.
func Seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Locked serializes access to src so a seeded generator can be shared by
// concurrent workers. Draw order across workers is still scheduling dependent.
func Locked(src Source) Source {
	return &locked{src: src}
}

type locked struct {
	mu  sync.Mutex
	src Source
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Float64()
}

func (l *locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

func (l *locked) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Perm(n)
}

func (l *locked) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.src.Shuffle(n, swap)
}

// Choice returns a uniformly chosen element of items. It panics on empty input.
func Choice[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}
