package loader

import (
	"fmt"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
)

// Sampler yields the dataset indices of one epoch.
type Sampler interface {
	Indices() []int
	Len() int
}

// RandomSampler yields a fresh permutation of 0..n-1 on every epoch.
type RandomSampler struct {
	n   int
	src random.Source
}

// NewRandomSampler creates a random sampler over n indices.
func NewRandomSampler(n int, src random.Source) *RandomSampler {
	if src == nil {
		src = random.Global()
	}
	return &RandomSampler{n: n, src: src}
}

func (s *RandomSampler) Indices() []int { return s.src.Perm(s.n) }
func (s *RandomSampler) Len() int       { return s.n }

// SequentialSampler yields 0..n-1 in order.
type SequentialSampler struct {
	n int
}

// NewSequentialSampler creates a sequential sampler over n indices.
func NewSequentialSampler(n int) *SequentialSampler {
	return &SequentialSampler{n: n}
}

func (s *SequentialSampler) Indices() []int { return models.Identity(s.n) }
func (s *SequentialSampler) Len() int       { return s.n }

// Sampler kinds accepted by NewSampler.
const (
	SamplerRandom     = "random"
	SamplerSequential = "sequential"
)

// NewSampler creates a sampler by kind.
func NewSampler(kind string, n int, src random.Source) (Sampler, error) {
	switch kind {
	case SamplerRandom, "":
		return NewRandomSampler(n, src), nil
	case SamplerSequential:
		return NewSequentialSampler(n), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", kind)
	}
}

// plan splits the sampler's indices into batches.
func plan(s Sampler, batchSize int, dropLast bool) [][]int {
	indices := s.Indices()
	batches := make([][]int, 0, (len(indices)+batchSize-1)/batchSize)
	for start := 0; start < len(indices); start += batchSize {
		end := min(start+batchSize, len(indices))
		if end-start < batchSize && dropLast {
			break
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}

// numBatches returns the number of batches plan would produce for n indices.
func numBatches(n, batchSize int, dropLast bool) int {
	if dropLast {
		return n / batchSize
	}
	return (n + batchSize - 1) / batchSize
}
