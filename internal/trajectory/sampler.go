// Package trajectory picks the positive trajectory of a listing and builds the
// caption, image and random negatives together with their order labels.
package trajectory

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
)

var (
	ErrNotEnoughImages   = errors.New("listing has too few images")
	ErrNotEnoughListings = errors.New("random negatives need at least two listings")
	ErrUnknownListing    = errors.New("listing not in testset")
)

// randomReplaceProb is the per-step probability of swapping in an unrelated photo.
const randomReplaceProb = 0.5

// Counts is the number of negatives built per category.
type Counts struct {
	Captions int `toml:"captions"`
	Images   int `toml:"images"`
	Random   int `toml:"random"`
}

// Total returns the number of negatives across categories.
func (c Counts) Total() int {
	return c.Captions + c.Images + c.Random
}

// Options configures trajectory sampling.
type Options struct {
	MinPathLength int
	MaxPathLength int
	Negatives     Counts
}

// Validate checks the path bounds and counts.
func (o Options) Validate() error {
	if o.MinPathLength < 1 {
		return fmt.Errorf("min path length must be at least 1, got %d", o.MinPathLength)
	}
	if o.MaxPathLength < o.MinPathLength {
		return fmt.Errorf("max path length %d is smaller than min path length %d", o.MaxPathLength, o.MinPathLength)
	}
	if o.Negatives.Captions < 0 || o.Negatives.Images < 0 || o.Negatives.Random < 0 {
		return fmt.Errorf("negative counts must not be negative: %+v", o.Negatives)
	}
	return nil
}

// Sampler produces the trajectories of one training or evaluation example.
type Sampler interface {
	Pick(listing models.ListingID) (*models.Picked, error)
}

// CorpusSampler draws fresh trajectories from a caption corpus on every call.
type CorpusSampler struct {
	corpus *corpus.Corpus
	opts   Options
	src    random.Source

	listings []models.ListingID
}

var _ Sampler = (*CorpusSampler)(nil)

// NewCorpusSampler creates a sampler over c.
func NewCorpusSampler(c *corpus.Corpus, opts Options, src random.Source) (*CorpusSampler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = random.Global()
	}
	return &CorpusSampler{corpus: c, opts: opts, src: src, listings: c.ListingIDs()}, nil
}

// WithSource returns a copy of the sampler drawing from src.
func (s *CorpusSampler) WithSource(src random.Source) *CorpusSampler {
	cp := *s
	cp.src = src
	return &cp
}

// CheckEnoughImages reports ErrNotEnoughImages when the listing cannot
// provide a trajectory of the minimum length.
func (s *CorpusSampler) CheckEnoughImages(listing models.ListingID) error {
	photos, err := s.corpus.Photos(listing)
	if err != nil {
		return err
	}
	if len(photos) < s.opts.MinPathLength {
		return fmt.Errorf("%w: listing %d has %d, need %d", ErrNotEnoughImages, listing, len(photos), s.opts.MinPathLength)
	}
	return nil
}

// Pick builds the positive trajectory, the negatives and the order labels.
func (s *CorpusSampler) Pick(listing models.ListingID) (*models.Picked, error) {
	if err := s.CheckEnoughImages(listing); err != nil {
		return nil, err
	}
	photos, _ := s.corpus.Photos(listing)

	maxLen := min(s.opts.MaxPathLength, len(photos))
	n := s.opts.MinPathLength + s.src.IntN(maxLen-s.opts.MinPathLength+1)
	positive := make(models.Trajectory, 0, n)
	for _, idx := range sortedSample(s.src, len(photos), n) {
		positive = append(positive, photos[idx])
	}

	picked := &models.Picked{ListingID: listing, Positive: positive}
	captionOrders := make([][]int, 0, s.opts.Negatives.Captions)
	imageOrders := make([][]int, 0, s.opts.Negatives.Images)
	randomOrders := make([][]int, 0, s.opts.Negatives.Random)

	for i := 0; i < s.opts.Negatives.Captions; i++ {
		order := ShuffleDifferent(s.src, n)
		captionOrders = append(captionOrders, order)
		picked.NegativeCaptions = append(picked.NegativeCaptions, positive.Permute(order))
	}

	for i := 0; i < s.opts.Negatives.Images; i++ {
		order := ShuffleNonAdjacent(s.src, n)
		imageOrders = append(imageOrders, order)
		picked.NegativeImages = append(picked.NegativeImages, positive.Permute(order))
	}

	for i := 0; i < s.opts.Negatives.Random; i++ {
		traj, err := s.randomNegative(listing, positive)
		if err != nil {
			return nil, err
		}
		randomOrders = append(randomOrders, models.Identity(n))
		picked.NegativeRandom = append(picked.NegativeRandom, traj)
	}

	picked.OrderLabels = models.OrderLabels{
		{Key: models.OrderNormal, Paths: [][]int{models.Identity(n)}},
		{Key: models.OrderNegativeCaptions, Paths: captionOrders},
		{Key: models.OrderNegativeImages, Paths: imageOrders},
		{Key: models.OrderNegativeRandom, Paths: randomOrders},
	}
	return picked, nil
}

// randomNegative replaces steps of the positive with photos drawn from other
// listings. At least one step is always replaced.
func (s *CorpusSampler) randomNegative(listing models.ListingID, positive models.Trajectory) (models.Trajectory, error) {
	if len(s.listings) < 2 {
		return nil, ErrNotEnoughListings
	}

	traj := positive.Clone()
	replaced := false
	for i := range traj {
		if s.src.Float64() < randomReplaceProb {
			traj[i] = s.unrelatedPhoto(listing)
			replaced = true
		}
	}
	if !replaced {
		traj[s.src.IntN(len(traj))] = s.unrelatedPhoto(listing)
	}
	return traj, nil
}

func (s *CorpusSampler) unrelatedPhoto(listing models.ListingID) models.PhotoID {
	for {
		other := random.Choice(s.src, s.listings)
		if other == listing {
			continue
		}
		photos, _ := s.corpus.Photos(other)
		return random.Choice(s.src, photos)
	}
}
