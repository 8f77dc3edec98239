package trajectory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/spaolacci/murmur3"
)

// TestsetSampler serves the stored picks of a pre-generated testset.
type TestsetSampler struct {
	testset models.Testset
}

var _ Sampler = (*TestsetSampler)(nil)

// NewTestsetSampler wraps a loaded testset.
func NewTestsetSampler(ts models.Testset) *TestsetSampler {
	return &TestsetSampler{testset: ts}
}

// Pick returns the stored picks for the listing. Callers must not modify the result.
func (s *TestsetSampler) Pick(listing models.ListingID) (*models.Picked, error) {
	picked, ok := s.testset[testsetKey(listing)]
	if !ok || picked == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListing, listing)
	}
	return picked, nil
}

// Listings returns the listing ids of the testset in sorted key order.
func (s *TestsetSampler) Listings() ([]models.ListingID, error) {
	keys := make([]models.ListingID, 0, len(s.testset))
	for k := range s.testset {
		id, err := models.ParseListingID(k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of listings in the testset.
func (s *TestsetSampler) Len() int {
	return len(s.testset)
}

// GenerateOptions configures testset generation.
type GenerateOptions struct {
	// Salt is mixed into every per-listing seed so different testsets drawn
	// from the same corpus are independent.
	Salt string
	// SkipShort drops listings with too few images instead of failing.
	SkipShort bool
}

// GenerateResult is the outcome of Generate.
type GenerateResult struct {
	Testset models.Testset
	Skipped []models.ListingID
}

// ListingSeed returns the deterministic seed used for a listing.
func ListingSeed(salt string, listing models.ListingID) uint64 {
	return murmur3.Sum64([]byte(salt + ":" + strconv.FormatInt(int64(listing), 10)))
}

// Generate draws one pick per listing from base, each with its own seeded
// generator, so regenerating with the same salt yields the same testset.
func Generate(ctx context.Context, base *CorpusSampler, listings []models.ListingID, opts GenerateOptions) (*GenerateResult, error) {
	res := &GenerateResult{Testset: make(models.Testset, len(listings))}
	for _, listing := range listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sampler := base.WithSource(random.Seeded(ListingSeed(opts.Salt, listing)))
		picked, err := sampler.Pick(listing)
		if err != nil {
			if opts.SkipShort && errors.Is(err, ErrNotEnoughImages) {
				res.Skipped = append(res.Skipped, listing)
				continue
			}
			return nil, fmt.Errorf("generate testset entry for listing %d: %w", listing, err)
		}
		res.Testset[testsetKey(listing)] = picked
	}
	return res, nil
}

func testsetKey(listing models.ListingID) string {
	return strconv.FormatInt(int64(listing), 10)
}
