package trajectory

import (
	"context"
	"testing"

	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorpus(photosPerListing map[models.ListingID]int) *corpus.Corpus {
	var captions []*models.Caption
	for _, listing := range []models.ListingID{1, 2, 3, 4} {
		n, ok := photosPerListing[listing]
		if !ok {
			continue
		}
		for p := 0; p < n; p++ {
			captions = append(captions, &models.Caption{ListingID: listing, Photo: int64(p), Text: "a room"})
		}
	}
	return corpus.New(captions)
}

func defaultOptions() Options {
	return Options{
		MinPathLength: 4,
		MaxPathLength: 7,
		Negatives:     Counts{Captions: 2, Images: 1, Random: 1},
	}
}

// ==================== Shuffle Tests ====================

func TestShuffleDifferent_NeverIdentity(t *testing.T) {
	src := random.Seeded(1)
	for n := 2; n <= 6; n++ {
		for i := 0; i < 50; i++ {
			p := ShuffleDifferent(src, n)
			assert.Len(t, p, n)
			assert.False(t, isIdentity(p), "n=%d produced identity", n)
			assert.ElementsMatch(t, models.Identity(n), p)
		}
	}
}

func TestShuffleDifferent_SingleStep(t *testing.T) {
	assert.Equal(t, []int{0}, ShuffleDifferent(random.Seeded(1), 1))
}

func TestShuffleNonAdjacent(t *testing.T) {
	src := random.Seeded(2)
	for n := 4; n <= 7; n++ {
		for i := 0; i < 50; i++ {
			p := ShuffleNonAdjacent(src, n)
			assert.False(t, keepsAdjacency(p), "n=%d kept adjacency: %v", n, p)
			assert.ElementsMatch(t, models.Identity(n), p)
		}
	}
}

func TestShuffleNonAdjacent_FallsBackForShortPaths(t *testing.T) {
	p := ShuffleNonAdjacent(random.Seeded(3), 3)
	assert.False(t, isIdentity(p))
}

// ==================== CorpusSampler Tests ====================

func TestPick_PositiveIsOrderedSubset(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 10, 2: 5})
	s, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(4))
	require.NoError(t, err)

	photos, err := c.Photos(1)
	require.NoError(t, err)
	position := map[models.PhotoID]int{}
	for i, p := range photos {
		position[p] = i
	}

	for i := 0; i < 30; i++ {
		picked, err := s.Pick(1)
		require.NoError(t, err)

		n := len(picked.Positive)
		assert.GreaterOrEqual(t, n, 4)
		assert.LessOrEqual(t, n, 7)
		for j := 1; j < n; j++ {
			assert.Less(t, position[picked.Positive[j-1]], position[picked.Positive[j]])
		}
	}
}

func TestPick_NegativesAndOrderLabels(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 6, 2: 6})
	s, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(5))
	require.NoError(t, err)

	picked, err := s.Pick(1)
	require.NoError(t, err)

	assert.Len(t, picked.NegativeCaptions, 2)
	assert.Len(t, picked.NegativeImages, 1)
	assert.Len(t, picked.NegativeRandom, 1)
	assert.Equal(t, 4, picked.NumNegatives())

	require.Len(t, picked.OrderLabels, 4)
	assert.Equal(t, models.OrderNormal, picked.OrderLabels[0].Key)
	assert.Equal(t, models.OrderNegativeCaptions, picked.OrderLabels[1].Key)
	assert.Equal(t, models.OrderNegativeImages, picked.OrderLabels[2].Key)
	assert.Equal(t, models.OrderNegativeRandom, picked.OrderLabels[3].Key)

	n := len(picked.Positive)
	for i, order := range picked.OrderLabels.Get(models.OrderNegativeCaptions) {
		assert.Equal(t, picked.Positive.Permute(order), picked.NegativeCaptions[i])
		assert.False(t, picked.NegativeCaptions[i].Equal(picked.Positive))
	}
	for _, order := range picked.OrderLabels.Get(models.OrderNegativeRandom) {
		assert.Equal(t, models.Identity(n), order)
	}
}

func TestPick_RandomNegativeUsesOtherListings(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 5, 2: 5, 3: 5})
	opts := defaultOptions()
	opts.Negatives = Counts{Random: 3}
	s, err := NewCorpusSampler(c, opts, random.Seeded(6))
	require.NoError(t, err)

	own, err := c.Photos(1)
	require.NoError(t, err)
	ownSet := map[models.PhotoID]bool{}
	for _, p := range own {
		ownSet[p] = true
	}

	for i := 0; i < 20; i++ {
		picked, err := s.Pick(1)
		require.NoError(t, err)
		for _, neg := range picked.NegativeRandom {
			require.Len(t, neg, len(picked.Positive))
			foreign := 0
			for j, p := range neg {
				if !ownSet[p] {
					foreign++
				} else {
					assert.Equal(t, picked.Positive[j], p)
				}
			}
			assert.Greater(t, foreign, 0)
		}
	}
}

func TestPick_NotEnoughImages(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 3, 2: 6})
	s, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(7))
	require.NoError(t, err)

	_, err = s.Pick(1)
	assert.ErrorIs(t, err, ErrNotEnoughImages)

	_, err = s.Pick(99)
	assert.ErrorIs(t, err, corpus.ErrUnknownListing)
}

func TestPick_RandomNeedsTwoListings(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 6})
	s, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(8))
	require.NoError(t, err)

	_, err = s.Pick(1)
	assert.ErrorIs(t, err, ErrNotEnoughListings)
}

func TestOptions_Validate(t *testing.T) {
	assert.Error(t, Options{MinPathLength: 0, MaxPathLength: 3}.Validate())
	assert.Error(t, Options{MinPathLength: 4, MaxPathLength: 3}.Validate())
	assert.Error(t, Options{MinPathLength: 1, MaxPathLength: 3, Negatives: Counts{Images: -1}}.Validate())
	assert.NoError(t, defaultOptions().Validate())
}

// ==================== Testset Tests ====================

func TestGenerate_Reproducible(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 8, 2: 8, 3: 2})
	base, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(9))
	require.NoError(t, err)

	opts := GenerateOptions{Salt: "eval", SkipShort: true}
	first, err := Generate(context.Background(), base, c.ListingIDs(), opts)
	require.NoError(t, err)
	second, err := Generate(context.Background(), base, c.ListingIDs(), opts)
	require.NoError(t, err)

	assert.Equal(t, first.Testset, second.Testset)
	assert.Equal(t, []models.ListingID{3}, first.Skipped)
	assert.Len(t, first.Testset, 2)
}

func TestGenerate_FailsOnShortListingWithoutSkip(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 8, 3: 2})
	base, err := NewCorpusSampler(c, defaultOptions(), random.Seeded(10))
	require.NoError(t, err)

	_, err = Generate(context.Background(), base, c.ListingIDs(), GenerateOptions{})
	assert.ErrorIs(t, err, ErrNotEnoughImages)
}

func TestGenerate_Cancelled(t *testing.T) {
	c := newTestCorpus(map[models.ListingID]int{1: 8, 2: 8})
	base, err := NewCorpusSampler(c, defaultOptions(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Generate(ctx, base, c.ListingIDs(), GenerateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTestsetSampler(t *testing.T) {
	ts := models.Testset{
		"2": {ListingID: 2, Positive: models.Trajectory{"2-0", "2-1"}},
		"1": {ListingID: 1, Positive: models.Trajectory{"1-0"}},
	}
	s := NewTestsetSampler(ts)

	picked, err := s.Pick(2)
	require.NoError(t, err)
	assert.Equal(t, models.Trajectory{"2-0", "2-1"}, picked.Positive)

	_, err = s.Pick(5)
	assert.ErrorIs(t, err, ErrUnknownListing)

	ids, err := s.Listings()
	require.NoError(t, err)
	assert.Equal(t, []models.ListingID{1, 2}, ids)
	assert.Equal(t, 2, s.Len())
}

func TestListingSeed_DependsOnSalt(t *testing.T) {
	assert.Equal(t, ListingSeed("a", 1), ListingSeed("a", 1))
	assert.NotEqual(t, ListingSeed("a", 1), ListingSeed("b", 1))
	assert.NotEqual(t, ListingSeed("a", 1), ListingSeed("a", 2))
}
