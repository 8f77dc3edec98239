// Package harness wires a workspace configuration into a ready-to-read
// dataset: corpus, vocabulary, feature store, sampler and assembler.
package harness

import (
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/vlnload/internal/config"
	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/kilupskalvis/vlnload/internal/instruction"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tokenizer"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
)

// Split names recorded in the run log.
const (
	SplitTrain = "train"
	SplitEval  = "eval"
)

// Options configures Open.
type Options struct {
	// SkipShort drops training listings with fewer than min_path_length photos
	// instead of letting the loader fail on them.
	SkipShort bool
	// Source defaults to the global generator.
	Source random.Source
	Logger *slog.Logger
}

// Harness owns the resources behind one dataset.
type Harness struct {
	Config    *config.Config
	Corpus    *corpus.Corpus
	Tokenizer *tokenizer.WordPiece
	Generator *instruction.Generator
	Sampler   trajectory.Sampler
	Dataset   *dataset.Dataset
	// Skipped lists training listings dropped by SkipShort.
	Skipped []models.ListingID

	store *features.Store
	cache *features.CachedReader
}

// Open loads everything the configuration points at. Training mode samples
// fresh trajectories from the caption corpus; evaluation mode serves the
// stored picks of the active testset.
func Open(cfg *config.Config, opts Options) (*Harness, error) {
	if opts.Source == nil {
		opts.Source = random.Global()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsOpts, err := cfg.DatasetOptions()
	if err != nil {
		return nil, err
	}

	h := &Harness{Config: cfg}
	if err := h.open(dsOpts, opts); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) open(dsOpts dataset.Options, opts Options) error {
	cfg := h.Config
	var err error

	h.Corpus, err = corpus.LoadCaptions(cfg.CaptionPath())
	if err != nil {
		return fmt.Errorf("load captions: %w", err)
	}

	h.Tokenizer, err = tokenizer.LoadVocabFile(cfg.Tokenizer.Vocab, tokenizer.Options{Lowercase: cfg.Tokenizer.Lowercase})
	if err != nil {
		return err
	}

	h.Generator, err = instruction.NewGenerator(cfg.Dataset.Builders, cfg.SeparatorList())
	if err != nil {
		return err
	}

	reader, err := h.openFeatures()
	if err != nil {
		return err
	}

	var listings []models.ListingID
	if cfg.Dataset.Training {
		sampler, err := NewCorpusSampler(cfg, h.Corpus, opts.Source)
		if err != nil {
			return err
		}
		listings = h.Corpus.ListingIDs()
		if opts.SkipShort {
			listings, h.Skipped = keepLongEnough(sampler, listings)
			if len(h.Skipped) > 0 {
				opts.Logger.Info("skipped short listings", "count", len(h.Skipped), "min_path_length", cfg.Dataset.MinPathLength)
			}
		}
		h.Sampler = sampler
	} else {
		path, err := cfg.EvalTestsetPath()
		if err != nil {
			return err
		}
		ts, err := corpus.LoadTestset(path)
		if err != nil {
			return fmt.Errorf("load testset: %w", err)
		}
		sampler := trajectory.NewTestsetSampler(ts)
		listings, err = sampler.Listings()
		if err != nil {
			return fmt.Errorf("testset %s: %w", path, err)
		}
		h.Sampler = sampler
	}

	h.Dataset, err = dataset.New(dsOpts, dataset.Deps{
		Listings:  listings,
		Sampler:   h.Sampler,
		Corpus:    h.Corpus,
		Generator: h.Generator,
		Tokenizer: h.Tokenizer,
		Features:  reader,
		Source:    opts.Source,
	})
	if err != nil {
		return err
	}

	opts.Logger.Debug("harness ready",
		"split", h.Split(),
		"listings", len(listings),
		"photos", h.Corpus.NumPhotos(),
		"policy", dsOpts.Policy.String(),
	)
	return nil
}

func (h *Harness) openFeatures() (features.Reader, error) {
	st, err := features.OpenStore(h.Config.FeatureStorePath(), features.StoreOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	h.store = st

	if h.Config.Features.CacheSize <= 0 {
		return st, nil
	}
	cache, err := features.NewCachedReader(st, int64(h.Config.Features.CacheSize))
	if err != nil {
		return nil, err
	}
	h.cache = cache
	return cache, nil
}

// NewCorpusSampler creates the training sampler described by cfg.
func NewCorpusSampler(cfg *config.Config, c *corpus.Corpus, src random.Source) (*trajectory.CorpusSampler, error) {
	return trajectory.NewCorpusSampler(c, cfg.SamplerOptions(), src)
}

func keepLongEnough(s *trajectory.CorpusSampler, listings []models.ListingID) (kept, skipped []models.ListingID) {
	kept = make([]models.ListingID, 0, len(listings))
	for _, id := range listings {
		if err := s.CheckEnoughImages(id); err != nil {
			skipped = append(skipped, id)
			continue
		}
		kept = append(kept, id)
	}
	return kept, skipped
}

// Split returns the run log split of the harness.
func (h *Harness) Split() string {
	if h.Config.Dataset.Training {
		return SplitTrain
	}
	return SplitEval
}

// FeatureInfo returns the layout of the opened feature store.
func (h *Harness) FeatureInfo() features.StoreInfo {
	if h.store == nil {
		return features.StoreInfo{}
	}
	return h.store.Info()
}

// Close releases the cache and the feature store.
func (h *Harness) Close() error {
	if h.cache != nil {
		h.cache.Close()
		h.cache = nil
	}
	if h.store != nil {
		err := h.store.Close()
		h.store = nil
		return err
	}
	return nil
}
