package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/tensor"
)

var ErrEmptyBatch = errors.New("cannot collate an empty batch")

// Batch is a stack of samples along a new leading batch axis N. Fields follow
// the sample field order.
type Batch struct {
	Step     int                `json:"step"`
	Indices  []int              `json:"indices"`
	Listings []models.ListingID `json:"listings"`

	RankingTarget              dataset.RankingTarget `json:"ranking_target"` // Label [N] or Slots [N, T]
	ImageFeatures              *tensor.Float32       `json:"image_features"`
	ImageBoxes                 *tensor.Float32       `json:"image_boxes"`
	ImageMasks                 *tensor.Int64         `json:"image_masks"`
	ImageTargets               *tensor.Float32       `json:"image_targets"`
	ImageTargetsMask           *tensor.Int64         `json:"image_targets_mask"`
	InstrTokens                *tensor.Int64         `json:"instr_tokens"`
	InstrMask                  *tensor.Bool          `json:"instr_mask"`
	InstrTargets               *tensor.Int64         `json:"instr_targets"`
	InstrHighlights            *tensor.Int64         `json:"instr_highlights"`
	SegmentIDs                 *tensor.Int64         `json:"segment_ids"`
	CoAttentionMask            *tensor.Int64         `json:"co_attention_mask"`
	ListingIDs                 *tensor.Int64         `json:"listing_ids"`
	OptMask                    *tensor.Bool          `json:"opt_mask"`
	OrderingTarget             *tensor.Int64         `json:"ordering_target"`
	OrderAttendedVisualFeature *tensor.Int64         `json:"order_attended_visual_feature"` // [N]

	// BuildTime is how long the worker took to assemble and collate the batch.
	BuildTime time.Duration `json:"-"`
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Indices)
}

// Collate stacks samples along a new leading axis. Every sample must have the
// same field shapes.
func Collate(samples []*dataset.Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyBatch
	}

	b := &Batch{}
	c := &collector{samples: samples}
	if samples[0].RankingTarget.Label != nil {
		b.RankingTarget.Label = collect(c, "ranking_target", func(s *dataset.Sample) *tensor.Int64 { return s.RankingTarget.Label })
	} else {
		b.RankingTarget.Slots = collect(c, "ranking_target", func(s *dataset.Sample) *tensor.Bool { return s.RankingTarget.Slots })
	}
	b.ImageFeatures = collect(c, "image_features", func(s *dataset.Sample) *tensor.Float32 { return s.ImageFeatures })
	b.ImageBoxes = collect(c, "image_boxes", func(s *dataset.Sample) *tensor.Float32 { return s.ImageBoxes })
	b.ImageMasks = collect(c, "image_masks", func(s *dataset.Sample) *tensor.Int64 { return s.ImageMasks })
	b.ImageTargets = collect(c, "image_targets", func(s *dataset.Sample) *tensor.Float32 { return s.ImageTargets })
	b.ImageTargetsMask = collect(c, "image_targets_mask", func(s *dataset.Sample) *tensor.Int64 { return s.ImageTargetsMask })
	b.InstrTokens = collect(c, "instr_tokens", func(s *dataset.Sample) *tensor.Int64 { return s.InstrTokens })
	b.InstrMask = collect(c, "instr_mask", func(s *dataset.Sample) *tensor.Bool { return s.InstrMask })
	b.InstrTargets = collect(c, "instr_targets", func(s *dataset.Sample) *tensor.Int64 { return s.InstrTargets })
	b.InstrHighlights = collect(c, "instr_highlights", func(s *dataset.Sample) *tensor.Int64 { return s.InstrHighlights })
	b.SegmentIDs = collect(c, "segment_ids", func(s *dataset.Sample) *tensor.Int64 { return s.SegmentIDs })
	b.CoAttentionMask = collect(c, "co_attention_mask", func(s *dataset.Sample) *tensor.Int64 { return s.CoAttentionMask })
	b.ListingIDs = collect(c, "listing_ids", func(s *dataset.Sample) *tensor.Int64 { return s.ListingIDs })
	b.OptMask = collect(c, "opt_mask", func(s *dataset.Sample) *tensor.Bool { return s.OptMask })
	b.OrderingTarget = collect(c, "ordering_target", func(s *dataset.Sample) *tensor.Int64 { return s.OrderingTarget })
	if c.err != nil {
		return nil, c.err
	}

	flags := make([]int64, len(samples))
	for i, s := range samples {
		flags[i] = int64(s.OrderAttendedVisualFeature)
	}
	b.OrderAttendedVisualFeature = tensor.FromSlice(flags, len(flags))
	return b, nil
}

// collector stacks fields one by one, keeping the first error.
type collector struct {
	samples []*dataset.Sample
	err     error
}

func collect[T tensor.Element](c *collector, name string, pick func(*dataset.Sample) *tensor.Dense[T]) *tensor.Dense[T] {
	if c.err != nil {
		return nil
	}
	out, err := stackField(name, c.samples, pick)
	c.err = err
	return out
}

func stackField[T tensor.Element](name string, samples []*dataset.Sample, pick func(*dataset.Sample) *tensor.Dense[T]) (*tensor.Dense[T], error) {
	parts := make([]*tensor.Dense[T], len(samples))
	for i, s := range samples {
		p := pick(s)
		if p == nil {
			return nil, fmt.Errorf("collate %s: sample %d has no value", name, i)
		}
		parts[i] = p
	}
	out, err := tensor.Stack(parts)
	if err != nil {
		return nil, fmt.Errorf("collate %s: %w", name, err)
	}
	return out, nil
}
