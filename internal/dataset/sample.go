package dataset

import (
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/tensor"
)

// RankingTarget is the ranking label of a sample. In training only Label is
// set (the scalar 0, the positive is always slot 0); in evaluation only Slots
// is set, a [T] vector that is true at index 0.
type RankingTarget struct {
	Label *tensor.Int64 `json:"label,omitempty"`
	Slots *tensor.Bool  `json:"slots,omitempty"`
}

// Shape returns the shape of whichever form is set.
func (r RankingTarget) Shape() []int {
	if r.Slots != nil {
		return r.Slots.Shape
	}
	if r.Label != nil {
		return r.Label.Shape
	}
	return nil
}

// Sample is the model input of one listing. Field order is the order the
// model runtime consumes; T is the number of trajectories (1 + negatives),
// L max_path_length, B max_num_boxes and I max_instruction_length.
type Sample struct {
	RankingTarget              RankingTarget   `json:"ranking_target"`
	ImageFeatures              *tensor.Float32 `json:"image_features"`     // [T, L*B, D]
	ImageBoxes                 *tensor.Float32 `json:"image_boxes"`        // [T, L*B, K]
	ImageMasks                 *tensor.Int64   `json:"image_masks"`        // [T, L*B]
	ImageTargets               *tensor.Float32 `json:"image_targets"`      // [T, L*B, C]
	ImageTargetsMask           *tensor.Int64   `json:"image_targets_mask"` // [T, L*B]
	InstrTokens                *tensor.Int64   `json:"instr_tokens"`       // [T, I]
	InstrMask                  *tensor.Bool    `json:"instr_mask"`         // [T, I]
	InstrTargets               *tensor.Int64   `json:"instr_targets"`      // [T, I]
	InstrHighlights            *tensor.Int64   `json:"instr_highlights"`   // [T, 0]
	SegmentIDs                 *tensor.Int64   `json:"segment_ids"`        // [T, I]
	CoAttentionMask            *tensor.Int64   `json:"co_attention_mask"`  // [2, L*B, I]
	ListingIDs                 *tensor.Int64   `json:"listing_ids"`        // [1]
	OptMask                    *tensor.Bool    `json:"opt_mask"`           // [T]
	OrderingTarget             *tensor.Int64   `json:"ordering_target"`    // [R, L]
	OrderAttendedVisualFeature int             `json:"order_attended_visual_feature"`
}

// FieldNames lists the sample fields in consumption order.
var FieldNames = []string{
	"ranking_target",
	"image_features",
	"image_boxes",
	"image_masks",
	"image_targets",
	"image_targets_mask",
	"instr_tokens",
	"instr_mask",
	"instr_targets",
	"instr_highlights",
	"segment_ids",
	"co_attention_mask",
	"listing_ids",
	"opt_mask",
	"ordering_target",
	"order_attended_visual_feature",
}

// FieldShape names the shape of one sample field.
type FieldShape struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Shapes returns the shape of every field in consumption order. The
// orientation flag is a plain integer and has an empty shape.
func (s *Sample) Shapes() []FieldShape {
	shapes := [][]int{
		s.RankingTarget.Shape(),
		s.ImageFeatures.Shape,
		s.ImageBoxes.Shape,
		s.ImageMasks.Shape,
		s.ImageTargets.Shape,
		s.ImageTargetsMask.Shape,
		s.InstrTokens.Shape,
		s.InstrMask.Shape,
		s.InstrTargets.Shape,
		s.InstrHighlights.Shape,
		s.SegmentIDs.Shape,
		s.CoAttentionMask.Shape,
		s.ListingIDs.Shape,
		s.OptMask.Shape,
		s.OrderingTarget.Shape,
		{},
	}
	out := make([]FieldShape, len(FieldNames))
	for i, name := range FieldNames {
		out[i] = FieldShape{Name: name, Shape: shapes[i]}
	}
	return out
}

// NumTrajectories returns T.
func (s *Sample) NumTrajectories() int {
	return s.ImageFeatures.Dim(0)
}

// Trace records how a sample was built, for visualisation. It is not part of
// the model input.
type Trace struct {
	ListingID        models.ListingID    `json:"listing_id"`
	Builder          string              `json:"builder"`
	Policy           string              `json:"policy"`
	Positive         models.Trajectory   `json:"positive"`
	NegativeCaptions []models.Trajectory `json:"negative_captions"`
	NegativeImages   []models.Trajectory `json:"negative_images"`
	NegativeRandom   []models.Trajectory `json:"negative_random"`
	Instructions     []string            `json:"instructions"`
	OrderFlag        int                 `json:"order_flag"`
}
