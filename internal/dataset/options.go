// Package dataset assembles the model inputs of one listing: trajectories,
// instructions, region features, masking targets and ordering targets, packed
// into a named Sample record.
package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownNegativeStyle = errors.New("unknown negative style")
	ErrUnknownOrderDraw     = errors.New("unknown order draw")
	ErrIndexOutOfRange      = errors.New("sample index out of range")
)

// Negative styles accepted for the ranking task.
const (
	StyleNormal             = "normal"
	StyleShuffleInstruction = "shuffle_instruction"
)

// NegativePolicy decides, per negative category, whether a negative slot gets
// a freshly generated instruction or the positive one, and whether it uses its
// own visual features or the positive's.
type NegativePolicy int

const (
	// PolicyTrajJudge: every negative reuses the positive instruction and
	// fetches its own features.
	PolicyTrajJudge NegativePolicy = iota + 1
	// PolicyRankingNormal: caption negatives get new instructions over the
	// positive features; image and random negatives keep the positive
	// instruction over their own features.
	PolicyRankingNormal
	// PolicyRankingShuffleInstruction: like PolicyRankingNormal except image
	// negatives also get new instructions over the positive features.
	PolicyRankingShuffleInstruction
)

// ResolvePolicy maps the task flags onto a policy.
func ResolvePolicy(trajJudge bool, negativeStyle string) (NegativePolicy, error) {
	if trajJudge {
		return PolicyTrajJudge, nil
	}
	switch negativeStyle {
	case StyleNormal, "":
		return PolicyRankingNormal, nil
	case StyleShuffleInstruction:
		return PolicyRankingShuffleInstruction, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNegativeStyle, negativeStyle)
	}
}

func (p NegativePolicy) String() string {
	switch p {
	case PolicyTrajJudge:
		return "traj_judge"
	case PolicyRankingNormal:
		return "ranking/normal"
	case PolicyRankingShuffleInstruction:
		return "ranking/shuffle_instruction"
	default:
		return fmt.Sprintf("NegativePolicy(%d)", int(p))
	}
}

// slotKind describes how one negative slot is populated.
type slotKind struct {
	newInstruction bool
	ownFeatures    bool
}

var (
	reuseInstruction = slotKind{newInstruction: false, ownFeatures: true}
	reuseFeatures    = slotKind{newInstruction: true, ownFeatures: false}
)

// kinds returns the slot kind for caption, image and random negatives.
func (p NegativePolicy) kinds() (captions, images, random slotKind) {
	switch p {
	case PolicyTrajJudge:
		return reuseInstruction, reuseInstruction, reuseInstruction
	case PolicyRankingShuffleInstruction:
		return reuseFeatures, reuseFeatures, reuseInstruction
	default:
		return reuseFeatures, reuseInstruction, reuseInstruction
	}
}

// OrderDraw selects how the ordering decision value is drawn.
type OrderDraw string

const (
	// OrderDrawPerSample draws one value and reuses it for every path.
	OrderDrawPerSample OrderDraw = "per_sample"
	// OrderDrawPerPath draws an independent value per path.
	OrderDrawPerPath OrderDraw = "per_path"
	// OrderDrawFixed always uses 1, so every row is the natural order.
	OrderDrawFixed OrderDraw = "fixed"
)

// ParseOrderDraw validates an order draw name.
func ParseOrderDraw(s string) (OrderDraw, error) {
	switch d := OrderDraw(s); d {
	case OrderDrawPerSample, OrderDrawPerPath, OrderDrawFixed:
		return d, nil
	case "":
		return OrderDrawPerSample, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOrderDraw, s)
	}
}

// Options is the immutable assembly configuration. It is copied into the
// Dataset at construction.
type Options struct {
	MaxPathLength        int
	MaxNumBoxes          int
	MaxInstructionLength int
	Policy               NegativePolicy
	Training             bool
	MaskedVision         bool
	MaskedLanguage       bool
	OrderDraw            OrderDraw
}

// Validate checks that the shape parameters are usable.
func (o Options) Validate() error {
	if o.MaxPathLength < 1 {
		return fmt.Errorf("max path length must be positive, got %d", o.MaxPathLength)
	}
	if o.MaxNumBoxes < 1 {
		return fmt.Errorf("max num boxes must be positive, got %d", o.MaxNumBoxes)
	}
	if o.MaxInstructionLength < 2 {
		return fmt.Errorf("max instruction length must be at least 2, got %d", o.MaxInstructionLength)
	}
	if o.Policy < PolicyTrajJudge || o.Policy > PolicyRankingShuffleInstruction {
		return fmt.Errorf("invalid negative policy %v", o.Policy)
	}
	if _, err := ParseOrderDraw(string(o.OrderDraw)); err != nil {
		return err
	}
	return nil
}

// Regions returns max_path_length * max_num_boxes.
func (o Options) Regions() int {
	return o.MaxPathLength * o.MaxNumBoxes
}
