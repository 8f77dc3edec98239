package dataset

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/vlnload/internal/corpus"
	"github.com/kilupskalvis/vlnload/internal/features"
	"github.com/kilupskalvis/vlnload/internal/instruction"
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tensor"
	"github.com/kilupskalvis/vlnload/internal/trajectory"
)

// Tokenizer is the tokenizer surface sample assembly needs.
type Tokenizer interface {
	instruction.Tokenizer
	Vocab
}

// Deps are the collaborators of a Dataset. All of them must be safe for
// concurrent use when the dataset is read by several loader workers.
type Deps struct {
	Listings  []models.ListingID
	Sampler   trajectory.Sampler
	Corpus    *corpus.Corpus
	Generator *instruction.Generator
	Tokenizer Tokenizer
	Features  features.Reader
	// Source defaults to the global generator.
	Source random.Source
}

// Dataset builds one Sample per index over a fixed list of listings.
type Dataset struct {
	opts Options
	deps Deps
	dims features.Dims
}

// New validates opts and creates a dataset.
func New(opts Options, deps Deps) (*Dataset, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Sampler == nil || deps.Corpus == nil || deps.Generator == nil || deps.Tokenizer == nil || deps.Features == nil {
		return nil, errors.New("dataset: sampler, corpus, generator, tokenizer and features are required")
	}
	if deps.Source == nil {
		deps.Source = random.Global()
	}
	listings := make([]models.ListingID, len(deps.Listings))
	copy(listings, deps.Listings)
	deps.Listings = listings
	return &Dataset{opts: opts, deps: deps, dims: deps.Features.Dims()}, nil
}

// Options returns the dataset's assembly options.
func (d *Dataset) Options() Options {
	return d.opts
}

// Len returns the number of listings.
func (d *Dataset) Len() int {
	return len(d.deps.Listings)
}

// ListingID returns the listing at index.
func (d *Dataset) ListingID(index int) (models.ListingID, error) {
	if index < 0 || index >= len(d.deps.Listings) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(d.deps.Listings))
	}
	return d.deps.Listings[index], nil
}

// Get assembles the sample at index.
func (d *Dataset) Get(index int) (*Sample, error) {
	listing, err := d.ListingID(index)
	if err != nil {
		return nil, err
	}
	sample, _, err := d.Assemble(listing)
	return sample, err
}

// slot is one trajectory slot of a sample before stacking.
type slot struct {
	traj models.Trajectory
	kind slotKind
}

// Assemble builds the sample of one listing and the trace describing it.
func (d *Dataset) Assemble(listing models.ListingID) (*Sample, *Trace, error) {
	src := d.deps.Source
	picked, err := d.deps.Sampler.Pick(listing)
	if err != nil {
		return nil, nil, fmt.Errorf("pick trajectories for listing %d: %w", listing, err)
	}

	orderingTarget, orderFlag := BuildOrderingTarget(picked.OrderLabels, len(picked.Positive), d.opts.MaxPathLength, d.opts.OrderDraw, src)

	captionKind, imageKind, randomKind := d.opts.Policy.kinds()
	slots := make([]slot, 0, 1+picked.NumNegatives())
	slots = append(slots, slot{traj: picked.Positive, kind: slotKind{newInstruction: true, ownFeatures: true}})
	for _, traj := range picked.NegativeCaptions {
		slots = append(slots, slot{traj: traj, kind: captionKind})
	}
	for _, traj := range picked.NegativeImages {
		slots = append(slots, slot{traj: traj, kind: imageKind})
	}
	for _, traj := range picked.NegativeRandom {
		slots = append(slots, slot{traj: traj, kind: randomKind})
	}

	var (
		numTraj = len(slots)
		regions = d.opts.Regions()
		seqLen  = d.opts.MaxInstructionLength
	)
	imageFeatures := tensor.New[float32](numTraj, regions, d.dims.Feature)
	imageBoxes := tensor.New[float32](numTraj, regions, d.dims.Box)
	imageProbs := tensor.New[float32](numTraj, regions, d.dims.Prob)
	imageMasks := tensor.New[int64](numTraj, regions)
	instrTokens := tensor.New[int64](numTraj, seqLen)

	session := d.deps.Generator.NewSession(src)
	instructions := make([]string, numTraj)
	for i, s := range slots {
		if s.kind.newInstruction {
			captions, err := d.captions(s.traj)
			if err != nil {
				return nil, nil, fmt.Errorf("listing %d: %w", listing, err)
			}
			instructions[i] = session.Instruction(captions)
			copy(instrTokens.Row(i), instruction.Encode(d.deps.Tokenizer, instructions[i], seqLen))
		} else {
			instructions[i] = instructions[0]
			copy(instrTokens.Row(i), instrTokens.Row(0))
		}

		if s.kind.ownFeatures {
			err := d.mergeFeatures(s.traj, imageFeatures.Row(i), imageBoxes.Row(i), imageProbs.Row(i), imageMasks.Row(i))
			if err != nil {
				return nil, nil, fmt.Errorf("listing %d: %w", listing, err)
			}
		} else {
			copy(imageFeatures.Row(i), imageFeatures.Row(0))
			copy(imageBoxes.Row(i), imageBoxes.Row(0))
			copy(imageProbs.Row(i), imageProbs.Row(0))
			copy(imageMasks.Row(i), imageMasks.Row(0))
		}
	}

	instrMask := tensor.New[bool](instrTokens.Shape...)
	for i, id := range instrTokens.Data {
		instrMask.Data[i] = id > 0
	}

	sample := &Sample{
		ImageBoxes:                 imageBoxes,
		ImageMasks:                 imageMasks,
		InstrMask:                  instrMask,
		InstrHighlights:            tensor.New[int64](numTraj, 0),
		SegmentIDs:                 tensor.New[int64](numTraj, seqLen),
		CoAttentionMask:            tensor.New[int64](2, regions, seqLen),
		ListingIDs:                 tensor.FromSlice([]int64{int64(listing)}, 1),
		OptMask:                    tensor.Full(true, numTraj),
		OrderingTarget:             orderingTarget,
		OrderAttendedVisualFeature: orderFlag,
	}

	if d.opts.MaskedVision {
		sample.ImageFeatures, sample.ImageTargets, sample.ImageTargetsMask = RandomizeRegions(src, imageFeatures, imageProbs, imageMasks)
	} else {
		sample.ImageFeatures = imageFeatures
		sample.ImageTargets, sample.ImageTargetsMask = UniformTargets(imageProbs, imageMasks)
	}

	if d.opts.MaskedLanguage {
		sample.InstrTokens, sample.InstrTargets = RandomizeTokens(src, d.deps.Tokenizer, instrTokens, instrMask)
	} else {
		sample.InstrTokens = instrTokens
		sample.InstrTargets = tensor.Full[int64](ignoreTokenLabel, instrTokens.Shape...)
	}

	if d.opts.Training {
		sample.RankingTarget = RankingTarget{Label: tensor.Scalar[int64](0)}
	} else {
		slotsTarget := tensor.New[bool](numTraj)
		slotsTarget.Data[0] = true
		sample.RankingTarget = RankingTarget{Slots: slotsTarget}
	}

	trace := &Trace{
		ListingID:        listing,
		Builder:          session.BuilderName(),
		Policy:           d.opts.Policy.String(),
		Positive:         picked.Positive,
		NegativeCaptions: picked.NegativeCaptions,
		NegativeImages:   picked.NegativeImages,
		NegativeRandom:   picked.NegativeRandom,
		Instructions:     instructions,
		OrderFlag:        orderFlag,
	}
	return sample, trace, nil
}

func (d *Dataset) captions(traj models.Trajectory) ([]*models.Caption, error) {
	out := make([]*models.Caption, len(traj))
	for i, photo := range traj {
		c, err := d.deps.Corpus.Caption(photo)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// mergeFeatures writes the region data of traj into one trajectory slot. Step
// i occupies regions [i*B, i*B+min(n_i, B)) and takes the record's own region
// mask there; everything else stays zero. Steps beyond max_path_length are
// dropped.
func (d *Dataset) mergeFeatures(traj models.Trajectory, feats, boxes, probs []float32, masks []int64) error {
	maxBoxes := d.opts.MaxNumBoxes
	for step, photo := range traj {
		if step >= d.opts.MaxPathLength {
			break
		}
		rec, err := d.deps.Features.Lookup(string(photo))
		if err != nil {
			return err
		}

		n := min(rec.NumBoxes, maxBoxes)
		base := step * maxBoxes
		copy(feats[base*d.dims.Feature:], rec.Features[:n*d.dims.Feature])
		copy(boxes[base*d.dims.Box:], rec.Boxes[:n*d.dims.Box])
		copy(probs[base*d.dims.Prob:], rec.Probs[:n*d.dims.Prob])
		copy(masks[base:base+n], rec.Mask)
	}
	return nil
}
