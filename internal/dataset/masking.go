package dataset

import (
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tensor"
)

const (
	regionSelectProb = 0.15
	regionZeroProb   = 0.9

	tokenSelectProb  = 0.15
	tokenMaskProb    = 0.8
	tokenRandomProb  = 0.1
	ignoreTokenLabel = -1

	maxRandomTokenAttempts = 32
)

// Vocab is the tokenizer surface the token augmenter needs.
type Vocab interface {
	Mask() int64
	VocabSize() int
	IsSpecial(id int64) bool
}

// UniformTargets returns the placeholder region targets: 1/C everywhere and a
// zero targets mask.
func UniformTargets(probs *tensor.Float32, masks *tensor.Int64) (*tensor.Float32, *tensor.Int64) {
	classes := probs.Shape[len(probs.Shape)-1]
	targets := tensor.Full(float32(1)/float32(classes), probs.Shape...)
	return targets, tensor.New[int64](masks.Shape...)
}

// RandomizeRegions masks regions for masked-region modelling. features is
// [T, R, D], probs [T, R, C] and masks [T, R]. Each valid region is selected
// with probability 0.15; a selected region has its features zeroed with
// probability 0.9. Targets hold the original probabilities of selected regions
// and 1/C elsewhere. The inputs are not modified.
func RandomizeRegions(src random.Source, features, probs *tensor.Float32, masks *tensor.Int64) (out, targets *tensor.Float32, targetsMask *tensor.Int64) {
	out = features.Clone()
	targets, targetsMask = UniformTargets(probs, masks)

	featWidth := features.Shape[len(features.Shape)-1]
	classes := probs.Shape[len(probs.Shape)-1]
	for r, valid := range masks.Data {
		if valid <= 0 || src.Float64() >= regionSelectProb {
			continue
		}
		if src.Float64() < regionZeroProb {
			clear(out.Data[r*featWidth : (r+1)*featWidth])
		}
		copy(targets.Data[r*classes:(r+1)*classes], probs.Data[r*classes:(r+1)*classes])
		targetsMask.Data[r] = 1
	}
	return out, targets, targetsMask
}

// RandomizeTokens masks tokens for masked-language modelling. Each valid
// non-special token is selected with probability 0.15; of those 80% become
// [MASK], 10% a random non-special id and 10% stay unchanged. Targets hold the
// original id at selected positions and -1 elsewhere. The inputs are not modified.
func RandomizeTokens(src random.Source, vocab Vocab, tokens *tensor.Int64, mask *tensor.Bool) (out, targets *tensor.Int64) {
	out = tokens.Clone()
	targets = tensor.Full[int64](ignoreTokenLabel, tokens.Shape...)

	for i, id := range tokens.Data {
		if !mask.Data[i] || vocab.IsSpecial(id) || src.Float64() >= tokenSelectProb {
			continue
		}
		targets.Data[i] = id

		p := src.Float64()
		switch {
		case p < tokenMaskProb:
			out.Data[i] = vocab.Mask()
		case p < tokenMaskProb+tokenRandomProb:
			out.Data[i] = randomToken(src, vocab, id)
		}
	}
	return out, targets
}

// randomToken draws a non-special vocabulary id, keeping fallback when none is found.
func randomToken(src random.Source, vocab Vocab, fallback int64) int64 {
	for attempt := 0; attempt < maxRandomTokenAttempts; attempt++ {
		id := int64(src.IntN(vocab.VocabSize()))
		if !vocab.IsSpecial(id) {
			return id
		}
	}
	return fallback
}
