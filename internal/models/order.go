package models

// Order label category keys, in the order the sampler emits them.
const (
	OrderNormal           = "normal_idx"
	OrderNegativeCaptions = "negative_captions_idx"
	OrderNegativeImages   = "negative_images_idx"
	OrderNegativeRandom   = "negative_random_idx"
)

// OrderCategory holds the candidate orderings of one label category.
// Each ordering indexes into the positive trajectory.
type OrderCategory struct {
	Key   string  `json:"key"`
	Paths [][]int `json:"paths"`
}

// OrderLabels is the ordered list of label categories for a sample.
type OrderLabels []OrderCategory

// Get returns the paths of the named category, or nil.
func (o OrderLabels) Get(key string) [][]int {
	for _, c := range o {
		if c.Key == key {
			return c.Paths
		}
	}
	return nil
}

// Identity returns the natural ordering 0..n-1.
func Identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
