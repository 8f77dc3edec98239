package models

// Picked is the output of a trajectory sampler for one listing.
type Picked struct {
	ListingID        ListingID    `json:"listing_id"`
	Positive         Trajectory   `json:"positive"`
	NegativeCaptions []Trajectory `json:"negative_captions"`
	NegativeImages   []Trajectory `json:"negative_images"`
	NegativeRandom   []Trajectory `json:"negative_random"`
	OrderLabels      OrderLabels  `json:"order_labels"`
}

// NumNegatives returns the total number of negative trajectories.
func (p *Picked) NumNegatives() int {
	return len(p.NegativeCaptions) + len(p.NegativeImages) + len(p.NegativeRandom)
}

// AllNegatives returns every negative in caption, image, random order.
func (p *Picked) AllNegatives() []Trajectory {
	out := make([]Trajectory, 0, p.NumNegatives())
	out = append(out, p.NegativeCaptions...)
	out = append(out, p.NegativeImages...)
	out = append(out, p.NegativeRandom...)
	return out
}

// Testset maps a listing id (decimal string, as JSON object keys) to its stored picks.
type Testset map[string]*Picked
