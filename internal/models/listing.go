// Package models defines the core data structures used throughout vlnload
// including listings, captions, trajectories and order labels.
package models

import (
	"fmt"
	"strconv"
)

// ListingID identifies a listing (a place with an ordered sequence of photos).
type ListingID int64

// PhotoID identifies a photo across the corpus. It is also the photo's key in
// the feature store.
type PhotoID string

// Trajectory is an ordered sequence of photo ids through a listing.
type Trajectory []PhotoID

// Clone returns a copy of the trajectory.
func (t Trajectory) Clone() Trajectory {
	out := make(Trajectory, len(t))
	copy(out, t)
	return out
}

// Permute returns the trajectory reordered by the given index ordering.
func (t Trajectory) Permute(order []int) Trajectory {
	out := make(Trajectory, len(order))
	for i, idx := range order {
		out[i] = t[idx]
	}
	return out
}

// Equal reports whether two trajectories hold the same photos in the same order.
func (t Trajectory) Equal(other Trajectory) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseListingID parses a decimal listing id.
func ParseListingID(s string) (ListingID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid listing id %q: %w", s, err)
	}
	return ListingID(v), nil
}

// MakePhotoID returns the default photo id for a photo number within a listing.
func MakePhotoID(listing ListingID, photo int64) PhotoID {
	return PhotoID(fmt.Sprintf("%d-%d", listing, photo))
}

// Caption is one captioned photo as stored in the corpus files
type Caption struct {
	ListingID   ListingID `json:"listing_id"`
	Photo       int64     `json:"photo_id"`
	Text        string    `json:"instruction"`
	NounPhrases []string  `json:"np,omitempty"`
	Key         string    `json:"key,omitempty"` // explicit feature key, overrides the default id
}

// ID returns the corpus-wide photo id of this caption.
func (c *Caption) ID() PhotoID {
	if c.Key != "" {
		return PhotoID(c.Key)
	}
	return MakePhotoID(c.ListingID, c.Photo)
}
