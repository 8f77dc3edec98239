// Package corpus loads the on-disk caption and testset files. Files are read
// wholesale at dataset construction; nothing is streamed.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kilupskalvis/vlnload/internal/models"
)

var (
	ErrUnknownListing = errors.New("unknown listing")
	ErrUnknownPhoto   = errors.New("unknown photo")
)

// Corpus indexes captions by listing, preserving each listing's photo order
// as it appears in the caption file.
type Corpus struct {
	listings []models.ListingID
	photos   map[models.ListingID][]models.PhotoID
	captions map[models.PhotoID]*models.Caption
}

// New indexes the given captions. Duplicate photo ids keep the first occurrence.
func New(captions []*models.Caption) *Corpus {
	c := &Corpus{
		photos:   make(map[models.ListingID][]models.PhotoID),
		captions: make(map[models.PhotoID]*models.Caption, len(captions)),
	}
	for _, rec := range captions {
		id := rec.ID()
		if _, dup := c.captions[id]; dup {
			continue
		}
		if _, seen := c.photos[rec.ListingID]; !seen {
			c.listings = append(c.listings, rec.ListingID)
		}
		c.captions[id] = rec
		c.photos[rec.ListingID] = append(c.photos[rec.ListingID], id)
	}
	return c
}

// LoadCaptions reads a caption file (a JSON array of caption records).
func LoadCaptions(path string) (*Corpus, error) {
	var captions []*models.Caption
	if err := LoadJSON(path, &captions); err != nil {
		return nil, err
	}
	return New(captions), nil
}

// ListingIDs returns listings in first-appearance order.
func (c *Corpus) ListingIDs() []models.ListingID {
	out := make([]models.ListingID, len(c.listings))
	copy(out, c.listings)
	return out
}

// Photos returns the ordered photos of a listing.
func (c *Corpus) Photos(listing models.ListingID) ([]models.PhotoID, error) {
	photos, ok := c.photos[listing]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListing, listing)
	}
	return photos, nil
}

// Caption returns the caption record of a photo.
func (c *Corpus) Caption(photo models.PhotoID) (*models.Caption, error) {
	rec, ok := c.captions[photo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhoto, photo)
	}
	return rec, nil
}

// NumPhotos returns the total number of captioned photos.
func (c *Corpus) NumPhotos() int {
	return len(c.captions)
}

// LoadTestset reads a testset file mapping listing ids to stored picks.
func LoadTestset(path string) (models.Testset, error) {
	ts := models.Testset{}
	if err := LoadJSON(path, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// SaveTestset writes a testset with keys in sorted order.
func SaveTestset(path string, ts models.Testset) error {
	return SaveJSON(path, ts)
}

// TestsetKeys returns the listing keys of a testset in sorted order.
func TestsetKeys(ts models.Testset) []string {
	keys := make([]string, 0, len(ts))
	for k := range ts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadJSON decodes the whole file at path into v.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// SaveJSON encodes v as indented JSON at path, creating parent directories.
func SaveJSON(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}
