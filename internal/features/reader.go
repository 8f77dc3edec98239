// Package features provides region-feature lookup for photos: the per-photo
// visual features, bounding boxes, class probabilities and region mask that
// sample assembly stacks into trajectories.
package features

import (
	"errors"
	"fmt"
)

var (
	ErrFeatureNotFound = errors.New("feature record not found")
	ErrInvalidRecord   = errors.New("invalid feature record")
)

// Dims holds the per-region widths shared by every record of a reader.
type Dims struct {
	Feature int `json:"feature" toml:"feature"`
	Box     int `json:"box" toml:"box"`
	Prob    int `json:"prob" toml:"prob"`
}

// Record is the region data of one photo. Features, Boxes and Probs are flat
// row-major blocks with NumBoxes rows; Mask has one entry per region.
type Record struct {
	NumBoxes int
	Features []float32
	Boxes    []float32
	Probs    []float32
	Mask     []int64
}

// Validate checks the record's blocks against the given dims.
func (r *Record) Validate(d Dims) error {
	if r.NumBoxes < 0 {
		return fmt.Errorf("%w: negative box count", ErrInvalidRecord)
	}
	if len(r.Features) != r.NumBoxes*d.Feature {
		return fmt.Errorf("%w: features has %d values, want %d", ErrInvalidRecord, len(r.Features), r.NumBoxes*d.Feature)
	}
	if len(r.Boxes) != r.NumBoxes*d.Box {
		return fmt.Errorf("%w: boxes has %d values, want %d", ErrInvalidRecord, len(r.Boxes), r.NumBoxes*d.Box)
	}
	if len(r.Probs) != r.NumBoxes*d.Prob {
		return fmt.Errorf("%w: probs has %d values, want %d", ErrInvalidRecord, len(r.Probs), r.NumBoxes*d.Prob)
	}
	if len(r.Mask) != r.NumBoxes {
		return fmt.Errorf("%w: mask has %d values, want %d", ErrInvalidRecord, len(r.Mask), r.NumBoxes)
	}
	return nil
}

// Reader looks up feature records by key. Implementations must be safe for
// concurrent use by loader workers.
type Reader interface {
	Lookup(key string) (*Record, error)
	Dims() Dims
}

// MemoryReader is a map-backed Reader.
type MemoryReader struct {
	dims    Dims
	records map[string]*Record
}

// NewMemoryReader creates an empty in-memory reader with the given dims.
func NewMemoryReader(dims Dims) *MemoryReader {
	return &MemoryReader{dims: dims, records: make(map[string]*Record)}
}

// Add stores a record. It is not safe to call Add concurrently with Lookup.
func (m *MemoryReader) Add(key string, rec *Record) error {
	if err := rec.Validate(m.dims); err != nil {
		return fmt.Errorf("add %s: %w", key, err)
	}
	m.records[key] = rec
	return nil
}

// Lookup returns the record stored under key.
func (m *MemoryReader) Lookup(key string) (*Record, error) {
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, key)
	}
	return rec, nil
}

// Dims returns the reader's region widths.
func (m *MemoryReader) Dims() Dims {
	return m.dims
}

// Len returns the number of stored records.
func (m *MemoryReader) Len() int {
	return len(m.records)
}
