package features

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single JSON-lines record (a photo with many boxes).
const maxLineSize = 64 * 1024 * 1024

// LineRecord is one photo in the JSON-lines import format.
type LineRecord struct {
	Key      string      `json:"key"`
	Features [][]float32 `json:"features"`
	Boxes    [][]float32 `json:"boxes"`
	Probs    [][]float32 `json:"probs"`
	Mask     []int64     `json:"mask,omitempty"` // defaults to all ones
}

// ToRecord flattens the nested rows into a Record.
func (l *LineRecord) ToRecord() (*Record, error) {
	n := len(l.Features)
	if len(l.Boxes) != n || len(l.Probs) != n {
		return nil, fmt.Errorf("%w: %s has %d feature rows, %d box rows, %d prob rows",
			ErrInvalidRecord, l.Key, n, len(l.Boxes), len(l.Probs))
	}
	rec := &Record{NumBoxes: n}
	for i := 0; i < n; i++ {
		rec.Features = append(rec.Features, l.Features[i]...)
		rec.Boxes = append(rec.Boxes, l.Boxes[i]...)
		rec.Probs = append(rec.Probs, l.Probs[i]...)
	}
	if l.Mask != nil {
		rec.Mask = l.Mask
	} else {
		rec.Mask = make([]int64, n)
		for i := range rec.Mask {
			rec.Mask[i] = 1
		}
	}
	return rec, nil
}

// InferDims derives region widths from the first row of each block.
func (l *LineRecord) InferDims() (Dims, error) {
	if len(l.Features) == 0 || len(l.Boxes) == 0 || len(l.Probs) == 0 {
		return Dims{}, fmt.Errorf("%w: cannot infer dims from %s with no boxes", ErrInvalidRecord, l.Key)
	}
	return Dims{Feature: len(l.Features[0]), Box: len(l.Boxes[0]), Prob: len(l.Probs[0])}, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	BatchSize   int
	Encoding    Encoding
	Compression Compression
	// Progress is called after each committed batch with the running total.
	Progress func(imported int)
}

// Import reads JSON-lines records from r into the store, initializing it from
// the first record's dims when needed. It returns the number of records written.
func Import(ctx context.Context, st *Store, r io.Reader, opts ImportOptions) (int, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Progress == nil {
		opts.Progress = func(int) {}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)

	initialized := st.Info().Dims != (Dims{})
	batch := make(map[string]*Record, opts.BatchSize)
	total, line := 0, 0

	flush := func() error {
		if err := st.PutBatch(batch); err != nil {
			return err
		}
		total += len(batch)
		batch = make(map[string]*Record, opts.BatchSize)
		opts.Progress(total)
		return nil
	}

	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return total, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var lr LineRecord
		if err := json.Unmarshal(raw, &lr); err != nil {
			return total, fmt.Errorf("line %d: parse: %w", line, err)
		}
		if lr.Key == "" {
			return total, fmt.Errorf("line %d: missing key", line)
		}

		if !initialized {
			dims, err := lr.InferDims()
			if err != nil {
				return total, fmt.Errorf("line %d: %w", line, err)
			}
			if err := st.Initialize(dims, opts.Encoding, opts.Compression); err != nil {
				return total, err
			}
			initialized = true
		}

		rec, err := lr.ToRecord()
		if err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		batch[lr.Key] = rec

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return total, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read records: %w", err)
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return total, err
		}
	}
	return total, nil
}
