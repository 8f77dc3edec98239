// Package loader batches dataset samples with a bounded pool of workers and
// delivers the batches to a consumer in order.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/vlnload/internal/dataset"
	"github.com/kilupskalvis/vlnload/internal/models"
	"golang.org/x/sync/errgroup"
)

// Dataset is the indexed sample source read by the workers. Get must be safe
// for concurrent use.
type Dataset interface {
	Len() int
	ListingID(index int) (models.ListingID, error)
	Get(index int) (*dataset.Sample, error)
}

var _ Dataset = (*dataset.Dataset)(nil)

// Options configures batching and the worker pool.
type Options struct {
	BatchSize  int
	DropLast   bool
	NumWorkers int
	// Prefetch is the number of batches each worker may have in flight.
	Prefetch int
	Logger   *slog.Logger
}

// DefaultOptions returns the loader defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:  8,
		NumWorkers: 4,
		Prefetch:   2,
	}
}

// Validate checks the batching parameters.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.NumWorkers < 1 {
		return fmt.Errorf("num workers must be positive, got %d", o.NumWorkers)
	}
	if o.Prefetch < 1 {
		return fmt.Errorf("prefetch must be positive, got %d", o.Prefetch)
	}
	return nil
}

// Loader iterates a dataset in batches.
type Loader struct {
	ds      Dataset
	sampler Sampler
	opts    Options
	logger  *slog.Logger
}

// New creates a loader.
func New(ds Dataset, sampler Sampler, opts Options) (*Loader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{ds: ds, sampler: sampler, opts: opts, logger: logger}, nil
}

// NumBatches returns the number of batches of one epoch.
func (l *Loader) NumBatches() int {
	return numBatches(l.sampler.Len(), l.opts.BatchSize, l.opts.DropLast)
}

// Iterate runs one epoch, calling fn for every batch in step order. Batches
// are built by up to NumWorkers goroutines with at most NumWorkers*Prefetch
// batches in flight. The first failing index or fn error stops the epoch and
// is returned; cancelling ctx stops feeding and returns ctx.Err().
func (l *Loader) Iterate(ctx context.Context, fn func(*Batch) error) error {
	batches := plan(l.sampler, l.opts.BatchSize, l.opts.DropLast)
	if len(batches) == 0 {
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(l.opts.NumWorkers)

	results := make([]chan *Batch, len(batches))
	for i := range results {
		results[i] = make(chan *Batch, 1)
	}
	inflight := make(chan struct{}, l.opts.NumWorkers*l.opts.Prefetch)
	fed := make(chan struct{})

	go func() {
		defer close(fed)
		for step, indices := range batches {
			select {
			case inflight <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch, err := l.build(step, indices)
				if err != nil {
					return err
				}
				results[step] <- batch
				return nil
			})
		}
	}()

	var consumeErr error
consume:
	for step := range batches {
		var batch *Batch
		select {
		case batch = <-results[step]:
		case <-gctx.Done():
			break consume
		}
		<-inflight

		if err := fn(batch); err != nil {
			consumeErr = err
			break consume
		}
	}
	cancel()
	<-fed
	waitErr := g.Wait()

	switch {
	case consumeErr != nil:
		return consumeErr
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return waitErr
	}
}

// build assembles and collates one batch.
func (l *Loader) build(step int, indices []int) (*Batch, error) {
	start := time.Now()
	samples := make([]*dataset.Sample, len(indices))
	listings := make([]models.ListingID, len(indices))
	for i, idx := range indices {
		listing, err := l.ds.ListingID(idx)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", step, err)
		}
		sample, err := l.ds.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("batch %d: listing %d: %w", step, listing, err)
		}
		samples[i] = sample
		listings[i] = listing
	}

	batch, err := Collate(samples)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", step, err)
	}
	batch.Step = step
	batch.Indices = indices
	batch.Listings = listings
	batch.BuildTime = time.Since(start)

	l.logger.Debug("batch built", "step", step, "size", len(indices), "duration_ms", batch.BuildTime.Milliseconds())
	return batch, nil
}
