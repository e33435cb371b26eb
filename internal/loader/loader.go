// Package loader iterates a built dataset in collated batches.
//
// It is the batching layer the accessor contract anticipates: several worker
// goroutines read disjoint indices concurrently, which is safe because the
// sample cache is frozen after its build pass. Batches are emitted in epoch
// order regardless of worker scheduling, so a fixed seed yields a fully
// reproducible epoch.
package loader

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/gkswns3708/CellViT-plus-plus/internal/dataset"
)

// Source is the slice of the dataset API the loader needs. GetItem must be
// safe for concurrent use.
type Source interface {
	Len() int
	GetItem(index int) (dataset.Item, error)
}

// Options configures a Loader.
type Options struct {
	// BatchSize is the number of samples per batch. Required.
	BatchSize int
	// Shuffle permutes the index order every epoch, seeded with Seed+epoch.
	Shuffle bool
	Seed    int64
	// Workers bounds concurrent GetItem calls. Zero means 1.
	Workers int
	// DropLast discards a trailing batch smaller than BatchSize.
	DropLast bool
}

// Result is one emitted batch or the error that ended the epoch early.
type Result struct {
	Batch *dataset.Batch
	Err   error
}

// Loader serves epochs of collated batches from a Source.
type Loader struct {
	src  Source
	opts Options
}

// New validates options and returns a Loader.
func New(src Source, opts Options) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size %d must be positive", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Loader{src: src, opts: opts}, nil
}

// Batches returns the number of batches one epoch emits.
func (l *Loader) Batches() int {
	n := l.src.Len() / l.opts.BatchSize
	if !l.opts.DropLast && l.src.Len()%l.opts.BatchSize != 0 {
		n++
	}
	return n
}

// Epoch streams one epoch's batches. The channel closes when the epoch is
// exhausted, an item fails (the error is emitted first), or ctx is done.
func (l *Loader) Epoch(ctx context.Context, epoch int) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)

		indices := l.epochIndices(epoch)
		for start := 0; start < len(indices); start += l.opts.BatchSize {
			end := start + l.opts.BatchSize
			if end > len(indices) {
				if l.opts.DropLast {
					return
				}
				end = len(indices)
			}

			batch, err := l.fetchBatch(indices[start:end])
			if err != nil {
				select {
				case out <- Result{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Result{Batch: batch}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// epochIndices returns the sample visit order for an epoch.
func (l *Loader) epochIndices(epoch int) []int {
	n := l.src.Len()
	if !l.opts.Shuffle {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)))
	return rng.Perm(n)
}

// fetchBatch reads the batch's items with bounded concurrency, keeping item
// order equal to index order, then collates.
func (l *Loader) fetchBatch(indices []int) (*dataset.Batch, error) {
	items := make([]dataset.Item, len(indices))
	errs := make([]error, len(indices))

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.opts.Workers)
	for i, idx := range indices {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot, index int) {
			defer wg.Done()
			defer func() { <-sem }()
			items[slot], errs[slot] = l.src.GetItem(index)
		}(i, idx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return dataset.Collate(items)
}
