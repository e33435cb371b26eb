package dataset

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
)

// SampleCache owns every decoded image and extracted cell record sequence,
// keyed by sample stem.
//
// The cache is phase-barriered: Build writes, everything after Build only
// reads. Entries are stored as each sample completes, so a failed sample
// never invalidates ones cached before it, and rebuilding overwrites entries
// key by key.
type SampleCache struct {
	mu          sync.RWMutex
	images      map[string]image.Image
	annotations map[string][]annotation.CellRecord
	ready       bool
}

// NewSampleCache returns an empty, not-yet-ready cache.
func NewSampleCache() *SampleCache {
	return &SampleCache{
		images:      make(map[string]image.Image),
		annotations: make(map[string][]annotation.CellRecord),
	}
}

// BuildOptions configures one cache build pass.
type BuildOptions struct {
	// Progress draws a terminal progress bar over the pass.
	Progress bool

	// SkipBad keeps going past samples that fail to load. Build then returns
	// the joined per-sample errors but the cache still becomes ready, holding
	// every sample that loaded.
	SkipBad bool
}

// Build processes samples in input order: each image is decoded and forced
// to RGB, its annotation archive is read, and cell records are extracted.
//
// Without SkipBad, the first failing sample aborts the pass and its
// *SampleLoadError is returned. Build must not run concurrently with readers.
func (c *SampleCache) Build(samples []SampleRef, opts BuildOptions) error {
	var loadErrs []error

	process := func(ref SampleRef) (abort bool) {
		if err := c.loadSample(ref); err != nil {
			loadErrs = append(loadErrs, err)
			return !opts.SkipBad
		}
		return false
	}

	if opts.Progress {
		err := tqdm.With(iterators.Interval(0, len(samples)), "Caching dataset", func(v interface{}) (brk bool) {
			return process(samples[v.(int)])
		})
		if err != nil && len(loadErrs) == 0 {
			return fmt.Errorf("cache build interrupted: %w", err)
		}
	} else {
		for _, ref := range samples {
			if process(ref) {
				break
			}
		}
	}

	if len(loadErrs) > 0 && !opts.SkipBad {
		return loadErrs[0]
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return errors.Join(loadErrs...)
}

// loadSample decodes and extracts one sample and stores it.
func (c *SampleCache) loadSample(ref SampleRef) error {
	f, err := os.Open(ref.ImagePath)
	if err != nil {
		return &SampleLoadError{Stem: ref.Stem, Err: err}
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return &SampleLoadError{Stem: ref.Stem, Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	// Clone re-encodes any source color model (gray, paletted, CMYK jpeg)
	// as 8-bit RGB with opaque alpha.
	rgb := imaging.Clone(img)

	instMap, typeMap, err := annotation.LoadMaps(ref.AnnotationPath)
	if err != nil {
		return &SampleLoadError{Stem: ref.Stem, Err: err}
	}
	records, err := annotation.Extract(instMap, typeMap)
	if err != nil {
		return &SampleLoadError{Stem: ref.Stem, Err: err}
	}

	c.mu.Lock()
	c.images[ref.Stem] = rgb
	c.annotations[ref.Stem] = records
	c.mu.Unlock()
	return nil
}

// Ready reports whether a Build pass has completed.
func (c *SampleCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Len returns the number of cached samples.
func (c *SampleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Sample returns the cached image and cell records for a stem. The returned
// values are shared and must be treated as read-only; transforms that need
// to mutate pixels must work on a copy.
func (c *SampleCache) Sample(stem string) (image.Image, []annotation.CellRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[stem]
	if !ok {
		return nil, nil, &SampleLoadError{Stem: stem, Err: errors.New("not in cache")}
	}
	return img, c.annotations[stem], nil
}

// Annotations returns the cached cell records for a stem, nil if absent.
func (c *SampleCache) Annotations(stem string) []annotation.CellRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.annotations[stem]
}
