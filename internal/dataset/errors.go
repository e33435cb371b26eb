package dataset

import (
	"errors"
	"fmt"
)

// ErrCacheNotReady is returned by GetItem when Build has not completed.
var ErrCacheNotReady = errors.New("sample cache not built")

// SampleLoadError reports one sample whose image or annotation could not be
// loaded during Build. Other cached entries remain valid; the caller decides
// whether to skip the sample or abort the build.
type SampleLoadError struct {
	Stem string
	Err  error
}

func (e *SampleLoadError) Error() string {
	return fmt.Sprintf("failed to load sample %q: %v", e.Stem, e.Err)
}

func (e *SampleLoadError) Unwrap() error { return e.Err }

// NormalizationError reports a stain normalization failure for one sample
// access. The sample is unusable for that access; nothing is retried
// internally.
type NormalizationError struct {
	Name string
	Err  error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("stain normalization failed for %q: %v", e.Name, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// BatchShapeError reports a batch whose images do not share one shape.
// Identical post-transform shapes are the upstream transform's contract;
// this error surfaces a violation at collation time.
type BatchShapeError struct {
	Index int
	Shape []int
	Want  []int
}

func (e *BatchShapeError) Error() string {
	return fmt.Sprintf("batch image %d has shape %v, want %v", e.Index, e.Shape, e.Want)
}
