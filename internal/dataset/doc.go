// Package dataset serves cell point annotations alongside their images for
// detection and classification training.
//
// A SegmentationDataset discovers image/annotation pairs under a dataset
// split, caches every decoded image and extracted cell record in memory with
// Build, and then hands out per-index items with GetItem. Collate merges
// items into one training batch.
//
// # Dataset Layout
//
// A split lives under <root>/<split>/ with two directories:
//
//	images/  <stem>.png | <stem>.jpg | <stem>.jpeg
//	labels/  <stem>.npz   (see package annotation for the format)
//
// An optional filelist (CSV, one stem per line) restricts which discovered
// stems participate; without one, every discovered image is used.
//
// # Build Then Read
//
// The cache has two phases. Build performs all decoding and annotation
// extraction in one sequential pass; until it completes, GetItem fails with
// ErrCacheNotReady. After Build the cache is never mutated, so GetItem is
// safe to call from any number of goroutines at O(1) cost per call. The
// pipeline must not run the extractor lazily per item.
//
// # Keypoint Re-synchronization
//
// A Transform may drop keypoints (a crop excludes cells outside its window).
// Types are re-derived from the transform's kept-index report, matching
// surviving keypoints to their position in the original record order. Types
// are never matched back by coordinate equality, because transforms are free
// to alter coordinates.
package dataset
