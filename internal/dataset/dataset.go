package dataset

import (
	"encoding/csv"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
	"github.com/gkswns3708/CellViT-plus-plus/internal/tensor"
)

// Transform applies a joint augmentation to an image and its keypoints and
// produces the tensor representation the training loop consumes.
//
// Implementations may drop or reorder keypoints. The third return value
// reports, for each surviving keypoint, the index it had in the input list;
// the dataset uses it to keep type labels aligned with detections.
type Transform interface {
	Apply(img image.Image, keypoints []annotation.Point) (*tensor.Tensor, []annotation.Point, []int, error)
}

// StainNormalizer corrects histological stain variability before any other
// processing of a sample's image.
type StainNormalizer interface {
	Normalize(img image.Image) (image.Image, error)
}

// DefaultMean and DefaultStd are the per-channel normalization constants
// applied when no Transform is injected.
var (
	DefaultMean = [3]float64{0.5, 0.5, 0.5}
	DefaultStd  = [3]float64{0.5, 0.5, 0.5}
)

// SampleRef locates one sample's files on disk.
type SampleRef struct {
	Stem           string
	ImagePath      string
	AnnotationPath string
}

// Options configures a SegmentationDataset.
type Options struct {
	// Root is the dataset parent directory; Split selects the subdirectory
	// (e.g. "train", "test") holding images/ and labels/.
	Root  string
	Split string

	// FilelistPath optionally names a CSV whose first column lists the stems
	// to keep. Empty means every discovered image participates.
	FilelistPath string

	// Transform is applied jointly to image and keypoints on every GetItem.
	// Nil means normalize with DefaultMean/DefaultStd and keep all keypoints.
	Transform Transform

	// Normalizer, when non-nil, is applied to the image before the transform.
	Normalizer StainNormalizer
}

// SegmentationDataset serves point-level cell annotations for one dataset
// split. Construct with New, populate with Build, then read with GetItem.
type SegmentationDataset struct {
	opts    Options
	samples []SampleRef
	cache   *SampleCache
}

// imageExtensions are the recognized image suffixes, matched case-insensitively.
var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// New discovers the split's image/annotation pairs and returns an unbuilt
// dataset. Discovery order is the sorted order of image filenames.
func New(opts Options) (*SegmentationDataset, error) {
	imageDir := filepath.Join(opts.Root, opts.Split, "images")
	labelDir := filepath.Join(opts.Root, opts.Split, "labels")

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var selected map[string]bool
	if opts.FilelistPath != "" {
		selected, err = readFilelist(opts.FilelistPath)
		if err != nil {
			return nil, err
		}
	}

	var samples []SampleRef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if selected != nil && !selected[stem] {
			continue
		}
		samples = append(samples, SampleRef{
			Stem:           stem,
			ImagePath:      filepath.Join(imageDir, name),
			AnnotationPath: filepath.Join(labelDir, stem+".npz"),
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Stem < samples[j].Stem })

	return &SegmentationDataset{opts: opts, samples: samples, cache: NewSampleCache()}, nil
}

// readFilelist parses a selection list: one stem per CSV line, first field.
func readFilelist(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filelist: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse filelist: %w", err)
	}

	stems := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) > 0 && row[0] != "" {
			stems[row[0]] = true
		}
	}
	return stems, nil
}

// Len returns the number of samples in the split.
func (d *SegmentationDataset) Len() int { return len(d.samples) }

// Samples returns the discovery-ordered sample references.
func (d *SegmentationDataset) Samples() []SampleRef { return d.samples }

// Build populates the sample cache; see SampleCache.Build.
func (d *SegmentationDataset) Build(opts BuildOptions) error {
	return d.cache.Build(d.samples, opts)
}

// Item is one sample as served to the training loop.
type Item struct {
	// Image is the transform's output representation.
	Image *tensor.Tensor
	// Detections are cell centroids in (x, y) pixel coordinates.
	Detections []annotation.Point
	// Types are 0-based cell class ids, parallel to Detections.
	Types []int
	// Name is the sample stem.
	Name string
}

// GetItem fetches the sample at index: cached image and records, optional
// stain normalization, the injected transform, and type re-synchronization
// against the surviving keypoints.
//
// GetItem is read-only and safe for concurrent use once Build has completed.
func (d *SegmentationDataset) GetItem(index int) (Item, error) {
	if !d.cache.Ready() {
		return Item{}, fmt.Errorf("get item %d: %w", index, ErrCacheNotReady)
	}
	if index < 0 || index >= len(d.samples) {
		return Item{}, fmt.Errorf("index %d out of range [0,%d)", index, len(d.samples))
	}

	stem := d.samples[index].Stem
	img, records, err := d.cache.Sample(stem)
	if err != nil {
		return Item{}, err
	}

	if d.opts.Normalizer != nil {
		img, err = d.opts.Normalizer.Normalize(img)
		if err != nil {
			return Item{}, &NormalizationError{Name: stem, Err: err}
		}
	}

	// Raw type ids are >= 1 by construction of the extractor, so the shift
	// to 0-based ids never goes negative.
	detections := make([]annotation.Point, len(records))
	types := make([]int, len(records))
	for i, rec := range records {
		detections[i] = annotation.Point{X: rec.X, Y: rec.Y}
		types[i] = rec.Type - 1
	}

	if d.opts.Transform == nil {
		ten, err := tensor.FromImage(img, DefaultMean, DefaultStd)
		if err != nil {
			return Item{}, fmt.Errorf("failed to tensorize %q: %w", stem, err)
		}
		return Item{Image: ten, Detections: detections, Types: types, Name: stem}, nil
	}

	transformed, kept, keptIdx, err := d.opts.Transform.Apply(img, detections)
	if err != nil {
		return Item{}, fmt.Errorf("transform failed for %q: %w", stem, err)
	}
	if len(kept) != len(keptIdx) {
		return Item{}, fmt.Errorf("transform for %q kept %d keypoints but reported %d indices",
			stem, len(kept), len(keptIdx))
	}

	// Re-synchronize types by original index, never by coordinate equality.
	keptTypes := make([]int, len(keptIdx))
	for i, orig := range keptIdx {
		if orig < 0 || orig >= len(types) {
			return Item{}, fmt.Errorf("transform for %q reported invalid original index %d", stem, orig)
		}
		keptTypes[i] = types[orig]
	}

	return Item{Image: transformed, Detections: kept, Types: keptTypes, Name: stem}, nil
}
