package dataset

import (
	"fmt"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
	"github.com/gkswns3708/CellViT-plus-plus/internal/tensor"
)

// Batch aggregates N samples for one training step: images stacked along a
// new leading axis, detections and types kept as per-sample variable-length
// lists (cell counts differ across samples by design).
type Batch struct {
	Images     *tensor.Tensor
	Detections [][]annotation.Point
	Types      [][]int
	Names      []string
}

// Collate merges items into a Batch. All item images must share one shape;
// a violation is reported as *BatchShapeError against the offending index.
func Collate(items []Item) (*Batch, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot collate an empty batch")
	}

	images := make([]*tensor.Tensor, len(items))
	detections := make([][]annotation.Point, len(items))
	types := make([][]int, len(items))
	names := make([]string, len(items))
	for i, item := range items {
		if item.Image == nil {
			return nil, fmt.Errorf("batch item %d has no image", i)
		}
		if !items[0].Image.SameShape(item.Image) {
			return nil, &BatchShapeError{Index: i, Shape: item.Image.Shape, Want: items[0].Image.Shape}
		}
		images[i] = item.Image
		detections[i] = item.Detections
		types[i] = item.Types
		names[i] = item.Name
	}

	stacked, err := tensor.Stack(images)
	if err != nil {
		return nil, fmt.Errorf("failed to stack batch images: %w", err)
	}
	return &Batch{Images: stacked, Detections: detections, Types: types, Names: names}, nil
}
