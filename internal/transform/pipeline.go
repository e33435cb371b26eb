package transform

import (
	"fmt"
	"image"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
	"github.com/gkswns3708/CellViT-plus-plus/internal/tensor"
)

// Pipeline composes Ops and finishes with mean/std normalization into a CHW
// float32 tensor. It satisfies the dataset package's Transform interface.
type Pipeline struct {
	ops  []Op
	mean [3]float64
	std  [3]float64
}

// NewPipeline builds a pipeline with the given normalization constants and
// op sequence. Ops run in argument order.
func NewPipeline(mean, std [3]float64, ops ...Op) *Pipeline {
	return &Pipeline{ops: ops, mean: mean, std: std}
}

// Default returns the bare pipeline used when no augmentation is wanted:
// normalize each channel with mean 0.5 and std 0.5, keep every keypoint.
func Default() *Pipeline {
	return NewPipeline([3]float64{0.5, 0.5, 0.5}, [3]float64{0.5, 0.5, 0.5})
}

// Apply runs the op chain, then tensorizes. The returned index slice maps
// each surviving keypoint to its position in the original input, composed
// across every op in the chain.
func (p *Pipeline) Apply(img image.Image, kps []annotation.Point) (*tensor.Tensor, []annotation.Point, []int, error) {
	cur := kps
	curIdx := identityIndices(len(kps))

	for i, op := range p.ops {
		next, kept, keptIdx, err := op.Apply(img, cur)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("op %d: %w", i, err)
		}
		if len(kept) != len(keptIdx) {
			return nil, nil, nil, fmt.Errorf("op %d kept %d keypoints but reported %d indices",
				i, len(kept), len(keptIdx))
		}
		// Chain the survivor report back to the original positions.
		chained := make([]int, len(keptIdx))
		for j, k := range keptIdx {
			chained[j] = curIdx[k]
		}
		img, cur, curIdx = next, kept, chained
	}

	ten, err := tensor.FromImage(img, p.mean, p.std)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to tensorize: %w", err)
	}
	return ten, cur, curIdx, nil
}
