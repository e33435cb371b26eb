package transform

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
)

// Op is one augmentation step over an image and its keypoints.
//
// Apply returns the transformed image, the surviving keypoints in their new
// coordinates, and for each survivor the index it had in the input list.
type Op interface {
	Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error)
}

// identityIndices covers ops that keep every keypoint.
func identityIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// HorizontalFlip mirrors the image left-right with probability Prob.
type HorizontalFlip struct {
	Prob float64
	Rand *rand.Rand
}

func (op HorizontalFlip) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	if op.Rand.Float64() >= op.Prob {
		return img, kps, identityIndices(len(kps)), nil
	}
	w := img.Bounds().Dx()
	flipped := make([]annotation.Point, len(kps))
	for i, p := range kps {
		flipped[i] = annotation.Point{X: w - 1 - p.X, Y: p.Y}
	}
	return imaging.FlipH(img), flipped, identityIndices(len(kps)), nil
}

// VerticalFlip mirrors the image top-bottom with probability Prob.
type VerticalFlip struct {
	Prob float64
	Rand *rand.Rand
}

func (op VerticalFlip) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	if op.Rand.Float64() >= op.Prob {
		return img, kps, identityIndices(len(kps)), nil
	}
	h := img.Bounds().Dy()
	flipped := make([]annotation.Point, len(kps))
	for i, p := range kps {
		flipped[i] = annotation.Point{X: p.X, Y: h - 1 - p.Y}
	}
	return imaging.FlipV(img), flipped, identityIndices(len(kps)), nil
}

// cropWindow cuts [x0,x0+w) x [y0,y0+h) and keeps only keypoints inside the
// window, shifted into window coordinates.
func cropWindow(img image.Image, kps []annotation.Point, x0, y0, w, h int) (image.Image, []annotation.Point, []int) {
	cropped := imaging.Crop(img, image.Rect(x0, y0, x0+w, y0+h))

	var kept []annotation.Point
	var keptIdx []int
	for i, p := range kps {
		if p.X < x0 || p.X >= x0+w || p.Y < y0 || p.Y >= y0+h {
			continue
		}
		kept = append(kept, annotation.Point{X: p.X - x0, Y: p.Y - y0})
		keptIdx = append(keptIdx, i)
	}
	return cropped, kept, keptIdx
}

// RandomCrop cuts a Width x Height window at a random offset. Keypoints
// outside the window are dropped.
type RandomCrop struct {
	Width, Height int
	Rand          *rand.Rand
}

func (op RandomCrop) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	bounds := img.Bounds()
	if op.Width > bounds.Dx() || op.Height > bounds.Dy() {
		return nil, nil, nil, fmt.Errorf("crop %dx%d exceeds image %dx%d",
			op.Width, op.Height, bounds.Dx(), bounds.Dy())
	}
	x0 := op.Rand.Intn(bounds.Dx() - op.Width + 1)
	y0 := op.Rand.Intn(bounds.Dy() - op.Height + 1)
	cropped, kept, keptIdx := cropWindow(img, kps, x0, y0, op.Width, op.Height)
	return cropped, kept, keptIdx, nil
}

// CenterCrop cuts a Width x Height window around the image center.
type CenterCrop struct {
	Width, Height int
}

func (op CenterCrop) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	bounds := img.Bounds()
	if op.Width > bounds.Dx() || op.Height > bounds.Dy() {
		return nil, nil, nil, fmt.Errorf("crop %dx%d exceeds image %dx%d",
			op.Width, op.Height, bounds.Dx(), bounds.Dy())
	}
	x0 := (bounds.Dx() - op.Width) / 2
	y0 := (bounds.Dy() - op.Height) / 2
	cropped, kept, keptIdx := cropWindow(img, kps, x0, y0, op.Width, op.Height)
	return cropped, kept, keptIdx, nil
}

// Resize scales the image to Width x Height and keypoints by the same
// factors, rounding half away from zero like the annotation extractor.
type Resize struct {
	Width, Height int
}

func (op Resize) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	bounds := img.Bounds()
	if op.Width <= 0 || op.Height <= 0 {
		return nil, nil, nil, fmt.Errorf("invalid resize target %dx%d", op.Width, op.Height)
	}
	sx := float64(op.Width) / float64(bounds.Dx())
	sy := float64(op.Height) / float64(bounds.Dy())

	scaled := make([]annotation.Point, len(kps))
	for i, p := range kps {
		x := int(math.Round(float64(p.X) * sx))
		y := int(math.Round(float64(p.Y) * sy))
		if x >= op.Width {
			x = op.Width - 1
		}
		if y >= op.Height {
			y = op.Height - 1
		}
		scaled[i] = annotation.Point{X: x, Y: y}
	}
	return imaging.Resize(img, op.Width, op.Height, imaging.Lanczos), scaled, identityIndices(len(kps)), nil
}

// GaussianBlur smooths the image with probability Prob. Keypoints are
// untouched.
type GaussianBlur struct {
	Radius float64
	Prob   float64
	Rand   *rand.Rand
}

func (op GaussianBlur) Apply(img image.Image, kps []annotation.Point) (image.Image, []annotation.Point, []int, error) {
	if op.Rand.Float64() >= op.Prob {
		return img, kps, identityIndices(len(kps)), nil
	}
	return blur.Gaussian(img, op.Radius), kps, identityIndices(len(kps)), nil
}
