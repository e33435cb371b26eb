// Package tensor provides the small float32 tensor type carried between the
// dataset pipeline and a training loop.
//
// Images are stored channel-first (CHW) the way training frameworks consume
// them; Stack adds a leading batch axis. The type is deliberately minimal:
// it holds data and shape, and knows nothing about autograd or devices.
package tensor

import (
	"fmt"
	"image"
)

// Tensor is a dense float32 array with a row-major shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Dims returns the shape as (channels, height, width) for a 3-D tensor.
func (t *Tensor) Dims() (c, h, w int) {
	if len(t.Shape) != 3 {
		return 0, 0, 0
	}
	return t.Shape[0], t.Shape[1], t.Shape[2]
}

// At returns the value at position (c, y, x) of a CHW tensor.
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Shape[1]+y)*t.Shape[2]+x]
}

// SameShape reports whether two tensors have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if d != other.Shape[i] {
			return false
		}
	}
	return true
}

// FromImage converts an image to a CHW float32 tensor, scaling 8-bit channel
// values to [0,1] and then normalizing each channel as (v - mean[i]) / std[i].
//
// The alpha channel is discarded. Standard deviations must be nonzero.
func FromImage(img image.Image, mean, std [3]float64) (*Tensor, error) {
	for i, s := range std {
		if s == 0 {
			return nil, fmt.Errorf("zero standard deviation for channel %d", i)
		}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	t := New(3, h, w)
	plane := h * w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert from 16-bit to unit range.
			idx := y*w + x
			t.Data[idx] = float32((float64(r)/65535.0 - mean[0]) / std[0])
			t.Data[plane+idx] = float32((float64(g)/65535.0 - mean[1]) / std[1])
			t.Data[2*plane+idx] = float32((float64(b)/65535.0 - mean[2]) / std[2])
		}
	}
	return t, nil
}

// Stack concatenates equally shaped tensors along a new leading axis.
func Stack(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := tensors[0]
	for i, t := range tensors[1:] {
		if !first.SameShape(t) {
			return nil, fmt.Errorf("tensor %d has shape %v, want %v", i+1, t.Shape, first.Shape)
		}
	}

	shape := append([]int{len(tensors)}, first.Shape...)
	out := New(shape...)
	stride := len(first.Data)
	for i, t := range tensors {
		copy(out.Data[i*stride:(i+1)*stride], t.Data)
	}
	return out, nil
}
