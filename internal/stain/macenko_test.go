package stain

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

// hePatch synthesizes a patch with enough color variation to carry two
// stain directions: purple-ish and pink-ish regions with smooth gradients.
func hePatch(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x+y)%3 == 0 {
				// hematoxylin-leaning pixel
				img.Set(x, y, color.NRGBA{
					R: uint8(90 + x*2),
					G: uint8(50 + y),
					B: uint8(140 + (x % 20)),
					A: 255,
				})
			} else {
				// eosin-leaning pixel
				img.Set(x, y, color.NRGBA{
					R: uint8(190 + (y % 30)),
					G: uint8(110 + x),
					B: uint8(150 + ((x + y) % 25)),
					A: 255,
				})
			}
		}
	}
	return img
}

func solidPatch(size int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNormalize_SyntheticHE(t *testing.T) {
	norm := NewMacenko()
	img := hePatch(32)

	out, err := norm.Normalize(img)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if out.Bounds().Dx() != 32 || out.Bounds().Dy() != 32 {
		t.Errorf("output size: got %dx%d, want 32x32", out.Bounds().Dx(), out.Bounds().Dy())
	}
	// Input must be untouched.
	if r, _, _, _ := img.At(0, 0).RGBA(); uint8(r>>8) != 90 {
		t.Error("Normalize modified its input")
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	norm := NewMacenko()

	a, err := norm.Normalize(hePatch(32))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := norm.Normalize(hePatch(32))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if a.At(x, y) != b.At(x, y) {
				t.Fatalf("pixel (%d,%d) differs between identical runs", x, y)
			}
		}
	}
}

func TestNormalize_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"white background only", solidPatch(32, color.NRGBA{R: 250, G: 250, B: 250, A: 255})},
		{"uniform color has no stain plane", solidPatch(32, color.NRGBA{R: 120, G: 90, B: 130, A: 255})},
		{"too few tissue pixels", solidPatch(4, color.NRGBA{R: 120, G: 90, B: 130, A: 255})},
	}

	norm := NewMacenko()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := norm.Normalize(tt.img)
			if !errors.Is(err, ErrDegenerate) {
				t.Fatalf("got %v, want ErrDegenerate", err)
			}
		})
	}
}
