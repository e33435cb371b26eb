package transform

import (
	"image"
	"image/color"
	"math/rand"
	"reflect"
	"testing"

	"github.com/gkswns3708/CellViT-plus-plus/internal/annotation"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 100, A: 255})
		}
	}
	return img
}

func TestCenterCrop_DropsOutsideKeypoints(t *testing.T) {
	img := testImage(16, 16)
	kps := []annotation.Point{
		{X: 0, Y: 0},   // outside the center 8x8 window
		{X: 8, Y: 8},   // inside
		{X: 15, Y: 15}, // outside
		{X: 4, Y: 11},  // inside (window is [4,12))
	}

	cropped, kept, keptIdx, err := CenterCrop{Width: 8, Height: 8}.Apply(img, kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if cropped.Bounds().Dx() != 8 || cropped.Bounds().Dy() != 8 {
		t.Errorf("cropped size: got %dx%d, want 8x8", cropped.Bounds().Dx(), cropped.Bounds().Dy())
	}
	if !reflect.DeepEqual(keptIdx, []int{1, 3}) {
		t.Fatalf("kept indices: got %v, want [1 3]", keptIdx)
	}
	want := []annotation.Point{{X: 4, Y: 4}, {X: 0, Y: 7}}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("kept keypoints: got %+v, want %+v", kept, want)
	}
}

func TestCenterCrop_TooLarge(t *testing.T) {
	if _, _, _, err := (CenterCrop{Width: 32, Height: 32}).Apply(testImage(16, 16), nil); err == nil {
		t.Fatal("expected error for oversized crop")
	}
}

func TestRandomCrop_Deterministic(t *testing.T) {
	kps := []annotation.Point{{X: 3, Y: 3}, {X: 12, Y: 12}}

	first, firstKept, firstIdx, err := (RandomCrop{Width: 8, Height: 8, Rand: rand.New(rand.NewSource(7))}).Apply(testImage(16, 16), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	second, secondKept, secondIdx, err := (RandomCrop{Width: 8, Height: 8, Rand: rand.New(rand.NewSource(7))}).Apply(testImage(16, 16), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !reflect.DeepEqual(firstKept, secondKept) || !reflect.DeepEqual(firstIdx, secondIdx) {
		t.Error("same seed produced different crops")
	}
	if first.Bounds() != second.Bounds() {
		t.Error("same seed produced different windows")
	}
}

func TestHorizontalFlip_MapsCoordinates(t *testing.T) {
	kps := []annotation.Point{{X: 0, Y: 2}, {X: 15, Y: 5}}

	// Prob 1 always flips.
	_, kept, keptIdx, err := (HorizontalFlip{Prob: 1, Rand: rand.New(rand.NewSource(1))}).Apply(testImage(16, 8), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []annotation.Point{{X: 15, Y: 2}, {X: 0, Y: 5}}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("flipped keypoints: got %+v, want %+v", kept, want)
	}
	if !reflect.DeepEqual(keptIdx, []int{0, 1}) {
		t.Errorf("kept indices: got %v, want [0 1]", keptIdx)
	}
}

func TestVerticalFlip_MapsCoordinates(t *testing.T) {
	kps := []annotation.Point{{X: 1, Y: 0}, {X: 2, Y: 7}}

	_, kept, _, err := (VerticalFlip{Prob: 1, Rand: rand.New(rand.NewSource(1))}).Apply(testImage(16, 8), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []annotation.Point{{X: 1, Y: 7}, {X: 2, Y: 0}}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("flipped keypoints: got %+v, want %+v", kept, want)
	}
}

func TestResize_ScalesKeypoints(t *testing.T) {
	kps := []annotation.Point{{X: 4, Y: 4}, {X: 15, Y: 15}}

	img, kept, _, err := (Resize{Width: 32, Height: 32}).Apply(testImage(16, 16), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 32 {
		t.Errorf("resized: got %dx%d, want 32x32", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if kept[0].X != 8 || kept[0].Y != 8 {
		t.Errorf("scaled keypoint: got (%d,%d), want (8,8)", kept[0].X, kept[0].Y)
	}
	if kept[1].X != 30 || kept[1].Y != 30 {
		t.Errorf("scaled keypoint: got (%d,%d), want (30,30)", kept[1].X, kept[1].Y)
	}
}

func TestGaussianBlur_KeepsKeypoints(t *testing.T) {
	kps := []annotation.Point{{X: 3, Y: 4}}

	img, kept, keptIdx, err := (GaussianBlur{Radius: 2, Prob: 1, Rand: rand.New(rand.NewSource(1))}).Apply(testImage(16, 16), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Errorf("blur changed size to %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if !reflect.DeepEqual(kept, kps) || !reflect.DeepEqual(keptIdx, []int{0}) {
		t.Error("blur must not move or drop keypoints")
	}
}

func TestPipeline_ComposesKeptIndices(t *testing.T) {
	// Two successive center crops: 16 -> 12 -> 8. A keypoint must survive
	// both windows to survive the pipeline, and its reported index must point
	// back to the original list.
	kps := []annotation.Point{
		{X: 1, Y: 1},  // dropped by the first crop (window [2,14))
		{X: 3, Y: 3},  // survives the first, dropped by the second ([4,12))
		{X: 8, Y: 8},  // survives both
		{X: 13, Y: 8}, // survives the first, dropped by the second
		{X: 9, Y: 9},  // survives both
	}
	p := NewPipeline([3]float64{0.5, 0.5, 0.5}, [3]float64{0.5, 0.5, 0.5},
		CenterCrop{Width: 12, Height: 12},
		CenterCrop{Width: 8, Height: 8},
	)

	ten, kept, keptIdx, err := p.Apply(testImage(16, 16), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if c, h, w := ten.Dims(); c != 3 || h != 8 || w != 8 {
		t.Errorf("tensor shape: got (%d,%d,%d), want (3,8,8)", c, h, w)
	}
	if !reflect.DeepEqual(keptIdx, []int{2, 4}) {
		t.Fatalf("kept indices: got %v, want [2 4]", keptIdx)
	}
	// 16->12 shifts by 2, 12->8 shifts by another 2.
	want := []annotation.Point{{X: 4, Y: 4}, {X: 5, Y: 5}}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("kept keypoints: got %+v, want %+v", kept, want)
	}
}

func TestPipeline_Default(t *testing.T) {
	kps := []annotation.Point{{X: 2, Y: 3}}

	ten, kept, keptIdx, err := Default().Apply(testImage(8, 8), kps)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if c, h, w := ten.Dims(); c != 3 || h != 8 || w != 8 {
		t.Errorf("tensor shape: got (%d,%d,%d), want (3,8,8)", c, h, w)
	}
	if !reflect.DeepEqual(kept, kps) || !reflect.DeepEqual(keptIdx, []int{0}) {
		t.Error("default pipeline must keep every keypoint unchanged")
	}
}
