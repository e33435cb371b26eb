package annotation

import (
	"fmt"
	"math"
	"sort"
)

// Point represents a 2D pixel coordinate.
type Point struct {
	X int `json:"x"` // Horizontal position (0 = leftmost)
	Y int `json:"y"` // Vertical position (0 = topmost)
}

// LabelMap is a 2-D grid of unsigned integer labels in row-major order.
// A value of 0 means background (instance maps) or "no class" (type maps).
type LabelMap struct {
	Width  int
	Height int
	Pixels []uint32
}

// At returns the label at column x, row y. Bounds are the caller's problem.
func (m LabelMap) At(x, y int) uint32 {
	return m.Pixels[y*m.Width+x]
}

// valid reports whether the pixel buffer matches the declared shape.
func (m LabelMap) valid() bool {
	return m.Width > 0 && m.Height > 0 && len(m.Pixels) == m.Width*m.Height
}

// CellRecord is the point-level annotation for one cell instance.
//
// X and Y are the rounded centroid of the instance's pixel mask in
// (column, row) order. Type is the raw 1-based class id; consumers that need
// 0-based class indices subtract 1.
type CellRecord struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Type int `json:"type"`
}

// ShapeMismatchError reports instance and type maps of different shapes,
// which is a caller contract violation.
type ShapeMismatchError struct {
	InstWidth, InstHeight int
	TypeWidth, TypeHeight int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("instance map %dx%d and type map %dx%d differ in shape",
		e.InstWidth, e.InstHeight, e.TypeWidth, e.TypeHeight)
}

// UntypedInstanceError reports an instance whose mask overlaps no non-zero
// type pixel. Such a cell has no defensible class, so it is surfaced as a
// data-integrity error rather than assigned a guessed type.
type UntypedInstanceError struct {
	Label uint32
}

func (e *UntypedInstanceError) Error() string {
	return fmt.Sprintf("instance %d has no typed pixels", e.Label)
}

// cellAccum accumulates per-instance mask statistics during the grid scan.
type cellAccum struct {
	count      int
	sumX, sumY int64
	typeCounts map[uint32]int
}

// Extract reduces an instance map and an aligned type map to one CellRecord
// per distinct nonzero instance label.
//
// For each instance, the centroid is the mean (column, row) coordinate of its
// mask pixels, each coordinate rounded half away from zero. The type is the
// most frequent nonzero type-map value under the mask; on a count tie the
// smallest type value wins. Records are ordered by ascending instance label;
// callers must not read any spatial meaning into that order.
//
// Extract is pure: it never modifies its inputs and holds no state between
// calls.
func Extract(instMap, typeMap LabelMap) ([]CellRecord, error) {
	if !instMap.valid() {
		return nil, fmt.Errorf("instance map shape %dx%d does not match %d pixels",
			instMap.Width, instMap.Height, len(instMap.Pixels))
	}
	if !typeMap.valid() {
		return nil, fmt.Errorf("type map shape %dx%d does not match %d pixels",
			typeMap.Width, typeMap.Height, len(typeMap.Pixels))
	}
	if instMap.Width != typeMap.Width || instMap.Height != typeMap.Height {
		return nil, &ShapeMismatchError{
			InstWidth: instMap.Width, InstHeight: instMap.Height,
			TypeWidth: typeMap.Width, TypeHeight: typeMap.Height,
		}
	}

	// One pass over the grid gathers every instance's pixel count, coordinate
	// sums and type histogram, instead of re-scanning per label.
	cells := make(map[uint32]*cellAccum)
	for y := 0; y < instMap.Height; y++ {
		row := y * instMap.Width
		for x := 0; x < instMap.Width; x++ {
			label := instMap.Pixels[row+x]
			if label == 0 {
				continue
			}
			acc, ok := cells[label]
			if !ok {
				acc = &cellAccum{typeCounts: make(map[uint32]int)}
				cells[label] = acc
			}
			acc.count++
			acc.sumX += int64(x)
			acc.sumY += int64(y)
			if t := typeMap.Pixels[row+x]; t != 0 {
				acc.typeCounts[t]++
			}
		}
	}

	labels := make([]uint32, 0, len(cells))
	for label := range cells {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	records := make([]CellRecord, 0, len(labels))
	for _, label := range labels {
		acc := cells[label]
		cellType, err := majorityType(acc.typeCounts)
		if err != nil {
			return nil, &UntypedInstanceError{Label: label}
		}
		records = append(records, CellRecord{
			X:    roundCoord(float64(acc.sumX) / float64(acc.count)),
			Y:    roundCoord(float64(acc.sumY) / float64(acc.count)),
			Type: int(cellType),
		})
	}
	return records, nil
}

// majorityType picks the most frequent type; ascending iteration with a
// strict-greater comparison makes the smallest type value win count ties.
func majorityType(counts map[uint32]int) (uint32, error) {
	if len(counts) == 0 {
		return 0, fmt.Errorf("empty type histogram")
	}
	types := make([]uint32, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	best := types[0]
	bestCount := counts[best]
	for _, t := range types[1:] {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best, nil
}

// roundCoord rounds half away from zero. Mask coordinates are never negative,
// so this is equivalently "round half up"; the policy is fixed here so exact
// centroid expectations hold everywhere.
func roundCoord(v float64) int {
	return int(math.Round(v))
}
