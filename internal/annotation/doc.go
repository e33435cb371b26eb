// Package annotation converts pixel-level cell segmentation ground truth into
// point-level cell annotations.
//
// The input is a pair of equally shaped label grids: an instance map, where
// every connected region of one positive integer is one segmented cell, and a
// type map, giving the semantic class of each pixel. Extract reduces each
// instance to a single CellRecord holding the rounded centroid of its pixel
// mask and the majority class among its non-background type pixels.
//
// # Coordinate System
//
// Grids are row-major with (0,0) at the top-left. CellRecord coordinates are
// in (column, row) order, i.e. X is the horizontal pixel position, matching
// the keypoint convention used by the dataset and transform packages.
//
// # Determinism
//
// Extract enumerates instance labels in ascending numeric order, so its
// output order is reproducible for a given input. Type-vote ties are broken
// toward the smallest type value. Centroid coordinates are rounded half away
// from zero.
//
// # Annotation Files
//
// LoadMaps reads the on-disk annotation format: a .npz archive with two 2-D
// integer array members, "inst_map" and "type_map". Values are widened to
// uint32 so instance labels may exceed the width of the stored dtype.
package annotation
