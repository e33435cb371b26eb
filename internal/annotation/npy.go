package annotation

import (
	"archive/zip"
	"fmt"
	"strings"

	"github.com/sbinet/npyio"
)

// Archive member names expected in an annotation file. np.savez stores each
// named array with a ".npy" suffix.
const (
	instMapMember = "inst_map"
	typeMapMember = "type_map"
)

// AnnotationFormatError reports a structurally malformed annotation payload:
// a missing map member, a non-2D array, an unsupported dtype, or a shape
// mismatch between the two maps.
type AnnotationFormatError struct {
	Path   string
	Reason string
}

func (e *AnnotationFormatError) Error() string {
	return fmt.Sprintf("annotation %s: %s", e.Path, e.Reason)
}

// LoadMaps reads an annotation archive and returns its instance and type
// maps, widened to uint32 whatever integer dtype they were stored with.
//
// The file is a .npz archive (a zip of .npy members) holding two 2-D integer
// arrays named "inst_map" and "type_map" of identical shape. I/O failures are
// returned as wrapped errors; structural problems as *AnnotationFormatError.
func LoadMaps(path string) (instMap, typeMap LabelMap, err error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return LabelMap{}, LabelMap{}, fmt.Errorf("failed to open annotation: %w", err)
	}
	defer archive.Close()

	members := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		members[strings.TrimSuffix(f.Name, ".npy")] = f
	}

	instMap, err = readMember(path, members, instMapMember)
	if err != nil {
		return LabelMap{}, LabelMap{}, err
	}
	typeMap, err = readMember(path, members, typeMapMember)
	if err != nil {
		return LabelMap{}, LabelMap{}, err
	}
	if instMap.Width != typeMap.Width || instMap.Height != typeMap.Height {
		return LabelMap{}, LabelMap{}, &AnnotationFormatError{
			Path: path,
			Reason: fmt.Sprintf("inst_map %dx%d and type_map %dx%d differ in shape",
				instMap.Width, instMap.Height, typeMap.Width, typeMap.Height),
		}
	}
	return instMap, typeMap, nil
}

func readMember(path string, members map[string]*zip.File, name string) (LabelMap, error) {
	f, ok := members[name]
	if !ok {
		return LabelMap{}, &AnnotationFormatError{Path: path, Reason: fmt.Sprintf("missing %q member", name)}
	}
	rc, err := f.Open()
	if err != nil {
		return LabelMap{}, fmt.Errorf("failed to open %s member %q: %w", path, name, err)
	}
	defer rc.Close()

	r, err := npyio.NewReader(rc)
	if err != nil {
		return LabelMap{}, &AnnotationFormatError{Path: path, Reason: fmt.Sprintf("%s: %v", name, err)}
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return LabelMap{}, &AnnotationFormatError{Path: path,
			Reason: fmt.Sprintf("%s has %d dimensions, want 2", name, len(shape))}
	}
	if r.Header.Descr.Fortran {
		return LabelMap{}, &AnnotationFormatError{Path: path,
			Reason: fmt.Sprintf("%s is Fortran-ordered, want C order", name)}
	}

	pixels, err := readWidened(r)
	if err != nil {
		return LabelMap{}, &AnnotationFormatError{Path: path, Reason: fmt.Sprintf("%s: %v", name, err)}
	}
	height, width := shape[0], shape[1]
	if len(pixels) != width*height {
		return LabelMap{}, &AnnotationFormatError{Path: path,
			Reason: fmt.Sprintf("%s has %d values for shape %dx%d", name, len(pixels), width, height)}
	}
	return LabelMap{Width: width, Height: height, Pixels: pixels}, nil
}

// readWidened decodes the array payload in its stored integer dtype and
// widens every value to uint32. Signed dtypes are accepted because some
// annotation writers store label grids as int32/int64, but negative labels
// are malformed.
func readWidened(r *npyio.Reader) ([]uint32, error) {
	dtype := strings.TrimLeft(r.Header.Descr.Type, "<>|=")
	switch dtype {
	case "u1":
		var data []uint8
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		out := make([]uint32, len(data))
		for i, v := range data {
			out[i] = uint32(v)
		}
		return out, nil
	case "u2":
		var data []uint16
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		out := make([]uint32, len(data))
		for i, v := range data {
			out[i] = uint32(v)
		}
		return out, nil
	case "u4":
		var data []uint32
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return data, nil
	case "u8":
		var data []uint64
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		out := make([]uint32, len(data))
		for i, v := range data {
			if v > maxLabel {
				return nil, fmt.Errorf("label %d overflows uint32", v)
			}
			out[i] = uint32(v)
		}
		return out, nil
	case "i1":
		var data []int8
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return widenSigned(data)
	case "i2":
		var data []int16
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return widenSigned(data)
	case "i4":
		var data []int32
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return widenSigned(data)
	case "i8":
		var data []int64
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return widenSigned(data)
	default:
		return nil, fmt.Errorf("unsupported dtype %q", r.Header.Descr.Type)
	}
}

const maxLabel = 1<<32 - 1

func widenSigned[T int8 | int16 | int32 | int64](data []T) ([]uint32, error) {
	out := make([]uint32, len(data))
	for i, v := range data {
		if v < 0 {
			return nil, fmt.Errorf("negative label %d", v)
		}
		if uint64(v) > maxLabel {
			return nil, fmt.Errorf("label %d overflows uint32", v)
		}
		out[i] = uint32(v)
	}
	return out, nil
}
