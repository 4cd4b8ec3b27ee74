package npy

import (
	"fmt"
	"os"

	apperrors "megstats/internal/errors"

	"github.com/sbinet/npyio"
)

// ReadTriangles loads a mesh face table: an integer array of shape
// (n, 3), or flat with a length divisible by 3.
func ReadTriangles(path string) ([][3]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.StorageError(path, err)
	}
	defer f.Close()

	rd, err := npyio.NewReader(f)
	if err != nil {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("failed to decode %s", path), err)
	}
	shape := rd.Header.Descr.Shape
	if len(shape) == 2 && shape[1] != 3 {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: want n×3 faces, got shape %v", path, shape), nil)
	}

	var flat []int
	switch rd.Header.Descr.Type {
	case "<i4", "|i4", "i4":
		var v []int32
		if err := rd.Read(&v); err != nil {
			return nil, apperrors.DataIntegrity(fmt.Sprintf("failed to read %s", path), err)
		}
		for _, x := range v {
			flat = append(flat, int(x))
		}
	default:
		var v []int64
		if err := rd.Read(&v); err != nil {
			return nil, apperrors.DataIntegrity(fmt.Sprintf("failed to read %s", path), err)
		}
		for _, x := range v {
			flat = append(flat, int(x))
		}
	}
	if len(flat)%3 != 0 {
		return nil, apperrors.DataIntegrity(fmt.Sprintf("%s: %d indices is not a whole number of faces", path, len(flat)), nil)
	}

	tris := make([][3]int, len(flat)/3)
	for i := range tris {
		tris[i] = [3]int{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return tris, nil
}
