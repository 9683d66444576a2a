// Package volume defines the 3D scan volume type shared by the resampling,
// metrics and visualization packages. Voxel data is stored as a flat slice
// in z-major order so that numeric loops can run over contiguous memory.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Volume represents a single 3D scan or one channel of a scan
type Volume struct {
	// Data is the voxel data as a 1D array in z-major order,
	// indexed as z*Height*Width + y*Width + x
	Data []float64

	// Depth is the number of slices along the z axis
	Depth int

	// Height is the number of rows along the y axis
	Height int

	// Width is the number of columns along the x axis
	Width int

	// Spacing is the physical size of each voxel in mm
	Spacing struct {
		X, Y, Z float64
	}
}

// New creates a volume of the given shape with zeroed voxel data.
// Extents may be zero (the resampler rejects such volumes itself)
// but must not be negative.
func New(depth, height, width int) *Volume {
	if depth < 0 || height < 0 || width < 0 {
		return &Volume{}
	}

	return &Volume{
		Data:   make([]float64, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}
}

// NewFromData wraps existing voxel data in a volume of the given shape.
// The data is used directly, not copied.
func NewFromData(data []float64, depth, height, width int) (*Volume, error) {
	if depth < 0 || height < 0 || width < 0 {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) has a negative extent", depth, height, width)
	}

	if len(data) != depth*height*width {
		return nil, fmt.Errorf("data length %d does not match shape (%d,%d,%d)",
			len(data), depth, height, width)
	}

	return &Volume{
		Data:   data,
		Depth:  depth,
		Height: height,
		Width:  width,
	}, nil
}

// Shape returns the axis extents as (depth, height, width)
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Depth * v.Height * v.Width
}

// Index converts (z, y, x) coordinates to a flat data index
func (v *Volume) Index(z, y, x int) int {
	return z*v.Height*v.Width + y*v.Width + x
}

// At returns the voxel value at (z, y, x)
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

// Set stores a voxel value at (z, y, x)
func (v *Volume) Set(z, y, x int, value float64) {
	v.Data[v.Index(z, y, x)] = value
}

// Fill sets every voxel to the given value
func (v *Volume) Fill(value float64) {
	for i := range v.Data {
		v.Data[i] = value
	}
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:    make([]float64, len(v.Data)),
		Depth:   v.Depth,
		Height:  v.Height,
		Width:   v.Width,
		Spacing: v.Spacing,
	}
	copy(out.Data, v.Data)
	return out
}

// MinMax returns the smallest and largest voxel values.
// An empty volume reports (0, 0).
func (v *Volume) MinMax() (float64, float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	return floats.Min(v.Data), floats.Max(v.Data)
}
