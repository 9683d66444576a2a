// Package visualization renders 2D grayscale views of scan volumes for
// visual inspection: single slices, slice sequences and cropped
// subregions.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"ctvoxel/pkg/volume"
)

// Viewer renders slices of a volume. Pixel intensities are normalized
// onto the volume's full dynamic range once at construction.
type Viewer struct {
	vol *volume.Volume

	// min and scale map voxel values onto the 8-bit gray range
	min   float64
	scale float64
}

// NewViewer creates a viewer over the given volume
func NewViewer(vol *volume.Volume) (*Viewer, error) {
	if vol == nil {
		return nil, fmt.Errorf("volume is nil")
	}
	if vol.Len() == 0 {
		return nil, fmt.Errorf("volume is empty")
	}

	min, max := vol.MinMax()
	v := &Viewer{vol: vol, min: min}
	if max > min {
		v.scale = 255 / (max - min)
	}
	return v, nil
}

func (v *Viewer) gray(value float64) color.Gray {
	g := (value - v.min) * v.scale
	if g < 0 {
		g = 0
	} else if g > 255 {
		g = 255
	}
	return color.Gray{Y: uint8(g + 0.5)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis: "z" yields the XY plane, "y" the XZ plane and "x" the YZ plane.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray

	switch axis {
	case "x", "X":
		if position >= v.vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.vol.Width)
		}

		img = image.NewGray(image.Rect(0, 0, v.vol.Depth, v.vol.Height))
		for y := 0; y < v.vol.Height; y++ {
			for z := 0; z < v.vol.Depth; z++ {
				img.SetGray(z, y, v.gray(v.vol.At(z, y, position)))
			}
		}

	case "y", "Y":
		if position >= v.vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.vol.Height)
		}

		img = image.NewGray(image.Rect(0, 0, v.vol.Width, v.vol.Depth))
		for z := 0; z < v.vol.Depth; z++ {
			for x := 0; x < v.vol.Width; x++ {
				img.SetGray(x, z, v.gray(v.vol.At(z, position, x)))
			}
		}

	case "z", "Z":
		if position >= v.vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.vol.Depth)
		}

		img = image.NewGray(image.Rect(0, 0, v.vol.Width, v.vol.Height))
		for y := 0; y < v.vol.Height; y++ {
			for x := 0; x < v.vol.Width; x++ {
				img.SetGray(x, y, v.gray(v.vol.At(position, y, x)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume. Coordinates
// and sizes are given in (z, y, x) order to match the voxel layout.
func (v *Viewer) ExtractRegion(startZ, startY, startX, sizeZ, sizeY, sizeX int) (*volume.Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size extents must be positive")
	}

	if startZ+sizeZ > v.vol.Depth || startY+sizeY > v.vol.Height || startX+sizeX > v.vol.Width {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := volume.New(sizeZ, sizeY, sizeX)
	region.Spacing = v.vol.Spacing

	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region.Set(z, y, x, v.vol.At(startZ+z, startY+y, startX+x))
			}
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every step-th slice along the
// specified axis into the output directory.
func (v *Viewer) SaveSliceSequence(axis, outputDir string, step int) error {
	if step < 1 {
		return fmt.Errorf("step must be at least 1, got %d", step)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos += step {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
