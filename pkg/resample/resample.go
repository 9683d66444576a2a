// Package resample rescales 3D scan volumes to new shapes using
// B-spline interpolation of configurable order.
//
// The central entry point, Resample, writes into a caller-owned,
// pre-allocated output buffer and never reallocates it, so a batch
// pipeline can manage memory for many volumes without per-item
// allocation overhead. Calls are pure and hold no locks, which makes it
// safe to resample many independent volumes from a pool of goroutines
// as long as each in-flight call exclusively owns its output buffer.
package resample

import (
	"fmt"
	"math"

	"ctvoxel/pkg/volume"
)

// Supported spline degrees. Order 0 is nearest neighbour, order 3 the
// cubic default and order 5 the highest supported degree.
const (
	MinOrder     = 0
	MaxOrder     = 5
	DefaultOrder = 3
)

// Resample rescales src into dst using spline interpolation of the
// given order. Every voxel of dst is replaced; nothing is blended with
// previous contents. The per-axis scale factors are derived from the
// two shapes, so the destination shape alone selects the zoom.
//
// The accumulator is an opaque value for the surrounding pipeline: it
// is returned unchanged, together with the shape of dst, so callers
// dispatching many resamples can collect per-item output shapes without
// re-deriving them. On error the accumulator is still returned and dst
// is untouched.
func Resample(src, dst *volume.Volume, order int, acc any) (any, [3]int, error) {
	if err := validateVolumes(src, dst); err != nil {
		return acc, [3]int{}, err
	}
	if order < MinOrder || order > MaxOrder {
		return acc, [3]int{}, fmt.Errorf("interpolation order %d outside supported range [%d,%d]",
			order, MinOrder, MaxOrder)
	}

	coeffs := splineCoefficients(src, order)

	taps := order + 1
	zt := buildAxisTable(src.Depth, dst.Depth, order, src.Height*src.Width)
	yt := buildAxisTable(src.Height, dst.Height, order, src.Width)
	xt := buildAxisTable(src.Width, dst.Width, order, 1)

	out := dst.Data
	o := 0
	for z := 0; z < dst.Depth; z++ {
		zi := zt.idx[z*taps : (z+1)*taps]
		zw := zt.wts[z*taps : (z+1)*taps]

		for y := 0; y < dst.Height; y++ {
			yi := yt.idx[y*taps : (y+1)*taps]
			yw := yt.wts[y*taps : (y+1)*taps]

			for x := 0; x < dst.Width; x++ {
				xi := xt.idx[x*taps : (x+1)*taps]
				xw := xt.wts[x*taps : (x+1)*taps]

				sum := 0.0
				for a := 0; a < taps; a++ {
					planeBase := zi[a]
					wa := zw[a]

					for b := 0; b < taps; b++ {
						rowBase := planeBase + yi[b]
						wab := wa * yw[b]

						for c := 0; c < taps; c++ {
							sum += wab * xw[c] * coeffs[rowBase+xi[c]]
						}
					}
				}

				out[o] = sum
				o++
			}
		}
	}

	return acc, dst.Shape(), nil
}

// ScaleFactors returns the per-axis ratio of destination to source
// extent that drives a resampling between the two volumes.
func ScaleFactors(src, dst *volume.Volume) ([3]float64, error) {
	if err := validateVolumes(src, dst); err != nil {
		return [3]float64{}, err
	}

	s := src.Shape()
	d := dst.Shape()

	var scale [3]float64
	for i := range scale {
		scale[i] = float64(d[i]) / float64(s[i])
	}
	return scale, nil
}

// Interpolator rescales a volume by a per-axis scale vector into a
// freshly allocated volume. It abstracts the interpolation backend for
// callers that do not manage their own output buffers.
type Interpolator interface {
	Interpolate(src *volume.Volume, scale [3]float64, order int) (*volume.Volume, error)
}

// Spline is the B-spline backend of the Interpolator interface.
type Spline struct{}

var _ Interpolator = Spline{}

// Interpolate resamples src by the given per-axis scale factors into a
// new volume whose extents are the rounded scaled source extents.
func (Spline) Interpolate(src *volume.Volume, scale [3]float64, order int) (*volume.Volume, error) {
	if src == nil {
		return nil, fmt.Errorf("source volume is nil")
	}
	for i, s := range scale {
		if s <= 0 || math.IsInf(s, 0) || math.IsNaN(s) {
			return nil, fmt.Errorf("scale factor %v for axis %d is not a positive number", s, i)
		}
	}

	shape := src.Shape()
	dst := volume.New(
		int(math.Round(float64(shape[0])*scale[0])),
		int(math.Round(float64(shape[1])*scale[1])),
		int(math.Round(float64(shape[2])*scale[2])),
	)

	if _, _, err := Resample(src, dst, order, nil); err != nil {
		return nil, err
	}
	return dst, nil
}

// validateVolumes rejects inputs that cannot drive a resampling before
// anything is written to the output buffer.
func validateVolumes(src, dst *volume.Volume) error {
	if src == nil {
		return fmt.Errorf("source volume is nil")
	}
	if dst == nil {
		return fmt.Errorf("output buffer is nil")
	}
	if err := checkShape(src, "source volume"); err != nil {
		return err
	}
	if err := checkShape(dst, "output buffer"); err != nil {
		return err
	}
	if &src.Data[0] == &dst.Data[0] {
		return fmt.Errorf("source volume and output buffer share the same data")
	}
	return nil
}

// checkShape verifies that a volume is a well-formed rank-3 array with
// positive extents. A zero-length axis would divide by zero in the
// scale computation and is reported as such.
func checkShape(v *volume.Volume, name string) error {
	for i, n := range v.Shape() {
		if n <= 0 {
			return fmt.Errorf("%s axis %d has non-positive extent %d; cannot compute a scale factor",
				name, i, n)
		}
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("%s data length %d does not match shape (%d,%d,%d)",
			name, len(v.Data), v.Depth, v.Height, v.Width)
	}
	return nil
}

// axisTable holds the precomputed interpolation taps for one output
// axis: for every output position, order+1 source offsets (folded back
// into range and scaled by the axis stride) and their basis weights.
type axisTable struct {
	idx []int
	wts []float64
}

// buildAxisTable precomputes taps for one axis. Coordinates are aligned
// so the first and last samples of source and destination coincide; a
// destination axis of extent 1 samples the source origin.
func buildAxisTable(srcN, dstN, order, stride int) axisTable {
	taps := order + 1
	t := axisTable{
		idx: make([]int, dstN*taps),
		wts: make([]float64, dstN*taps),
	}

	step := 0.0
	if dstN > 1 {
		step = float64(srcN-1) / float64(dstN-1)
	}

	for j := 0; j < dstN; j++ {
		c := float64(j) * step
		start := supportStart(c, order)
		splineWeights(order, c, start, t.wts[j*taps:(j+1)*taps])
		for k := 0; k < taps; k++ {
			t.idx[j*taps+k] = mirrorIndex(start+k, srcN) * stride
		}
	}

	return t
}
