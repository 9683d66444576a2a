package resample

import (
	"math"

	"ctvoxel/pkg/volume"
)

// bspline evaluates the centered uniform B-spline basis of the given
// degree at x. The basis is zero outside (-(degree+1)/2, (degree+1)/2).
func bspline(order int, x float64) float64 {
	x = math.Abs(x)

	switch order {
	case 0:
		if x <= 0.5 {
			return 1
		}

	case 1:
		if x < 1 {
			return 1 - x
		}

	case 2:
		if x < 0.5 {
			return 0.75 - x*x
		}
		if x < 1.5 {
			d := x - 1.5
			return 0.5 * d * d
		}

	case 3:
		if x < 1 {
			return 2.0/3.0 - x*x + 0.5*x*x*x
		}
		if x < 2 {
			d := 2 - x
			return d * d * d / 6.0
		}

	case 4:
		if x < 0.5 {
			x2 := x * x
			return x2*(0.25*x2-0.625) + 115.0/192.0
		}
		if x < 1.5 {
			return (55.0 + x*(20.0+x*(-120.0+x*(80.0-16.0*x)))) / 96.0
		}
		if x < 2.5 {
			d := 2.5 - x
			d *= d
			return d * d / 24.0
		}

	case 5:
		if x < 1 {
			x2 := x * x
			return x2*(x2*(0.25-x/12.0)-0.5) + 11.0/20.0
		}
		if x < 2 {
			return 17.0/40.0 + x*(0.625+x*(-1.75+x*(1.25+x*(-0.375+x/24.0))))
		}
		if x < 3 {
			d := 3 - x
			d2 := d * d
			return d2 * d2 * d / 120.0
		}
	}

	return 0
}

// supportStart returns the first source index whose basis function is
// nonzero at coordinate c. Even degrees center their support on the
// nearest sample, odd degrees on the containing interval.
func supportStart(c float64, order int) int {
	if order&1 == 1 {
		return int(math.Floor(c)) - order/2
	}
	return int(math.Floor(c+0.5)) - order/2
}

// splineWeights fills w[0:order+1] with the basis weights of the taps
// starting at the support start index. The weights always sum to 1.
func splineWeights(order int, c float64, start int, w []float64) {
	for k := 0; k <= order; k++ {
		w[k] = bspline(order, c-float64(start+k))
	}
}

// mirrorIndex folds an out-of-range index back into [0, n) by
// whole-sample reflection about the first and last samples.
func mirrorIndex(i, n int) int {
	if n == 1 {
		return 0
	}

	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// filterPoles returns the poles of the recursive prefilter that turns
// samples into B-spline coefficients of the given degree. Degrees 0 and
// 1 interpolate the samples directly and need no prefilter.
func filterPoles(order int) []float64 {
	switch order {
	case 2:
		return []float64{math.Sqrt(8.0) - 3.0}
	case 3:
		return []float64{math.Sqrt(3.0) - 2.0}
	case 4:
		return []float64{
			math.Sqrt(664.0-math.Sqrt(438976.0)) + math.Sqrt(304.0) - 19.0,
			math.Sqrt(664.0+math.Sqrt(438976.0)) - math.Sqrt(304.0) - 19.0,
		}
	case 5:
		return []float64{
			math.Sqrt(67.5-math.Sqrt(4436.25)) + math.Sqrt(26.25) - 6.5,
			math.Sqrt(67.5+math.Sqrt(4436.25)) - math.Sqrt(26.25) - 6.5,
		}
	}
	return nil
}

// filterLine converts the samples in line to B-spline coefficients in
// place: one causal and one anticausal sweep per pole, with boundaries
// handled by whole-sample mirror extension so that constants survive
// filtering exactly.
func filterLine(line []float64, poles []float64) {
	n := len(line)
	if n < 2 {
		return
	}

	gain := 1.0
	for _, z := range poles {
		gain *= (1 - z) * (1 - 1/z)
	}
	for i := range line {
		line[i] *= gain
	}

	for _, z := range poles {
		line[0] = causalInit(line, z)
		for i := 1; i < n; i++ {
			line[i] += z * line[i-1]
		}

		line[n-1] = anticausalInit(line, z)
		for i := n - 2; i >= 0; i-- {
			line[i] = z * (line[i+1] - line[i])
		}
	}
}

// causalInit computes the first causal coefficient for a line extended
// by mirror reflection, summed in closed form over the full period.
func causalInit(line []float64, z float64) float64 {
	n := len(line)
	zn := math.Pow(z, float64(n-1))

	sum := line[0] + zn*line[n-1]
	zi := z
	for i := 1; i < n-1; i++ {
		sum += zi * (line[i] + zn*line[n-1-i])
		zi *= z
	}

	return sum / (1 - zn*zn)
}

// anticausalInit computes the last anticausal coefficient for a
// mirror-extended line.
func anticausalInit(line []float64, z float64) float64 {
	n := len(line)
	return (z / (z*z - 1)) * (z*line[n-2] + line[n-1])
}

// splineCoefficients returns the coefficient grid the interpolation
// weights are applied to. Orders below 2 use the source samples as-is;
// higher orders prefilter a copy of the samples along every axis with
// more than one sample. The source volume is never modified.
func splineCoefficients(src *volume.Volume, order int) []float64 {
	poles := filterPoles(order)
	if poles == nil {
		return src.Data
	}

	coeffs := make([]float64, len(src.Data))
	copy(coeffs, src.Data)

	d, h, w := src.Depth, src.Height, src.Width

	scratch := d
	if h > scratch {
		scratch = h
	}
	if w > scratch {
		scratch = w
	}
	line := make([]float64, scratch)

	// Rows along x are contiguous and can be filtered in place.
	if w > 1 {
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				base := (z*h + y) * w
				filterLine(coeffs[base:base+w], poles)
			}
		}
	}

	if h > 1 {
		col := line[:h]
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				base := z*h*w + x
				for y := 0; y < h; y++ {
					col[y] = coeffs[base+y*w]
				}
				filterLine(col, poles)
				for y := 0; y < h; y++ {
					coeffs[base+y*w] = col[y]
				}
			}
		}
	}

	if d > 1 {
		stride := h * w
		col := line[:d]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				base := y*w + x
				for z := 0; z < d; z++ {
					col[z] = coeffs[base+z*stride]
				}
				filterLine(col, poles)
				for z := 0; z < d; z++ {
					coeffs[base+z*stride] = col[z]
				}
			}
		}
	}

	return coeffs
}
