// Package metrics provides quality metrics between two equal-shaped
// volumes. The CLI uses them to score round-trip resampling fidelity
// per interpolation order.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ctvoxel/pkg/volume"
)

// Histogram resolutions. Marginal entropy uses a fine histogram; the
// joint histogram for mutual information uses a coarser one so its
// cells stay populated on typical volume sizes.
const (
	entropyBins = 256
	jointBins   = 64
)

// Report aggregates every comparison metric for one volume pair
type Report struct {
	// RMSE is the root mean square voxel error
	RMSE float64

	// MAE is the mean absolute voxel error
	MAE float64

	// PSNR is the peak signal-to-noise ratio in dB, +Inf for
	// identical volumes
	PSNR float64

	// SSIM is the global structural similarity index
	SSIM float64

	// MI is the mutual information in bits
	MI float64

	// EntropyDiff is the absolute Shannon entropy difference in bits
	EntropyDiff float64
}

// Compare computes all metrics between a reference volume and a test
// volume of the same shape.
func Compare(ref, test *volume.Volume) (*Report, error) {
	if err := checkPair(ref, test); err != nil {
		return nil, err
	}

	rep := &Report{
		RMSE:        rootMeanSquareError(ref.Data, test.Data),
		MAE:         meanAbsoluteError(ref.Data, test.Data),
		SSIM:        structuralSimilarity(ref.Data, test.Data),
		MI:          mutualInformation(ref.Data, test.Data),
		EntropyDiff: math.Abs(entropy(ref.Data) - entropy(test.Data)),
	}
	rep.PSNR = peakSignalToNoise(ref.Data, rep.RMSE)
	return rep, nil
}

// RMSE computes the root mean square error between two volumes
func RMSE(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return rootMeanSquareError(ref.Data, test.Data), nil
}

// MAE computes the mean absolute error between two volumes
func MAE(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return meanAbsoluteError(ref.Data, test.Data), nil
}

// PSNR computes the peak signal-to-noise ratio in dB, with the peak
// taken as the reference volume's dynamic range. Identical volumes
// report +Inf.
func PSNR(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return peakSignalToNoise(ref.Data, rootMeanSquareError(ref.Data, test.Data)), nil
}

// SSIM computes the global structural similarity index between two
// volumes. Identical volumes score exactly 1.
func SSIM(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return structuralSimilarity(ref.Data, test.Data), nil
}

// MutualInformation computes the mutual information between the voxel
// intensity distributions of two volumes, in bits, over a joint
// histogram. A constant volume carries no information and scores 0.
func MutualInformation(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return mutualInformation(ref.Data, test.Data), nil
}

// Entropy computes the Shannon entropy of a volume's intensity
// histogram in bits.
func Entropy(v *volume.Volume) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("volume is nil")
	}
	if v.Len() == 0 {
		return 0, fmt.Errorf("volume is empty")
	}
	return entropy(v.Data), nil
}

// EntropyDifference computes the absolute entropy difference between
// two volumes in bits.
func EntropyDifference(ref, test *volume.Volume) (float64, error) {
	if err := checkPair(ref, test); err != nil {
		return 0, err
	}
	return math.Abs(entropy(ref.Data) - entropy(test.Data)), nil
}

func checkPair(ref, test *volume.Volume) error {
	if ref == nil || test == nil {
		return fmt.Errorf("nil volume")
	}
	if ref.Shape() != test.Shape() {
		return fmt.Errorf("volume shapes %v and %v do not match", ref.Shape(), test.Shape())
	}
	if ref.Len() == 0 {
		return fmt.Errorf("volumes are empty")
	}
	return nil
}

func rootMeanSquareError(ref, test []float64) float64 {
	mse := 0.0
	for i := range ref {
		diff := ref[i] - test[i]
		mse += diff * diff
	}
	return math.Sqrt(mse / float64(len(ref)))
}

func meanAbsoluteError(ref, test []float64) float64 {
	sum := 0.0
	for i := range ref {
		sum += math.Abs(ref[i] - test[i])
	}
	return sum / float64(len(ref))
}

func peakSignalToNoise(ref []float64, rmse float64) float64 {
	if rmse == 0 {
		return math.Inf(1)
	}

	peak := floats.Max(ref) - floats.Min(ref)
	if peak <= 0 {
		peak = 1
	}
	return 20 * math.Log10(peak/rmse)
}

func structuralSimilarity(ref, test []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	// Dynamic range from the reference; constant references fall back
	// to a unit range so the stabilizers stay positive.
	l := floats.Max(ref) - floats.Min(ref)
	if l <= 0 {
		l = 1
	}
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	muX := stat.Mean(ref, nil)
	muY := stat.Mean(test, nil)
	sigmaX := stat.Variance(ref, nil)
	sigmaY := stat.Variance(test, nil)
	sigmaXY := stat.Covariance(ref, test, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	return num / den
}

func mutualInformation(a, b []float64) float64 {
	aMin, aMax := floats.Min(a), floats.Max(a)
	bMin, bMax := floats.Min(b), floats.Max(b)
	if aMax <= aMin || bMax <= bMin {
		return 0
	}

	aWidth := (aMax - aMin) / jointBins
	bWidth := (bMax - bMin) / jointBins

	joint := make([]float64, jointBins*jointBins)
	for i := range a {
		ai := binIndex(a[i], aMin, aWidth, jointBins)
		bi := binIndex(b[i], bMin, bWidth, jointBins)
		joint[ai*jointBins+bi]++
	}

	var aMarg, bMarg [jointBins]float64
	for ai := 0; ai < jointBins; ai++ {
		for bi := 0; bi < jointBins; bi++ {
			count := joint[ai*jointBins+bi]
			aMarg[ai] += count
			bMarg[bi] += count
		}
	}

	n := float64(len(a))
	mi := 0.0
	for ai := 0; ai < jointBins; ai++ {
		for bi := 0; bi < jointBins; bi++ {
			pxy := joint[ai*jointBins+bi] / n
			if pxy > 0 {
				mi += pxy * math.Log2(pxy*n*n/(aMarg[ai]*bMarg[bi]))
			}
		}
	}
	return mi
}

func entropy(data []float64) float64 {
	min, max := floats.Min(data), floats.Max(data)
	if max <= min {
		return 0
	}

	hist := make([]float64, entropyBins)
	binWidth := (max - min) / entropyBins
	for _, v := range data {
		hist[binIndex(v, min, binWidth, entropyBins)]++
	}

	n := float64(len(data))
	h := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / n
			h -= p * math.Log2(p)
		}
	}
	return h
}

func binIndex(v, min, width float64, bins int) int {
	idx := int((v - min) / width)
	if idx >= bins {
		idx = bins - 1
	} else if idx < 0 {
		idx = 0
	}
	return idx
}
