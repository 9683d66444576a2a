package metrics

import (
	"math"
	"testing"

	"ctvoxel/pkg/volume"
)

// rampVolume fills a volume with ascending voxel values 0..n-1
func rampVolume(depth, height, width int) *volume.Volume {
	v := volume.New(depth, height, width)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	return v
}

func TestCompareIdenticalVolumes(t *testing.T) {
	a := rampVolume(4, 8, 8)
	b := a.Clone()

	rep, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if rep.RMSE != 0 {
		t.Errorf("RMSE = %v, want 0", rep.RMSE)
	}
	if rep.MAE != 0 {
		t.Errorf("MAE = %v, want 0", rep.MAE)
	}
	if !math.IsInf(rep.PSNR, 1) {
		t.Errorf("PSNR = %v, want +Inf", rep.PSNR)
	}
	if math.Abs(rep.SSIM-1) > 1e-9 {
		t.Errorf("SSIM = %v, want 1", rep.SSIM)
	}
	if rep.EntropyDiff != 0 {
		t.Errorf("entropy difference = %v, want 0", rep.EntropyDiff)
	}
	if rep.MI <= 0 {
		t.Errorf("MI = %v, want positive for identical varied volumes", rep.MI)
	}
}

func TestComparePairValidation(t *testing.T) {
	a := rampVolume(2, 3, 4)

	if _, err := Compare(a, rampVolume(2, 3, 5)); err == nil {
		t.Error("expected error for mismatched shapes")
	}
	if _, err := Compare(nil, a); err == nil {
		t.Error("expected error for nil reference")
	}
	if _, err := Compare(a, nil); err == nil {
		t.Error("expected error for nil test volume")
	}
	if _, err := Compare(volume.New(0, 3, 4), volume.New(0, 3, 4)); err == nil {
		t.Error("expected error for empty volumes")
	}
}

func TestRMSEAndMAEKnownOffset(t *testing.T) {
	a := volume.New(3, 4, 5)
	b := volume.New(3, 4, 5)
	b.Fill(0.5)

	rmse, err := RMSE(a, b)
	if err != nil {
		t.Fatalf("RMSE failed: %v", err)
	}
	if math.Abs(rmse-0.5) > 1e-12 {
		t.Errorf("RMSE = %v, want 0.5", rmse)
	}

	mae, err := MAE(a, b)
	if err != nil {
		t.Fatalf("MAE failed: %v", err)
	}
	if math.Abs(mae-0.5) > 1e-12 {
		t.Errorf("MAE = %v, want 0.5", mae)
	}
}

func TestPSNRKnownRatio(t *testing.T) {
	// Reference range 2, constant error 1: PSNR = 20*log10(2) dB.
	a := volume.New(2, 2, 2)
	for i := range a.Data {
		a.Data[i] = float64(i%2) * 2
	}
	b := a.Clone()
	for i := range b.Data {
		b.Data[i] += 1
	}

	psnr, err := PSNR(a, b)
	if err != nil {
		t.Fatalf("PSNR failed: %v", err)
	}
	want := 20 * math.Log10(2)
	if math.Abs(psnr-want) > 1e-9 {
		t.Errorf("PSNR = %v, want %v", psnr, want)
	}
}

func TestSSIMConstantVolumes(t *testing.T) {
	a := volume.New(2, 4, 4)
	a.Fill(0.5)
	b := volume.New(2, 4, 4)
	b.Fill(0.7)

	got, err := SSIM(a, b)
	if err != nil {
		t.Fatalf("SSIM failed: %v", err)
	}

	// With zero variances the structure term cancels, leaving the
	// luminance ratio (2*0.5*0.7+c1)/(0.5^2+0.7^2+c1) with c1 = 1e-4.
	want := (0.7 + 0.0001) / (0.74 + 0.0001)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SSIM = %v, want %v", got, want)
	}

	same, err := SSIM(a, a.Clone())
	if err != nil {
		t.Fatalf("SSIM failed: %v", err)
	}
	if math.Abs(same-1) > 1e-12 {
		t.Errorf("SSIM of identical constants = %v, want 1", same)
	}
}

func TestSSIMDegradesWithNoise(t *testing.T) {
	a := rampVolume(4, 8, 8)

	// Alternate large voxel perturbations to destroy local structure.
	b := a.Clone()
	for i := range b.Data {
		if i%2 == 0 {
			b.Data[i] += 100
		} else {
			b.Data[i] -= 100
		}
	}

	clean, err := SSIM(a, a.Clone())
	if err != nil {
		t.Fatalf("SSIM failed: %v", err)
	}
	noisy, err := SSIM(a, b)
	if err != nil {
		t.Fatalf("SSIM failed: %v", err)
	}

	if noisy >= clean {
		t.Errorf("noisy SSIM %v should be below clean SSIM %v", noisy, clean)
	}
	if noisy < -1 || noisy > 1 {
		t.Errorf("SSIM = %v outside [-1,1]", noisy)
	}
}

func TestEntropyUniformRamp(t *testing.T) {
	// 256 evenly spread values fill all 256 bins once: exactly 8 bits.
	v := rampVolume(1, 16, 16)

	h, err := Entropy(v)
	if err != nil {
		t.Fatalf("Entropy failed: %v", err)
	}
	if math.Abs(h-8) > 1e-12 {
		t.Errorf("entropy = %v, want 8", h)
	}
}

func TestEntropyConstant(t *testing.T) {
	v := volume.New(4, 4, 4)
	v.Fill(3.25)

	h, err := Entropy(v)
	if err != nil {
		t.Fatalf("Entropy failed: %v", err)
	}
	if h != 0 {
		t.Errorf("entropy of constant volume = %v, want 0", h)
	}
}

func TestEntropyDifference(t *testing.T) {
	ramp := rampVolume(1, 16, 16)
	flat := volume.New(1, 16, 16)
	flat.Fill(1)

	diff, err := EntropyDifference(ramp, flat)
	if err != nil {
		t.Fatalf("EntropyDifference failed: %v", err)
	}
	if math.Abs(diff-8) > 1e-12 {
		t.Errorf("entropy difference = %v, want 8", diff)
	}
}

func TestMutualInformationIdentityRamp(t *testing.T) {
	// 64 evenly spread values land in 64 distinct joint cells, so the
	// pairing is fully informative: MI = log2(64) = 6 bits.
	v := rampVolume(4, 4, 4)

	mi, err := MutualInformation(v, v.Clone())
	if err != nil {
		t.Fatalf("MutualInformation failed: %v", err)
	}
	if math.Abs(mi-6) > 1e-12 {
		t.Errorf("MI = %v, want 6", mi)
	}
}

func TestMutualInformationConstant(t *testing.T) {
	ramp := rampVolume(4, 4, 4)
	flat := volume.New(4, 4, 4)
	flat.Fill(2)

	mi, err := MutualInformation(ramp, flat)
	if err != nil {
		t.Fatalf("MutualInformation failed: %v", err)
	}
	if mi != 0 {
		t.Errorf("MI against constant volume = %v, want 0", mi)
	}
}

func TestMutualInformationOrdering(t *testing.T) {
	a := rampVolume(4, 8, 8)

	// Mild distortion keeps most of the pairing; heavy shuffling of
	// intensity structure should lose information.
	mild := a.Clone()
	for i := range mild.Data {
		mild.Data[i] += float64(i%3) * 0.1
	}
	scrambled := a.Clone()
	for i := range scrambled.Data {
		scrambled.Data[i] = float64((i * 97) % 256)
	}

	miMild, err := MutualInformation(a, mild)
	if err != nil {
		t.Fatalf("MutualInformation failed: %v", err)
	}
	miScrambled, err := MutualInformation(a, scrambled)
	if err != nil {
		t.Fatalf("MutualInformation failed: %v", err)
	}

	if miMild <= miScrambled {
		t.Errorf("mild distortion MI %v should exceed scrambled MI %v", miMild, miScrambled)
	}
}
