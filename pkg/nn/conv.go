package nn

import (
	"fmt"
	"math"
)

var (
	_ Layer = (*Conv3D)(nil)
	_ Layer = (*MaxPool3D)(nil)
	_ Layer = (*BNConv3D)(nil)
)

// Padding selects how convolution and pooling handle borders
type Padding int

const (
	// Same pads the input so the output extent is ceil(in/stride)
	Same Padding = iota

	// Valid uses no padding; every window must fit inside the input
	Valid
)

// convExtent returns the output extent of one axis
func convExtent(in, k, stride int, pad Padding) (int, error) {
	if pad == Same {
		return (in + stride - 1) / stride, nil
	}
	if in < k {
		return 0, fmt.Errorf("input extent %d is smaller than window %d without padding", in, k)
	}
	return (in-k)/stride + 1, nil
}

// padBefore returns the leading pad of one axis under Same padding.
// The total pad is split with the smaller half leading.
func padBefore(in, out, k, stride int) int {
	total := (out-1)*stride + k - in
	if total < 0 {
		total = 0
	}
	return total / 2
}

// Conv3D is a 3D convolution over NDHWC tensors with per-axis strides.
// Weights are laid out kernel-major as (kd, kh, kw, inC, outC). Bias is
// optional; a nil slice means no bias term.
type Conv3D struct {
	name string

	Weights []float64
	Bias    []float64

	KD, KH, KW int
	InC, OutC  int
	SD, SH, SW int
	Pad        Padding
}

// NewConv3D creates a convolution with zeroed weights and no bias
func NewConv3D(name string, kernel [3]int, inC, outC int, strides [3]int, pad Padding) *Conv3D {
	return &Conv3D{
		name:    name,
		Weights: make([]float64, kernel[0]*kernel[1]*kernel[2]*inC*outC),
		KD:      kernel[0], KH: kernel[1], KW: kernel[2],
		InC: inC, OutC: outC,
		SD: strides[0], SH: strides[1], SW: strides[2],
		Pad: pad,
	}
}

func (l *Conv3D) Name() string { return l.name }

// FanIn returns the number of inputs feeding one output unit
func (l *Conv3D) FanIn() int {
	return l.KD * l.KH * l.KW * l.InC
}

// OutShape computes the output shape for an input shape
func (l *Conv3D) OutShape(in [5]int) ([5]int, error) {
	if in[4] != l.InC {
		return [5]int{}, fmt.Errorf("%s: expected %d input channels, got %d", l.name, l.InC, in[4])
	}

	d, err := convExtent(in[1], l.KD, l.SD, l.Pad)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: depth axis: %w", l.name, err)
	}
	h, err := convExtent(in[2], l.KH, l.SH, l.Pad)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: height axis: %w", l.name, err)
	}
	w, err := convExtent(in[3], l.KW, l.SW, l.Pad)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: width axis: %w", l.name, err)
	}

	return [5]int{in[0], d, h, w, l.OutC}, nil
}

// Apply runs the convolution
func (l *Conv3D) Apply(x *Tensor, _ bool) (*Tensor, error) {
	shape, err := l.OutShape(x.Shape())
	if err != nil {
		return nil, err
	}
	outD, outH, outW := shape[1], shape[2], shape[3]

	var pd, ph, pw int
	if l.Pad == Same {
		pd = padBefore(x.D, outD, l.KD, l.SD)
		ph = padBefore(x.H, outH, l.KH, l.SH)
		pw = padBefore(x.W, outW, l.KW, l.SW)
	}

	out := NewTensor(x.N, outD, outH, outW, l.OutC)

	for n := 0; n < x.N; n++ {
		for oz := 0; oz < outD; oz++ {
			iz0 := oz*l.SD - pd

			for oy := 0; oy < outH; oy++ {
				iy0 := oy*l.SH - ph

				for ox := 0; ox < outW; ox++ {
					ix0 := ox*l.SW - pw
					outBase := out.Index(n, oz, oy, ox, 0)

					for kz := 0; kz < l.KD; kz++ {
						iz := iz0 + kz
						if iz < 0 || iz >= x.D {
							continue
						}

						for ky := 0; ky < l.KH; ky++ {
							iy := iy0 + ky
							if iy < 0 || iy >= x.H {
								continue
							}

							for kx := 0; kx < l.KW; kx++ {
								ix := ix0 + kx
								if ix < 0 || ix >= x.W {
									continue
								}

								inBase := x.Index(n, iz, iy, ix, 0)
								wBase := (((kz*l.KH+ky)*l.KW + kx) * l.InC) * l.OutC

								for ci := 0; ci < l.InC; ci++ {
									v := x.Data[inBase+ci]
									if v == 0 {
										continue
									}
									wRow := l.Weights[wBase+ci*l.OutC : wBase+(ci+1)*l.OutC]
									for co, wv := range wRow {
										out.Data[outBase+co] += v * wv
									}
								}
							}
						}
					}

					if l.Bias != nil {
						for co := 0; co < l.OutC; co++ {
							out.Data[outBase+co] += l.Bias[co]
						}
					}
				}
			}
		}
	}

	return out, nil
}

// MaxPool3D takes the maximum over pooling windows, VALID padding
type MaxPool3D struct {
	name string

	PD, PH, PW int
	SD, SH, SW int
}

// NewMaxPool3D creates a max-pooling layer
func NewMaxPool3D(name string, pool, strides [3]int) *MaxPool3D {
	return &MaxPool3D{
		name: name,
		PD:   pool[0], PH: pool[1], PW: pool[2],
		SD: strides[0], SH: strides[1], SW: strides[2],
	}
}

func (l *MaxPool3D) Name() string { return l.name }

// OutShape computes the pooled shape
func (l *MaxPool3D) OutShape(in [5]int) ([5]int, error) {
	d, err := convExtent(in[1], l.PD, l.SD, Valid)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: depth axis: %w", l.name, err)
	}
	h, err := convExtent(in[2], l.PH, l.SH, Valid)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: height axis: %w", l.name, err)
	}
	w, err := convExtent(in[3], l.PW, l.SW, Valid)
	if err != nil {
		return [5]int{}, fmt.Errorf("%s: width axis: %w", l.name, err)
	}
	return [5]int{in[0], d, h, w, in[4]}, nil
}

// Apply pools each window down to its maximum
func (l *MaxPool3D) Apply(x *Tensor, _ bool) (*Tensor, error) {
	shape, err := l.OutShape(x.Shape())
	if err != nil {
		return nil, err
	}
	outD, outH, outW := shape[1], shape[2], shape[3]

	out := NewTensor(x.N, outD, outH, outW, x.C)

	for n := 0; n < x.N; n++ {
		for oz := 0; oz < outD; oz++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					outBase := out.Index(n, oz, oy, ox, 0)
					for c := 0; c < x.C; c++ {
						out.Data[outBase+c] = math.Inf(-1)
					}

					for kz := 0; kz < l.PD; kz++ {
						for ky := 0; ky < l.PH; ky++ {
							for kx := 0; kx < l.PW; kx++ {
								inBase := x.Index(n, oz*l.SD+kz, oy*l.SH+ky, ox*l.SW+kx, 0)
								for c := 0; c < x.C; c++ {
									if v := x.Data[inBase+c]; v > out.Data[outBase+c] {
										out.Data[outBase+c] = v
									}
								}
							}
						}
					}
				}
			}
		}
	}

	return out, nil
}

// BNConv3D is the fused convolution + batch normalization + activation
// unit the residual network is assembled from.
type BNConv3D struct {
	name string

	Conv *Conv3D
	BN   *BatchNorm
	Act  Activation
}

// NewBNConv3D creates a fused unit with Same padding and no conv bias;
// the batch norm shift takes the place of the bias term.
func NewBNConv3D(name string, kernel [3]int, inC, outC int, strides [3]int, act Activation) *BNConv3D {
	return &BNConv3D{
		name: name,
		Conv: NewConv3D(name+"/conv", kernel, inC, outC, strides, Same),
		BN:   NewBatchNorm(name+"/bn", outC),
		Act:  act,
	}
}

func (l *BNConv3D) Name() string { return l.name }

// OutShape follows the embedded convolution
func (l *BNConv3D) OutShape(in [5]int) ([5]int, error) {
	return l.Conv.OutShape(in)
}

// Apply runs convolution, normalization and activation in sequence
func (l *BNConv3D) Apply(x *Tensor, training bool) (*Tensor, error) {
	out, err := l.Conv.Apply(x, training)
	if err != nil {
		return nil, err
	}

	out, err = l.BN.Apply(out, training)
	if err != nil {
		return nil, err
	}

	if l.Act != ActIdentity {
		for i, v := range out.Data {
			out.Data[i] = l.Act.apply(v)
		}
	}
	return out, nil
}
