package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	_ Layer = (*BatchNorm)(nil)
	_ Layer = (*Dense)(nil)
	_ Layer = (*Dropout)(nil)
	_ Layer = (*Flatten)(nil)
	_ Layer = (*ReLU)(nil)
	_ Layer = (*Sigmoid)(nil)
)

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// BatchNorm normalizes activations per channel. In training mode it
// uses the batch moments and folds them into the running estimates; at
// inference it applies the stored moments.
type BatchNorm struct {
	name string

	// Gamma and Beta are the learned scale and shift per channel
	Gamma, Beta []float64

	// Mean and Var are the running moments used at inference
	Mean, Var []float64

	// Momentum controls how quickly the running moments track the
	// batch moments during training
	Momentum float64

	// Eps keeps the normalization stable for tiny variances
	Eps float64
}

// NewBatchNorm creates a batch normalization layer that starts as the
// identity transform (unit gamma and variance, zero beta and mean).
func NewBatchNorm(name string, channels int) *BatchNorm {
	bn := &BatchNorm{
		name:     name,
		Gamma:    make([]float64, channels),
		Beta:     make([]float64, channels),
		Mean:     make([]float64, channels),
		Var:      make([]float64, channels),
		Momentum: 0.99,
		Eps:      1e-5,
	}
	for c := range bn.Gamma {
		bn.Gamma[c] = 1
		bn.Var[c] = 1
	}
	return bn
}

func (l *BatchNorm) Name() string { return l.name }

// OutShape returns the input shape unchanged
func (l *BatchNorm) OutShape(in [5]int) ([5]int, error) {
	if in[4] != len(l.Gamma) {
		return [5]int{}, fmt.Errorf("%s: expected %d channels, got %d", l.name, len(l.Gamma), in[4])
	}
	return in, nil
}

// Apply normalizes the tensor per channel
func (l *BatchNorm) Apply(x *Tensor, training bool) (*Tensor, error) {
	channels := len(l.Gamma)
	if x.C != channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %d", l.name, channels, x.C)
	}

	mean := l.Mean
	variance := l.Var

	if training {
		mean = make([]float64, channels)
		variance = make([]float64, channels)
		count := float64(x.N * x.D * x.H * x.W)

		for i, v := range x.Data {
			mean[i%channels] += v
		}
		for c := range mean {
			mean[c] /= count
		}

		for i, v := range x.Data {
			d := v - mean[i%channels]
			variance[i%channels] += d * d
		}
		for c := range variance {
			variance[c] /= count

			l.Mean[c] = l.Momentum*l.Mean[c] + (1-l.Momentum)*mean[c]
			l.Var[c] = l.Momentum*l.Var[c] + (1-l.Momentum)*variance[c]
		}
	}

	// Fold the affine transform into one multiply-add per element
	scale := make([]float64, channels)
	shift := make([]float64, channels)
	for c := range scale {
		scale[c] = l.Gamma[c] / math.Sqrt(variance[c]+l.Eps)
		shift[c] = l.Beta[c] - mean[c]*scale[c]
	}

	out := NewTensor(x.N, x.D, x.H, x.W, x.C)
	for i, v := range x.Data {
		c := i % channels
		out.Data[i] = v*scale[c] + shift[c]
	}
	return out, nil
}

// Dense is a fully connected layer over flattened features, computed
// with gonum matrices.
type Dense struct {
	name string

	// W holds the weight matrix with one row per input feature
	W *mat.Dense

	// Bias is added to every output row
	Bias []float64

	In, Out int
}

// NewDense creates a dense layer with zeroed weights
func NewDense(name string, in, out int) *Dense {
	return &Dense{
		name: name,
		W:    mat.NewDense(in, out, nil),
		Bias: make([]float64, out),
		In:   in,
		Out:  out,
	}
}

func (l *Dense) Name() string { return l.name }

// OutShape requires flattened input and returns (N,1,1,1,Out)
func (l *Dense) OutShape(in [5]int) ([5]int, error) {
	if in[1] != 1 || in[2] != 1 || in[3] != 1 {
		return [5]int{}, fmt.Errorf("%s: expects flattened input, got shape %v", l.name, in)
	}
	if in[4] != l.In {
		return [5]int{}, fmt.Errorf("%s: expected %d input features, got %d", l.name, l.In, in[4])
	}
	return [5]int{in[0], 1, 1, 1, l.Out}, nil
}

// Apply multiplies the batch by the weight matrix and adds the bias
func (l *Dense) Apply(x *Tensor, _ bool) (*Tensor, error) {
	if _, err := l.OutShape(x.Shape()); err != nil {
		return nil, err
	}

	xm := mat.NewDense(x.N, l.In, x.Data)
	var prod mat.Dense
	prod.Mul(xm, l.W)

	out := NewTensor(x.N, 1, 1, 1, l.Out)
	for n := 0; n < x.N; n++ {
		row := prod.RawRowView(n)
		base := n * l.Out
		for j := 0; j < l.Out; j++ {
			out.Data[base+j] = row[j] + l.Bias[j]
		}
	}
	return out, nil
}

// Dropout zeroes a random fraction of activations during training and
// rescales the survivors so the expected sum is unchanged. At
// inference it passes the tensor through untouched.
type Dropout struct {
	name string

	// Rate is the fraction of activations dropped while training
	Rate float64

	rng *rand.Rand
}

// NewDropout creates a dropout layer with its own seeded source so
// forward passes are reproducible.
func NewDropout(name string, rate float64, seed int64) *Dropout {
	return &Dropout{
		name: name,
		Rate: rate,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (l *Dropout) Name() string { return l.name }

// OutShape returns the input shape unchanged
func (l *Dropout) OutShape(in [5]int) ([5]int, error) { return in, nil }

// Apply masks activations while training; inference is the identity
func (l *Dropout) Apply(x *Tensor, training bool) (*Tensor, error) {
	if !training || l.Rate <= 0 {
		return x, nil
	}
	if l.Rate >= 1 {
		return nil, fmt.Errorf("%s: dropout rate %v leaves nothing to keep", l.name, l.Rate)
	}

	keep := 1 - l.Rate
	out := NewTensor(x.N, x.D, x.H, x.W, x.C)
	for i, v := range x.Data {
		if l.rng.Float64() < keep {
			out.Data[i] = v / keep
		}
	}
	return out, nil
}

// Flatten reshapes (N,D,H,W,C) to (N,1,1,1,D*H*W*C). The layout is
// already batch-major, so the data is shared rather than copied.
type Flatten struct {
	name string
}

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (l *Flatten) Name() string { return l.name }

func (l *Flatten) OutShape(in [5]int) ([5]int, error) {
	return [5]int{in[0], 1, 1, 1, in[1] * in[2] * in[3] * in[4]}, nil
}

func (l *Flatten) Apply(x *Tensor, _ bool) (*Tensor, error) {
	return &Tensor{Data: x.Data, N: x.N, D: 1, H: 1, W: 1, C: x.D * x.H * x.W * x.C}, nil
}

// ReLU applies max(0, x) elementwise
type ReLU struct {
	name string
}

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (l *ReLU) Name() string { return l.name }

func (l *ReLU) OutShape(in [5]int) ([5]int, error) { return in, nil }

func (l *ReLU) Apply(x *Tensor, _ bool) (*Tensor, error) {
	out := NewTensor(x.N, x.D, x.H, x.W, x.C)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out, nil
}

// Sigmoid squashes every element into (0,1)
type Sigmoid struct {
	name string
}

func NewSigmoid(name string) *Sigmoid { return &Sigmoid{name: name} }

func (l *Sigmoid) Name() string { return l.name }

func (l *Sigmoid) OutShape(in [5]int) ([5]int, error) { return in, nil }

func (l *Sigmoid) Apply(x *Tensor, _ bool) (*Tensor, error) {
	out := NewTensor(x.N, x.D, x.H, x.W, x.C)
	for i, v := range x.Data {
		out.Data[i] = sigmoid(v)
	}
	return out, nil
}
