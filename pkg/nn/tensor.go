// Package nn provides the primitive tensor operations the volumetric
// residual network is assembled from: 3D convolution, batch
// normalization, pooling, dense layers and elementwise activations,
// all over rank-5 tensors in NDHWC layout.
package nn

import (
	"fmt"
)

// Tensor is a dense rank-5 tensor in NDHWC layout (batch, depth,
// height, width, channels). Data is flat with channels innermost.
type Tensor struct {
	Data []float64

	N, D, H, W, C int
}

// NewTensor creates a zero-filled tensor of the given shape
func NewTensor(n, d, h, w, c int) *Tensor {
	return &Tensor{
		Data: make([]float64, n*d*h*w*c),
		N:    n, D: d, H: h, W: w, C: c,
	}
}

// NewTensorFrom wraps existing data in a tensor of the given shape.
// The data is used directly, not copied.
func NewTensorFrom(data []float64, n, d, h, w, c int) (*Tensor, error) {
	if len(data) != n*d*h*w*c {
		return nil, fmt.Errorf("data length %d does not match shape (%d,%d,%d,%d,%d)",
			len(data), n, d, h, w, c)
	}
	return &Tensor{Data: data, N: n, D: d, H: h, W: w, C: c}, nil
}

// Shape returns the extents as (batch, depth, height, width, channels)
func (t *Tensor) Shape() [5]int {
	return [5]int{t.N, t.D, t.H, t.W, t.C}
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return t.N * t.D * t.H * t.W * t.C
}

// Index converts coordinates to a flat data index
func (t *Tensor) Index(n, z, y, x, c int) int {
	return ((((n*t.D+z)*t.H+y)*t.W+x)*t.C + c)
}

// At returns the element at the given coordinates
func (t *Tensor) At(n, z, y, x, c int) float64 {
	return t.Data[t.Index(n, z, y, x, c)]
}

// Set stores an element at the given coordinates
func (t *Tensor) Set(n, z, y, x, c int, value float64) {
	t.Data[t.Index(n, z, y, x, c)] = value
}

// Layer is one step of a forward pass. The training flag toggles
// behaviour for layers that distinguish learning from inference (batch
// norm moments, dropout masks); pure layers ignore it.
type Layer interface {
	Name() string
	Apply(x *Tensor, training bool) (*Tensor, error)
	OutShape(in [5]int) ([5]int, error)
}

// Activation selects the nonlinearity applied by fused layers
type Activation int

const (
	ActIdentity Activation = iota
	ActReLU
	ActSigmoid
)

func (a Activation) apply(x float64) float64 {
	switch a {
	case ActReLU:
		if x < 0 {
			return 0
		}
		return x
	case ActSigmoid:
		return sigmoid(x)
	}
	return x
}
