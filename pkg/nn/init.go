package nn

import (
	"math"
	"math/rand"
)

// Initializer produces deterministic layer weights from a seed so
// forward passes are reproducible across runs.
type Initializer struct {
	rng *rand.Rand
}

// NewInitializer creates an initializer with its own random source
func NewInitializer(seed int64) *Initializer {
	return &Initializer{rng: rand.New(rand.NewSource(seed))}
}

// HeNormal fills w with zero-mean normal values scaled by
// sqrt(2/fanIn), the scaling that keeps activation variance stable
// through rectified layers.
func (in *Initializer) HeNormal(w []float64, fanIn int) {
	if fanIn < 1 {
		fanIn = 1
	}
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range w {
		w[i] = in.rng.NormFloat64() * std
	}
}

// InitConv fills a convolution's weights scaled by its fan-in
func (in *Initializer) InitConv(l *Conv3D) {
	in.HeNormal(l.Weights, l.FanIn())
}

// InitDense fills a dense layer's weight matrix scaled by its fan-in
func (in *Initializer) InitDense(l *Dense) {
	in.HeNormal(l.W.RawMatrix().Data, l.In)
}
