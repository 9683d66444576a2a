// Package resnet assembles the volumetric residual classification
// network: a fixed topology of fused convolution blocks over scans of
// shape (32,64,64,1), four residual stages of widths 32/64/128/196
// with 3/4/6/3 blocks, and a sigmoid prediction head.
package resnet

import (
	"fmt"

	"ctvoxel/pkg/nn"
	"ctvoxel/pkg/volume"
)

// Fixed input shape as (depth, height, width, channels)
const (
	InputDepth    = 32
	InputHeight   = 64
	InputWidth    = 64
	InputChannels = 1
)

// Config is the construction-time configuration surface. Everything
// else about the topology is fixed.
type Config struct {
	// NumTargets is the width of the final prediction vector. It only
	// sets the last dense layer and its name; the block structure
	// never depends on it.
	NumTargets int

	// DropoutRate is the fraction of activations dropped between
	// stages while training
	DropoutRate float64

	// Seed drives weight initialization and dropout masks
	Seed int64
}

// DefaultConfig returns the configuration the architecture was tuned with
func DefaultConfig() Config {
	return Config{
		NumTargets:  1,
		DropoutRate: 0.35,
		Seed:        1,
	}
}

// stageSpec describes one residual stage: a projection block followed
// by identity blocks, with optional dropout after the stage
type stageSpec struct {
	name    string
	filters [3]int
	stride  int
	blocks  int
	dropout bool
}

var stages = []stageSpec{
	{"1", [3]int{16, 16, 32}, 1, 3, true},
	{"2", [3]int{24, 24, 64}, 2, 4, true},
	{"3", [3]int{48, 48, 128}, 2, 6, true},
	{"4", [3]int{64, 64, 196}, 2, 3, false},
}

// Network is the assembled model
type Network struct {
	cfg    Config
	layers []nn.Layer
}

// New assembles and initializes the network for the given configuration
func New(cfg Config) (*Network, error) {
	if cfg.NumTargets < 1 {
		return nil, fmt.Errorf("number of targets must be at least 1, got %d", cfg.NumTargets)
	}
	if cfg.DropoutRate < 0 || cfg.DropoutRate >= 1 {
		return nil, fmt.Errorf("dropout rate %v outside [0,1)", cfg.DropoutRate)
	}

	init := nn.NewInitializer(cfg.Seed)
	shape := [5]int{1, InputDepth, InputHeight, InputWidth, InputChannels}

	var layers []nn.Layer
	push := func(l nn.Layer) error {
		var err error
		shape, err = l.OutShape(shape)
		if err != nil {
			return fmt.Errorf("%s: %w", l.Name(), err)
		}
		layers = append(layers, l)
		return nil
	}

	initial := nn.NewBNConv3D("initial_conv", [3]int{5, 3, 3}, InputChannels, 32, [3]int{1, 1, 1}, nn.ActReLU)
	init.InitConv(initial.Conv)
	if err := push(initial); err != nil {
		return nil, err
	}
	if err := push(nn.NewMaxPool3D("initial_pool", [3]int{3, 3, 3}, [3]int{2, 2, 2})); err != nil {
		return nil, err
	}

	channels := 32
	dropSeed := cfg.Seed
	for _, st := range stages {
		if err := push(newConvBlock("conv_"+st.name+"A", channels, st.filters, st.stride, init)); err != nil {
			return nil, err
		}
		channels = st.filters[2]

		for i := 1; i < st.blocks; i++ {
			blk, err := newIdentityBlock(fmt.Sprintf("identity_%s%c", st.name, 'A'+i), channels, st.filters, init)
			if err != nil {
				return nil, err
			}
			if err := push(blk); err != nil {
				return nil, err
			}
		}

		if st.dropout && cfg.DropoutRate > 0 {
			dropSeed++
			if err := push(nn.NewDropout("dropout_"+st.name, cfg.DropoutRate, dropSeed)); err != nil {
				return nil, err
			}
		}
	}

	if err := push(nn.NewFlatten("flatten")); err != nil {
		return nil, err
	}

	for _, units := range []int{64, 16} {
		name := fmt.Sprintf("dense_%d", units)
		dense := nn.NewDense(name, shape[4], units)
		init.InitDense(dense)
		if err := push(dense); err != nil {
			return nil, err
		}
		if err := push(nn.NewBatchNorm(name+"/bn", units)); err != nil {
			return nil, err
		}
		if err := push(nn.NewReLU(name + "/relu")); err != nil {
			return nil, err
		}
	}

	final := nn.NewDense(fmt.Sprintf("dense_%d", cfg.NumTargets), shape[4], cfg.NumTargets)
	init.InitDense(final)
	if err := push(final); err != nil {
		return nil, err
	}
	if err := push(nn.NewSigmoid("predictions")); err != nil {
		return nil, err
	}

	return &Network{cfg: cfg, layers: layers}, nil
}

// Config returns the configuration the network was built with
func (n *Network) Config() Config {
	return n.cfg
}

// Forward runs a full pass over a batch. Training mode enables dropout
// masks and batch-norm moment updates.
func (n *Network) Forward(x *nn.Tensor, training bool) (*nn.Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("input tensor is nil")
	}
	if x.D != InputDepth || x.H != InputHeight || x.W != InputWidth || x.C != InputChannels {
		return nil, fmt.Errorf("input shape %v does not match the fixed input (%d,%d,%d,%d)",
			x.Shape(), InputDepth, InputHeight, InputWidth, InputChannels)
	}

	out := x
	var err error
	for _, l := range n.layers {
		if out, err = l.Apply(out, training); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name(), err)
		}
	}
	return out, nil
}

// Predict runs an inference pass
func (n *Network) Predict(x *nn.Tensor) (*nn.Tensor, error) {
	return n.Forward(x, false)
}

// LayerInfo pairs a layer name with its output shape
type LayerInfo struct {
	Name  string
	Shape [5]int
}

// Summary traces output shapes through the network for the given batch
// size without running any computation.
func (n *Network) Summary(batch int) ([]LayerInfo, error) {
	shape := [5]int{batch, InputDepth, InputHeight, InputWidth, InputChannels}

	infos := make([]LayerInfo, 0, len(n.layers))
	for _, l := range n.layers {
		var err error
		if shape, err = l.OutShape(shape); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name(), err)
		}
		infos = append(infos, LayerInfo{Name: l.Name(), Shape: shape})
	}
	return infos, nil
}

// TensorFromVolume wraps a preprocessed scan as a single-item batch
// with one channel. The volume shape must match the network input.
func TensorFromVolume(v *volume.Volume) (*nn.Tensor, error) {
	if v == nil {
		return nil, fmt.Errorf("volume is nil")
	}
	if v.Depth != InputDepth || v.Height != InputHeight || v.Width != InputWidth {
		return nil, fmt.Errorf("volume shape %v does not match the network input (%d,%d,%d)",
			v.Shape(), InputDepth, InputHeight, InputWidth)
	}
	return nn.NewTensorFrom(v.Data, 1, v.Depth, v.Height, v.Width, 1)
}

// identityBlock preserves shape and channel count, adding its input
// back to the transformed output before the final activation.
type identityBlock struct {
	name                string
	conv1, conv2, conv3 *nn.BNConv3D
}

var _ nn.Layer = (*identityBlock)(nil)

func newIdentityBlock(name string, inC int, filters [3]int, init *nn.Initializer) (*identityBlock, error) {
	if filters[2] != inC {
		return nil, fmt.Errorf("%s: output filters %d must match input channels %d", name, filters[2], inC)
	}

	b := &identityBlock{
		name:  name,
		conv1: nn.NewBNConv3D(name+"/a", [3]int{1, 1, 1}, inC, filters[0], [3]int{1, 1, 1}, nn.ActReLU),
		conv2: nn.NewBNConv3D(name+"/b", [3]int{3, 3, 3}, filters[0], filters[1], [3]int{1, 1, 1}, nn.ActReLU),
		conv3: nn.NewBNConv3D(name+"/c", [3]int{1, 1, 1}, filters[1], filters[2], [3]int{1, 1, 1}, nn.ActIdentity),
	}
	init.InitConv(b.conv1.Conv)
	init.InitConv(b.conv2.Conv)
	init.InitConv(b.conv3.Conv)
	return b, nil
}

func (b *identityBlock) Name() string { return b.name }

func (b *identityBlock) OutShape(in [5]int) ([5]int, error) {
	shape, err := b.conv1.OutShape(in)
	if err != nil {
		return [5]int{}, err
	}
	if shape, err = b.conv2.OutShape(shape); err != nil {
		return [5]int{}, err
	}
	return b.conv3.OutShape(shape)
}

func (b *identityBlock) Apply(x *nn.Tensor, training bool) (*nn.Tensor, error) {
	y, err := b.conv1.Apply(x, training)
	if err != nil {
		return nil, err
	}
	if y, err = b.conv2.Apply(y, training); err != nil {
		return nil, err
	}
	if y, err = b.conv3.Apply(y, training); err != nil {
		return nil, err
	}

	for i := range y.Data {
		v := y.Data[i] + x.Data[i]
		if v < 0 {
			v = 0
		}
		y.Data[i] = v
	}
	return y, nil
}

// convBlock is the projection block: it changes the channel count and
// optionally downsamples, convolving its shortcut so the addition
// stays shape-compatible.
type convBlock struct {
	name                          string
	conv1, conv2, conv3, shortcut *nn.BNConv3D
}

var _ nn.Layer = (*convBlock)(nil)

func newConvBlock(name string, inC int, filters [3]int, stride int, init *nn.Initializer) *convBlock {
	s := [3]int{stride, stride, stride}

	b := &convBlock{
		name:     name,
		conv1:    nn.NewBNConv3D(name+"/a", [3]int{1, 1, 1}, inC, filters[0], s, nn.ActReLU),
		conv2:    nn.NewBNConv3D(name+"/b", [3]int{3, 3, 3}, filters[0], filters[1], [3]int{1, 1, 1}, nn.ActReLU),
		conv3:    nn.NewBNConv3D(name+"/c", [3]int{1, 1, 1}, filters[1], filters[2], [3]int{1, 1, 1}, nn.ActReLU),
		shortcut: nn.NewBNConv3D(name+"/shortcut", [3]int{1, 1, 1}, inC, filters[2], s, nn.ActIdentity),
	}
	init.InitConv(b.conv1.Conv)
	init.InitConv(b.conv2.Conv)
	init.InitConv(b.conv3.Conv)
	init.InitConv(b.shortcut.Conv)
	return b
}

func (b *convBlock) Name() string { return b.name }

func (b *convBlock) OutShape(in [5]int) ([5]int, error) {
	shape, err := b.conv1.OutShape(in)
	if err != nil {
		return [5]int{}, err
	}
	if shape, err = b.conv2.OutShape(shape); err != nil {
		return [5]int{}, err
	}
	return b.conv3.OutShape(shape)
}

func (b *convBlock) Apply(x *nn.Tensor, training bool) (*nn.Tensor, error) {
	y, err := b.conv1.Apply(x, training)
	if err != nil {
		return nil, err
	}
	if y, err = b.conv2.Apply(y, training); err != nil {
		return nil, err
	}
	if y, err = b.conv3.Apply(y, training); err != nil {
		return nil, err
	}

	sc, err := b.shortcut.Apply(x, training)
	if err != nil {
		return nil, err
	}

	for i := range y.Data {
		v := y.Data[i] + sc.Data[i]
		if v < 0 {
			v = 0
		}
		y.Data[i] = v
	}
	return y, nil
}
