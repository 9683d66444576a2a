package resnet

import (
	"math/rand"
	"testing"

	"ctvoxel/pkg/nn"
	"ctvoxel/pkg/volume"
)

func findLayer(t *testing.T, infos []LayerInfo, name string) LayerInfo {
	t.Helper()
	for _, info := range infos {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("layer %q not found in summary", name)
	return LayerInfo{}
}

func TestNetworkConstruction(t *testing.T) {
	net, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if len(net.layers) != 30 {
		t.Errorf("expected 30 layers, got %d", len(net.layers))
	}

	want := []string{
		"initial_conv", "initial_pool",
		"conv_1A", "identity_1B", "identity_1C", "dropout_1",
		"conv_2A", "identity_2D", "dropout_2",
		"conv_3A", "identity_3F", "dropout_3",
		"conv_4A", "identity_4C",
		"flatten", "dense_64", "dense_16", "dense_1", "predictions",
	}
	names := make(map[string]bool)
	for _, l := range net.layers {
		names[l.Name()] = true
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("expected layer %q in the topology", name)
		}
	}
}

func TestNetworkConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero targets", Config{NumTargets: 0, DropoutRate: 0.35}},
		{"negative targets", Config{NumTargets: -2, DropoutRate: 0.35}},
		{"dropout rate one", Config{NumTargets: 1, DropoutRate: 1.0}},
		{"negative dropout", Config{NumTargets: 1, DropoutRate: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("expected error for config %+v", tt.cfg)
			}
		})
	}
}

func TestNetworkSummaryShapes(t *testing.T) {
	net, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	infos, err := net.Summary(1)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	tests := []struct {
		layer string
		shape [5]int
	}{
		{"initial_conv", [5]int{1, 32, 64, 64, 32}},
		{"initial_pool", [5]int{1, 15, 31, 31, 32}},
		{"conv_1A", [5]int{1, 15, 31, 31, 32}},
		{"identity_1C", [5]int{1, 15, 31, 31, 32}},
		{"conv_2A", [5]int{1, 8, 16, 16, 64}},
		{"conv_3A", [5]int{1, 4, 8, 8, 128}},
		{"conv_4A", [5]int{1, 2, 4, 4, 196}},
		{"identity_4C", [5]int{1, 2, 4, 4, 196}},
		{"flatten", [5]int{1, 1, 1, 1, 6272}},
		{"dense_64", [5]int{1, 1, 1, 1, 64}},
		{"dense_16", [5]int{1, 1, 1, 1, 16}},
		{"predictions", [5]int{1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		if got := findLayer(t, infos, tt.layer).Shape; got != tt.shape {
			t.Errorf("%s: shape = %v, want %v", tt.layer, got, tt.shape)
		}
	}

	if last := infos[len(infos)-1]; last.Name != "predictions" {
		t.Errorf("final layer = %q, want predictions", last.Name)
	}
}

func TestNetworkNumTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumTargets = 3

	net, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	infos, err := net.Summary(1)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	if got := findLayer(t, infos, "dense_3").Shape; got != [5]int{1, 1, 1, 1, 3} {
		t.Errorf("dense_3 shape = %v, want (1,1,1,1,3)", got)
	}
	if got := infos[len(infos)-1].Shape; got != [5]int{1, 1, 1, 1, 3} {
		t.Errorf("prediction shape = %v, want (1,1,1,1,3)", got)
	}

	// The target count must only change the head, never the backbone.
	base, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(base.layers) != len(net.layers) {
		t.Fatalf("layer count changed with num targets: %d vs %d", len(base.layers), len(net.layers))
	}
	for i := range base.layers[:len(base.layers)-2] {
		if base.layers[i].Name() != net.layers[i].Name() {
			t.Errorf("layer %d name changed: %q vs %q", i, base.layers[i].Name(), net.layers[i].Name())
		}
	}
}

func TestNetworkForwardShapeValidation(t *testing.T) {
	net, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bad := nn.NewTensor(1, 16, 64, 64, 1)
	if _, err := net.Forward(bad, false); err == nil {
		t.Error("expected error for wrong input depth")
	}
	if _, err := net.Forward(nil, false); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestNetworkPredict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full forward pass in short mode")
	}

	cfg := DefaultConfig()
	cfg.NumTargets = 2
	net, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	x := nn.NewTensor(1, InputDepth, InputHeight, InputWidth, InputChannels)
	rng := rand.New(rand.NewSource(7))
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}

	out, err := net.Predict(x)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if got := out.Shape(); got != [5]int{1, 1, 1, 1, 2} {
		t.Fatalf("prediction shape = %v, want (1,1,1,1,2)", got)
	}
	for i, p := range out.Data {
		if p < 0 || p > 1 {
			t.Errorf("prediction %d = %v outside [0,1]", i, p)
		}
	}

	// Inference must be repeatable: no dropout, no moment updates.
	again, err := net.Predict(x)
	if err != nil {
		t.Fatalf("second Predict failed: %v", err)
	}
	for i := range out.Data {
		if out.Data[i] != again.Data[i] {
			t.Errorf("prediction %d changed between runs: %v vs %v", i, out.Data[i], again.Data[i])
		}
	}
}

func TestTensorFromVolume(t *testing.T) {
	v := volume.New(InputDepth, InputHeight, InputWidth)
	v.Set(5, 10, 20, 0.75)

	x, err := TensorFromVolume(v)
	if err != nil {
		t.Fatalf("TensorFromVolume failed: %v", err)
	}
	if got := x.Shape(); got != [5]int{1, InputDepth, InputHeight, InputWidth, 1} {
		t.Errorf("tensor shape = %v", got)
	}
	if got := x.At(0, 5, 10, 20, 0); got != 0.75 {
		t.Errorf("voxel value = %v, want 0.75", got)
	}
	if &x.Data[0] != &v.Data[0] {
		t.Error("tensor should share the volume's backing array")
	}

	if _, err := TensorFromVolume(volume.New(16, 64, 64)); err == nil {
		t.Error("expected error for mismatched volume shape")
	}
	if _, err := TensorFromVolume(nil); err == nil {
		t.Error("expected error for nil volume")
	}
}
