package rawvol

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"ctvoxel/pkg/volume"
)

// writeFixture saves a small gradient volume and returns its path
func writeFixture(t *testing.T) (string, *volume.Volume) {
	t.Helper()

	vol := volume.New(3, 4, 5)
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 0.25
	}
	vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z = 0.8, 0.8, 2.5

	path := filepath.Join(t.TempDir(), "scan.ctvx")
	if err := Write(path, vol); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return path, vol
}

// corrupt rewrites the byte at offset in the file at path
func corrupt(t *testing.T, path string, offset int, b byte) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	data[offset] = b
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to rewrite fixture: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path, want := writeFixture(t)

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if got.Shape() != want.Shape() {
		t.Fatalf("shape = %v, want %v", got.Shape(), want.Shape())
	}
	if got.Spacing != want.Spacing {
		t.Errorf("spacing = %v, want %v", got.Spacing, want.Spacing)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("voxel %d = %v, want %v", i, got.Data[i], want.Data[i])
		}
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	path, _ := writeFixture(t)
	corrupt(t, path, 0, 'X')

	if _, err := Read(path); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestReadRejectsBadVersion(t *testing.T) {
	path, _ := writeFixture(t)
	corrupt(t, path, 4, 99)

	if _, err := Read(path); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestReadRejectsBadShape(t *testing.T) {
	path, _ := writeFixture(t)

	// Zero out the depth extent at its header offset.
	corrupt(t, path, 8, 0)

	if _, err := Read(path); err == nil {
		t.Error("expected error for zero depth")
	}
}

func TestReadRejectsOversizedShape(t *testing.T) {
	path, _ := writeFixture(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	binary.LittleEndian.PutUint32(data[8:12], 1<<20)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to rewrite fixture: %v", err)
	}

	if _, err := Read(path); err == nil {
		t.Error("expected error for oversized extent")
	}
}

func TestReadRejectsTruncatedPayload(t *testing.T) {
	path, _ := writeFixture(t)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat fixture: %v", err)
	}
	if err := os.Truncate(path, info.Size()-8); err != nil {
		t.Fatalf("failed to truncate fixture: %v", err)
	}

	if _, err := Read(path); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestReadRejectsTrailingData(t *testing.T) {
	path, _ := writeFixture(t)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open fixture: %v", err)
	}
	if _, err := file.Write([]byte{0}); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	file.Close()

	if _, err := Read(path); err == nil {
		t.Error("expected error for trailing data")
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.ctvx")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ctvx")

	if err := Write(path, nil); err == nil {
		t.Error("expected error for nil volume")
	}

	if err := Write(path, volume.New(0, 4, 5)); err == nil {
		t.Error("expected error for zero extent")
	}

	bad := volume.New(2, 2, 2)
	bad.Depth = 3
	if err := Write(path, bad); err == nil {
		t.Error("expected error for mismatched data length")
	}
}
