// Package rawvol reads and writes volumes in the raw ctvoxel file
// format: a little-endian header carrying magic, version, axis extents
// and voxel spacing, followed by the float64 voxel payload in z-major
// order.
package rawvol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"ctvoxel/pkg/volume"
)

// Magic identifies a raw volume file
const Magic = "CTVX"

// Version is the current format revision
const Version = 1

// maxExtent caps each axis so a corrupt header cannot trigger a huge
// allocation before the payload read fails.
const maxExtent = 1 << 14

type header struct {
	Magic    [4]byte
	Version  uint32
	Depth    int32
	Height   int32
	Width    int32
	SpacingX float64
	SpacingY float64
	SpacingZ float64
}

// Write saves a volume to the given path
func Write(path string, vol *volume.Volume) error {
	if vol == nil {
		return fmt.Errorf("volume is nil")
	}
	if vol.Depth <= 0 || vol.Height <= 0 || vol.Width <= 0 {
		return fmt.Errorf("volume shape %v has a non-positive extent", vol.Shape())
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("voxel data length %d does not match shape %v", len(vol.Data), vol.Shape())
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	defer file.Close()

	hdr := header{
		Version:  Version,
		Depth:    int32(vol.Depth),
		Height:   int32(vol.Height),
		Width:    int32(vol.Width),
		SpacingX: vol.Spacing.X,
		SpacingY: vol.Spacing.Y,
		SpacingZ: vol.Spacing.Z,
	}
	copy(hdr.Magic[:], Magic)

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write volume header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, vol.Data); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush volume file: %w", err)
	}

	return nil
}

// Read loads a volume from the given path
func Read(path string) (*volume.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	var hdr header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read volume header: %w", err)
	}

	if string(hdr.Magic[:]) != Magic {
		return nil, fmt.Errorf("not a raw volume file: bad magic %q", hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("unsupported volume format version %d", hdr.Version)
	}
	if hdr.Depth <= 0 || hdr.Height <= 0 || hdr.Width <= 0 {
		return nil, fmt.Errorf("invalid volume shape (%d,%d,%d)", hdr.Depth, hdr.Height, hdr.Width)
	}
	if hdr.Depth > maxExtent || hdr.Height > maxExtent || hdr.Width > maxExtent {
		return nil, fmt.Errorf("volume shape (%d,%d,%d) exceeds the per-axis limit %d",
			hdr.Depth, hdr.Height, hdr.Width, maxExtent)
	}

	vol := volume.New(int(hdr.Depth), int(hdr.Height), int(hdr.Width))
	vol.Spacing.X = hdr.SpacingX
	vol.Spacing.Y = hdr.SpacingY
	vol.Spacing.Z = hdr.SpacingZ

	if err := binary.Read(r, binary.LittleEndian, vol.Data); err != nil {
		return nil, fmt.Errorf("failed to read voxel data: %w", err)
	}

	switch _, err := r.ReadByte(); err {
	case io.EOF:
	case nil:
		return nil, fmt.Errorf("volume file has trailing data")
	default:
		return nil, fmt.Errorf("failed to read volume file: %w", err)
	}

	return vol, nil
}
