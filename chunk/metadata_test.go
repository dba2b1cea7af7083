package chunk

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestMetadataWireLayout(t *testing.T) {
	m := Metadata{
		State:           1,
		PaletteOffset:   0x100,
		DataOffset:      0x200,
		MeshOffset:      0x300,
		PaletteCount:    5,
		AtomicFaceCount: 12,
		MeshValidFlag:   1,
		Padding:         0,
	}

	buf := m.ToBytes()
	if len(buf) != MetadataSize {
		t.Fatalf("ToBytes length = %d, want %d", len(buf), MetadataSize)
	}

	// Field offsets are load-bearing: the kernels address the record by raw
	// byte offset.
	le := binary.LittleEndian
	tests := []struct {
		name   string
		offset int
		want   uint32
	}{
		{"state", 0, 1},
		{"paletteOffset", 4, 0x100},
		{"dataOffset", 8, 0x200},
		{"meshOffset", 12, 0x300},
		{"paletteCount", 16, 5},
		{"atomicFaceCount", MetadataFaceCountOffset, 12},
		{"meshValidFlag", MetadataMeshValidOffset, 1},
		{"padding", 28, 0},
	}
	for _, tt := range tests {
		if got := le.Uint32(buf[tt.offset : tt.offset+4]); got != tt.want {
			t.Errorf("%s at offset %d = %d, want %d", tt.name, tt.offset, got, tt.want)
		}
	}

	back, err := MetadataFromBytes(buf)
	if err != nil {
		t.Fatalf("MetadataFromBytes failed: %v", err)
	}
	if back != m {
		t.Errorf("round trip = %+v, want %+v", back, m)
	}
}

func TestMetadataFromBytesTruncated(t *testing.T) {
	if _, err := MetadataFromBytes(make([]byte, MetadataSize-1)); !errors.Is(err, ErrTruncatedMetadata) {
		t.Errorf("error = %v, want ErrTruncatedMetadata", err)
	}
}
