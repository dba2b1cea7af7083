package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MetadataSize is the wire size of one Metadata record. Both host and device
// address the record by raw byte offset, so the layout is load-bearing.
const MetadataSize = 32

// Byte offsets of the Metadata fields the host touches directly: the atomic
// counter readback after a dispatch and the validity flag set once the
// generate fence signals.
const (
	MetadataFaceCountOffset = 20
	MetadataMeshValidOffset = 24
)

// ErrTruncatedMetadata is returned when a metadata readback is shorter than
// one full record.
var ErrTruncatedMetadata = errors.New("chunk: truncated metadata record")

// Metadata is the heap-resident per-chunk record shared with the compute
// kernels. The layout matches the WGSL Metadata struct in count.wgsl and
// generate.wgsl: 8 consecutive u32 fields, 32 bytes.
//
// All offsets are byte offsets relative to the heap base, never absolute
// addresses, so the heap can be rebound after reallocation without patching
// stored records. AtomicFaceCount is written by the GPU: the count pass
// leaves the exact visible-face total in it, and the generate pass reuses it
// as the write cursor that claims output slots.
type Metadata struct {
	State           uint32
	PaletteOffset   uint32
	DataOffset      uint32
	MeshOffset      uint32
	PaletteCount    uint32
	AtomicFaceCount uint32
	MeshValidFlag   uint32
	Padding         uint32
}

// ToBytes serializes the record in little-endian format for upload.
func (m Metadata) ToBytes() []byte {
	buf := make([]byte, MetadataSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], m.State)
	le.PutUint32(buf[4:8], m.PaletteOffset)
	le.PutUint32(buf[8:12], m.DataOffset)
	le.PutUint32(buf[12:16], m.MeshOffset)
	le.PutUint32(buf[16:20], m.PaletteCount)
	le.PutUint32(buf[20:24], m.AtomicFaceCount)
	le.PutUint32(buf[24:28], m.MeshValidFlag)
	le.PutUint32(buf[28:32], m.Padding)
	return buf
}

// MetadataFromBytes deserializes a record read back from the heap.
func MetadataFromBytes(buf []byte) (Metadata, error) {
	if len(buf) < MetadataSize {
		return Metadata{}, fmt.Errorf("%w: %d bytes", ErrTruncatedMetadata, len(buf))
	}
	le := binary.LittleEndian
	return Metadata{
		State:           le.Uint32(buf[0:4]),
		PaletteOffset:   le.Uint32(buf[4:8]),
		DataOffset:      le.Uint32(buf[8:12]),
		MeshOffset:      le.Uint32(buf[12:16]),
		PaletteCount:    le.Uint32(buf[16:20]),
		AtomicFaceCount: le.Uint32(buf[20:24]),
		MeshValidFlag:   le.Uint32(buf[24:28]),
		Padding:         le.Uint32(buf[28:32]),
	}, nil
}
