package chunk

import (
	"encoding/binary"
	"fmt"
)

// Direction identifies one of the six axis-aligned face normals. The numeric
// order is fixed and must be identical everywhere faces are enumerated: the
// count and generate kernels iterate it bit-for-bit the same way, which is
// what keeps their face totals consistent.
type Direction uint8

const (
	DirPosX Direction = iota
	DirNegX
	DirPosY
	DirNegY
	DirPosZ
	DirNegZ

	// DirectionCount is the number of face directions.
	DirectionCount = 6
)

// faceNormals indexed by Direction. Must match FACE_NORMALS in count.wgsl
// and generate.wgsl.
var faceNormals = [DirectionCount][3]int{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

// Normal returns the unit normal of the direction.
func (d Direction) Normal() (dx, dy, dz int) {
	n := faceNormals[d]
	return n[0], n[1], n[2]
}

// String returns the direction name for logging.
func (d Direction) String() string {
	switch d {
	case DirPosX:
		return "+X"
	case DirNegX:
		return "-X"
	case DirPosY:
		return "+Y"
	case DirNegY:
		return "-Y"
	case DirPosZ:
		return "+Z"
	case DirNegZ:
		return "-Z"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// FaceRecordSize is the wire size of one packed face record: two u32 words.
const FaceRecordSize = 8

// Face is one visible voxel face. The generate pass writes the packed form;
// the render kernel set consumes it directly. Coordinates are voxel positions
// within the chunk.
type Face struct {
	X, Y, Z   uint8
	Direction Direction
	Material  uint32
}

// Pack returns the two-word wire form. Word 0 packs position and direction
// one byte each (x | y<<8 | z<<16 | dir<<24); word 1 is the material.
// Must match FaceRecord in generate.wgsl and mesh_render.wgsl.
func (f Face) Pack() (word0, word1 uint32) {
	word0 = uint32(f.X) | uint32(f.Y)<<8 | uint32(f.Z)<<16 | uint32(f.Direction)<<24
	return word0, f.Material
}

// UnpackFace decodes the two-word wire form.
func UnpackFace(word0, word1 uint32) Face {
	return Face{
		X:         uint8(word0),
		Y:         uint8(word0 >> 8),
		Z:         uint8(word0 >> 16),
		Direction: Direction(word0 >> 24),
		Material:  word1,
	}
}

// AppendFaceBytes appends the little-endian wire form of f to buf.
func AppendFaceBytes(buf []byte, f Face) []byte {
	w0, w1 := f.Pack()
	buf = binary.LittleEndian.AppendUint32(buf, w0)
	return binary.LittleEndian.AppendUint32(buf, w1)
}

// FacesFromBytes decodes a mesh region readback into face records. The
// buffer length must be a multiple of FaceRecordSize.
func FacesFromBytes(buf []byte) ([]Face, error) {
	if len(buf)%FaceRecordSize != 0 {
		return nil, fmt.Errorf("chunk: mesh region length %d is not a multiple of %d", len(buf), FaceRecordSize)
	}
	le := binary.LittleEndian
	faces := make([]Face, 0, len(buf)/FaceRecordSize)
	for off := 0; off < len(buf); off += FaceRecordSize {
		faces = append(faces, UnpackFace(le.Uint32(buf[off:off+4]), le.Uint32(buf[off+4:off+8])))
	}
	return faces, nil
}
