package gpu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/voxmesh/chunk"
	"github.com/gogpu/voxmesh/palette"
)

func TestMeshStageString(t *testing.T) {
	tests := []struct {
		stage MeshStage
		want  string
	}{
		{StageCount, "count"},
		{StageGenerate, "generate"},
		{MeshStage(7), "MeshStage(7)"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestMeshParamsLayout(t *testing.T) {
	p := MeshParams{ChunkSize: 8, VoxelCount: 512, PaletteCount: 3, IndexBits: 2}
	buf := p.toBytes()
	if len(buf) != meshParamsSize {
		t.Fatalf("toBytes length = %d, want %d", len(buf), meshParamsSize)
	}
	le := binary.LittleEndian
	if le.Uint32(buf[0:4]) != 8 || le.Uint32(buf[4:8]) != 512 ||
		le.Uint32(buf[8:12]) != 3 || le.Uint32(buf[12:16]) != 2 {
		t.Errorf("unexpected layout: % x", buf)
	}
}

func TestMeshDispatcherInitClose(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewMeshDispatcher(device, queue)
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	// Idempotent.
	if err := d.Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}

	for i := MeshStage(0); i < meshStageCount; i++ {
		if d.pipelines[i] == nil {
			t.Errorf("stage %s pipeline is nil after Init", i)
		}
		if d.shaderModules[i] == nil {
			t.Errorf("stage %s shader module is nil after Init", i)
		}
	}
	if d.paramsBuf == nil || d.readback == nil {
		t.Error("expected params and readback buffers after Init")
	}

	d.Close()
	if d.initialized {
		t.Error("initialized flag still set after Close")
	}
	for i := MeshStage(0); i < meshStageCount; i++ {
		if d.pipelines[i] != nil {
			t.Errorf("stage %s pipeline not released by Close", i)
		}
	}
	// Double close is safe.
	d.Close()
}

func TestMeshDispatcherNotInitialized(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewMeshDispatcher(device, queue)
	if _, err := d.Count(nil, ChunkRegions{}, MeshParams{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Count error = %v, want ErrNotInitialized", err)
	}
	if _, err := d.ReadFaces(nil, ChunkRegions{Mesh: Allocation{Size: 8}}, 1); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ReadFaces error = %v, want ErrNotInitialized", err)
	}
}

func TestGenerateRejectsUndersizedMeshRegion(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d := NewMeshDispatcher(device, queue)
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer d.Close()

	regions := ChunkRegions{Mesh: Allocation{Size: 8}}
	err := d.Generate(nil, regions, MeshParams{}, 12)
	if err == nil {
		t.Fatal("expected error for undersized mesh region")
	}
}

// TestMeshDispatcherRoundTrip drives a full upload + count + generate
// sequence against the noop backend. The noop device executes no kernels, so
// the observed counts stay at the uploaded zero; the test pins the
// orchestration path, not kernel arithmetic (the chunk package's CPU
// reference covers that).
func TestMeshDispatcherRoundTrip(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	heap, err := NewHeap(device, queue, HeapConfig{SizeBytes: 256 * 1024, StagingBytes: 16 * 1024})
	if err != nil {
		t.Fatalf("NewHeap failed: %v", err)
	}
	defer heap.Destroy()

	d := NewMeshDispatcher(device, queue)
	if err := d.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer d.Close()

	c, _ := chunk.New(8)
	c.Set(2, 2, 2, 7)
	store := palette.Build(c.Materials())

	metaAlloc, err := heap.Allocate(chunk.MetadataSize, ResourceMetadata)
	if err != nil {
		t.Fatalf("Allocate metadata failed: %v", err)
	}
	palAlloc, err := heap.Allocate(uint32(len(store.Values())*4), ResourcePalette)
	if err != nil {
		t.Fatalf("Allocate palette failed: %v", err)
	}
	voxAlloc, err := heap.Allocate(uint32(len(store.Words())*4), ResourceVoxelData)
	if err != nil {
		t.Fatalf("Allocate voxel data failed: %v", err)
	}

	meta := chunk.Metadata{
		PaletteOffset: palAlloc.Offset,
		DataOffset:    voxAlloc.Offset,
		PaletteCount:  uint32(store.Count()),
	}
	if ok, err := heap.Write(meta.ToBytes(), metaAlloc); err != nil || !ok {
		t.Fatalf("Write metadata = (%v, %v)", ok, err)
	}
	if ok, err := heap.Write(wordsToBytes(store.Values()), palAlloc); err != nil || !ok {
		t.Fatalf("Write palette = (%v, %v)", ok, err)
	}
	if ok, err := heap.Write(wordsToBytes(store.Words()), voxAlloc); err != nil || !ok {
		t.Fatalf("Write voxel data = (%v, %v)", ok, err)
	}
	if err := heap.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	regions := ChunkRegions{Meta: metaAlloc, Palette: palAlloc, Voxel: voxAlloc}
	params := MeshParams{
		ChunkSize:    8,
		VoxelCount:   512,
		PaletteCount: uint32(store.Count()),
		IndexBits:    store.Bits(),
	}

	count, err := d.Count(heap, regions, params)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}

	meshAlloc, err := heap.Allocate((count+1)*chunk.FaceRecordSize, ResourceMesh)
	if err != nil {
		t.Fatalf("Allocate mesh failed: %v", err)
	}
	regions.Mesh = meshAlloc

	if err := d.Generate(heap, regions, params, count); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	faces, err := d.ReadFaces(heap, regions, count)
	if err != nil {
		t.Fatalf("ReadFaces failed: %v", err)
	}
	if uint32(len(faces)) != count {
		t.Errorf("ReadFaces returned %d records, want %d", len(faces), count)
	}
}

func TestRenderShaderSource(t *testing.T) {
	src := RenderShaderSource()
	if src == "" {
		t.Fatal("render shader source is empty")
	}
}

// wordsToBytes serializes a u32 stream in little-endian order.
func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}
