// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxmesh

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/voxmesh/chunk"
	"github.com/gogpu/voxmesh/internal/gpu"
	"github.com/gogpu/voxmesh/palette"
)

// ChunkCoord addresses a chunk on the world grid. Voxel (x, y, z) lives in
// the chunk at (floor(x/size), floor(y/size), floor(z/size)).
type ChunkCoord struct {
	X, Y, Z int32
}

// String returns "(x, y, z)".
func (c ChunkCoord) String() string {
	return fmt.Sprintf("(%d, %d, %d)", c.X, c.Y, c.Z)
}

// MeshResult describes a completed remesh. MeshOffset and MeshSize locate
// the face records inside the world's heap; a zero FaceCount means the chunk
// produced no geometry and owns no mesh region.
type MeshResult struct {
	Coord      ChunkCoord
	FaceCount  uint32
	MeshOffset uint32
	MeshSize   uint32
}

// chunkEntry pairs a chunk with its device-side regions. meshedRev records
// the chunk revision the current mesh was built from, so an untouched valid
// chunk remeshes for free.
type chunkEntry struct {
	chunk      *chunk.Chunk
	regions    gpu.ChunkRegions
	hasRegions bool
	faceCount  uint32
	meshedRev  uint64
}

// World is a grid of chunks sharing one device heap and staging ring.
// Worlds on the same context share compiled pipelines but never memory.
//
// World is safe for concurrent use; operations serialize on an internal
// mutex, so a long remesh blocks voxel edits on the same world.
type World struct {
	mu        sync.Mutex
	id        uint64
	ctx       *Context
	chunkSize int
	heap      *gpu.Heap
	chunks    map[ChunkCoord]*chunkEntry
	closed    bool
}

// WorldStats is a point-in-time snapshot of a world's resource usage.
type WorldStats struct {
	Chunks        int
	HeapUsedBytes uint32
	HeapSizeBytes uint32
	PendingWrites int
}

// ID returns the world's registry id within its context.
func (w *World) ID() uint64 { return w.id }

// ChunkSize returns the edge length of this world's chunks.
func (w *World) ChunkSize() int { return w.chunkSize }

// ChunkCount returns the number of chunks currently held.
func (w *World) ChunkCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// Stats returns a snapshot of the world's heap usage.
func (w *World) Stats() WorldStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	hs := w.heap.Stats()
	return WorldStats{
		Chunks:        len(w.chunks),
		HeapUsedBytes: hs.UsedBytes,
		HeapSizeBytes: hs.TotalBytes,
		PendingWrites: hs.PendingWrites,
	}
}

// EnsureChunk returns the chunk at coord, creating an empty one if absent.
func (w *World) EnsureChunk(coord ChunkCoord) (*chunk.Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorldClosed
	}
	return w.ensureChunkLocked(coord)
}

func (w *World) ensureChunkLocked(coord ChunkCoord) (*chunk.Chunk, error) {
	if e, ok := w.chunks[coord]; ok {
		return e.chunk, nil
	}
	c, err := chunk.New(w.chunkSize)
	if err != nil {
		return nil, classify(err)
	}
	w.chunks[coord] = &chunkEntry{chunk: c}
	return c, nil
}

// Chunk returns the chunk at coord, or nil if none exists.
func (w *World) Chunk(coord ChunkCoord) *chunk.Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.chunks[coord]; ok {
		return e.chunk
	}
	return nil
}

// RemoveChunk drops the chunk at coord and frees its device regions.
// Removing an absent coordinate is a no-op.
func (w *World) RemoveChunk(coord ChunkCoord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.chunks[coord]
	if !ok {
		return
	}
	w.freeRegionsLocked(e)
	delete(w.chunks, coord)
}

// SetVoxel writes a material at world voxel coordinates, creating the
// owning chunk on demand. The chunk is marked dirty.
func (w *World) SetVoxel(x, y, z int, material uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorldClosed
	}
	coord, lx, ly, lz := w.split(x, y, z)
	c, err := w.ensureChunkLocked(coord)
	if err != nil {
		return err
	}
	c.Set(lx, ly, lz, material)
	return nil
}

// Voxel reads the material at world voxel coordinates. Coordinates in
// chunks that were never created read as air.
func (w *World) Voxel(x, y, z int) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	coord, lx, ly, lz := w.split(x, y, z)
	e, ok := w.chunks[coord]
	if !ok {
		return chunk.Air
	}
	return e.chunk.At(lx, ly, lz)
}

// split maps world voxel coordinates to a chunk coordinate and a local
// offset within that chunk.
func (w *World) split(x, y, z int) (ChunkCoord, int, int, int) {
	n := w.chunkSize
	coord := ChunkCoord{
		X: int32(floorDiv(x, n)),
		Y: int32(floorDiv(y, n)),
		Z: int32(floorDiv(z, n)),
	}
	return coord, floorMod(x, n), floorMod(y, n), floorMod(z, n)
}

// RemeshChunk runs the full meshing pipeline for the chunk at coord:
// palette compression, heap upload, count pass, mesh allocation sized from
// the observed count, and the generate pass. An untouched valid chunk
// returns its cached result without touching the device.
//
// On failure the chunk is marked dirty and keeps no mesh region, so it
// renders empty; the world and its other chunks are unaffected. Errors
// wrapping [ErrResourceExhausted] are retryable after freeing space.
func (w *World) RemeshChunk(coord ChunkCoord) (MeshResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return MeshResult{}, ErrWorldClosed
	}
	e, ok := w.chunks[coord]
	if !ok {
		return MeshResult{}, fmt.Errorf("%w: %w: %s", ErrValidation, ErrUnknownChunk, coord)
	}
	c := e.chunk

	if c.State() == chunk.StateValid && e.meshedRev == c.Revision() {
		return MeshResult{
			Coord:      coord,
			FaceCount:  e.faceCount,
			MeshOffset: e.regions.Mesh.Offset,
			MeshSize:   e.regions.Mesh.Size,
		}, nil
	}

	rev := c.Revision()
	c.MarkDirty()
	w.freeRegionsLocked(e)

	store := palette.Build(c.Materials())
	regions, err := w.uploadChunkLocked(c, store)
	if err != nil {
		return MeshResult{}, w.failRemeshLocked(e, coord, err)
	}
	e.regions = regions
	e.hasRegions = true

	params := gpu.MeshParams{
		ChunkSize:    uint32(c.Size()),
		VoxelCount:   uint32(len(c.Materials())),
		PaletteCount: uint32(store.Count()),
		IndexBits:    store.Bits(),
	}

	if err := c.AdvanceState(chunk.StateCounting); err != nil {
		return MeshResult{}, w.failRemeshLocked(e, coord, err)
	}
	mesher := w.ctx.mesherHandle()
	count, err := mesher.Count(w.heap, e.regions, params)
	if err != nil {
		return MeshResult{}, w.failRemeshLocked(e, coord, err)
	}

	if err := c.AdvanceState(chunk.StateGenerating); err != nil {
		return MeshResult{}, w.failRemeshLocked(e, coord, err)
	}
	if count > 0 {
		// The mesh region must exist, sized from the observed count,
		// before the generate pass is dispatched.
		meshAlloc, err := w.heap.Allocate(count*chunk.FaceRecordSize, gpu.ResourceMesh)
		if err != nil {
			return MeshResult{}, w.failRemeshLocked(e, coord, err)
		}
		e.regions.Mesh = meshAlloc
		if err := mesher.Generate(w.heap, e.regions, params, count); err != nil {
			return MeshResult{}, w.failRemeshLocked(e, coord, err)
		}
	}

	if err := c.AdvanceState(chunk.StateValid); err != nil {
		return MeshResult{}, w.failRemeshLocked(e, coord, err)
	}
	e.faceCount = count
	e.meshedRev = rev

	Logger().Debug("voxmesh: chunk remeshed",
		slog.String("coord", coord.String()),
		slog.Uint64("faces", uint64(count)),
		slog.Uint64("palette", uint64(store.Count())))

	return MeshResult{
		Coord:      coord,
		FaceCount:  count,
		MeshOffset: e.regions.Mesh.Offset,
		MeshSize:   e.regions.Mesh.Size,
	}, nil
}

// Faces reads the face records of a valid chunk back to the host. Intended
// for tools and tests; rendering should consume the mesh region in place.
func (w *World) Faces(coord ChunkCoord) ([]chunk.Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorldClosed
	}
	e, ok := w.chunks[coord]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrUnknownChunk, coord)
	}
	if e.chunk.State() != chunk.StateValid {
		return nil, fmt.Errorf("%w: %w: chunk %s is %s",
			ErrOrdering, ErrMeshNotReady, coord, e.chunk.State())
	}
	if e.faceCount == 0 {
		return nil, nil
	}
	faces, err := w.ctx.mesherHandle().ReadFaces(w.heap, e.regions, e.faceCount)
	if err != nil {
		return nil, classify(err)
	}
	return faces, nil
}

// uploadChunkLocked allocates the metadata, palette, and voxel regions for
// a chunk and flushes their contents to the device. A collapsed palette
// (one unique material) carries no packed words; its voxel region stays
// empty and the dispatcher aliases the palette region in its place.
func (w *World) uploadChunkLocked(c *chunk.Chunk, store *palette.Store) (gpu.ChunkRegions, error) {
	var regions gpu.ChunkRegions
	var err error

	regions.Meta, err = w.heap.Allocate(chunk.MetadataSize, gpu.ResourceMetadata)
	if err != nil {
		return regions, err
	}
	regions.Palette, err = w.heap.Allocate(uint32(len(store.Values())*4), gpu.ResourcePalette)
	if err != nil {
		w.heap.Free(regions.Meta.ID)
		return gpu.ChunkRegions{}, err
	}
	if words := store.Words(); len(words) > 0 {
		regions.Voxel, err = w.heap.Allocate(uint32(len(words)*4), gpu.ResourceVoxelData)
		if err != nil {
			w.heap.Free(regions.Meta.ID)
			w.heap.Free(regions.Palette.ID)
			return gpu.ChunkRegions{}, err
		}
	}

	meta := chunk.Metadata{
		State:         uint32(chunk.StateDirty),
		PaletteOffset: regions.Palette.Offset,
		DataOffset:    regions.Voxel.Offset,
		PaletteCount:  uint32(store.Count()),
	}
	if err := w.writeLocked(meta.ToBytes(), regions.Meta); err != nil {
		w.freeChunkRegions(regions)
		return gpu.ChunkRegions{}, err
	}
	if err := w.writeLocked(u32Bytes(store.Values()), regions.Palette); err != nil {
		w.freeChunkRegions(regions)
		return gpu.ChunkRegions{}, err
	}
	if words := store.Words(); len(words) > 0 {
		if err := w.writeLocked(u32Bytes(words), regions.Voxel); err != nil {
			w.freeChunkRegions(regions)
			return gpu.ChunkRegions{}, err
		}
	}
	if err := w.heap.Flush(); err != nil {
		w.freeChunkRegions(regions)
		return gpu.ChunkRegions{}, err
	}
	return regions, nil
}

// writeLocked stages data for upload, flushing once to drain the ring if it
// reports no space.
func (w *World) writeLocked(data []byte, dst gpu.Allocation) error {
	for range 2 {
		ok, err := w.heap.Write(data, dst)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := w.heap.Flush(); err != nil {
			return err
		}
	}
	return gpu.ErrStagingFull
}

// failRemeshLocked rolls a failed remesh back: the chunk returns to dirty,
// its device regions are released, and the error is classified. The chunk
// simply renders empty until the next successful remesh.
func (w *World) failRemeshLocked(e *chunkEntry, coord ChunkCoord, err error) error {
	e.chunk.MarkDirty()
	w.freeRegionsLocked(e)
	err = classify(err)
	Logger().Warn("voxmesh: remesh failed, chunk renders empty",
		slog.String("coord", coord.String()),
		slog.Any("error", err))
	return err
}

func (w *World) freeRegionsLocked(e *chunkEntry) {
	if !e.hasRegions {
		return
	}
	w.freeChunkRegions(e.regions)
	e.regions = gpu.ChunkRegions{}
	e.hasRegions = false
	e.faceCount = 0
}

func (w *World) freeChunkRegions(r gpu.ChunkRegions) {
	w.heap.Free(r.Meta.ID)
	w.heap.Free(r.Palette.ID)
	w.heap.Free(r.Voxel.ID)
	w.heap.Free(r.Mesh.ID)
}

// close releases the world's device memory. Called by the owning context.
func (w *World) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.chunks = nil
	w.heap.Destroy()
}

// u32Bytes serializes a u32 stream in little-endian order, matching the
// device's buffer layout.
func u32Bytes(words []uint32) []byte {
	buf := make([]byte, 0, len(words)*4)
	for _, v := range words {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

// floorDiv divides rounding toward negative infinity. n must be positive.
func floorDiv(a, n int) int {
	q := a / n
	if a%n != 0 && a < 0 {
		q--
	}
	return q
}

// floorMod returns the non-negative remainder of a modulo n. n must be
// positive.
func floorMod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
