// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// mesher.go defines the GPU dispatch orchestration for the two-phase chunk
// meshing protocol: a count pass that tallies visible faces into the chunk's
// atomic counter, and a generate pass that reuses the counter as a write
// cursor to claim output slots. The CPU reference for both kernels lives in
// the chunk package (CountFaces / AppendFaces).

package gpu

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxmesh/chunk"
)

// Embedded WGSL shader sources, one per pipeline stage plus the render
// kernel set consumed by the render shell.

//go:embed shaders/count.wgsl
var shaderCountWGSL string

//go:embed shaders/generate.wgsl
var shaderGenerateWGSL string

//go:embed shaders/mesh_render.wgsl
var shaderMeshRenderWGSL string

const (
	// meshWGSize is the workgroup size of both compute kernels. Matches
	// WG_SIZE in count.wgsl and generate.wgsl. Both kernels run as a
	// single workgroup so the counter reset and its barrier stay inside
	// one thread group; each thread strides over voxelCount/meshWGSize
	// voxels.
	meshWGSize = 256

	// meshFenceTimeout is the maximum time to wait for a dispatch.
	meshFenceTimeout = 5 * time.Second

	// meshParamsSize is the byte size of the Params uniform: 4 u32 fields.
	meshParamsSize = 16
)

// Dispatcher errors.
var (
	// ErrPipelineCreation is returned when a compute kernel fails to
	// compile or its pipeline cannot be created. Fatal to the dispatcher,
	// never swallowed.
	ErrPipelineCreation = errors.New("gpu: compute pipeline creation failed")

	// ErrFaceCountMismatch is returned when the generate pass's final
	// counter differs from the count pass's observed total for the same
	// chunk state. Indicates a logic defect, not a recoverable condition.
	ErrFaceCountMismatch = errors.New("gpu: generate face count diverged from count pass")

	// ErrNotInitialized is returned when dispatching before Init.
	ErrNotInitialized = errors.New("gpu: mesh dispatcher not initialized")
)

// MeshStage identifies one of the two compute phases.
type MeshStage int

const (
	// StageCount tallies visible faces into the metadata atomic counter.
	StageCount MeshStage = iota

	// StageGenerate claims output slots off the counter and writes face
	// records.
	StageGenerate

	meshStageCount
)

// String returns the stage name for labels and logging.
func (s MeshStage) String() string {
	switch s {
	case StageCount:
		return "count"
	case StageGenerate:
		return "generate"
	default:
		return fmt.Sprintf("MeshStage(%d)", int(s))
	}
}

// MeshParams is the per-dispatch uniform block. The layout matches the WGSL
// Params struct: 4 consecutive u32 fields.
type MeshParams struct {
	ChunkSize    uint32
	VoxelCount   uint32
	PaletteCount uint32
	IndexBits    uint32
}

// toBytes serializes MeshParams in little-endian format.
func (p MeshParams) toBytes() []byte {
	buf := make([]byte, meshParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.ChunkSize)
	le.PutUint32(buf[4:8], p.VoxelCount)
	le.PutUint32(buf[8:12], p.PaletteCount)
	le.PutUint32(buf[12:16], p.IndexBits)
	return buf
}

// ChunkRegions names the heap sub-regions one chunk occupies. Every kernel
// binding is a sub-range of the single heap buffer at these offsets, so the
// kernels never see an absolute address.
type ChunkRegions struct {
	Meta    Allocation
	Palette Allocation
	Voxel   Allocation // zero Size when the palette collapsed
	Mesh    Allocation // required by the generate pass only
}

// MeshDispatcher owns the count and generate compute pipelines and runs the
// two-phase protocol against one chunk's heap regions at a time.
//
// MeshDispatcher is safe for concurrent use; dispatches are serialized.
type MeshDispatcher struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	shaderSources   [meshStageCount]string
	shaderModules   [meshStageCount]hal.ShaderModule
	bgLayouts       [meshStageCount]hal.BindGroupLayout
	pipelineLayouts [meshStageCount]hal.PipelineLayout
	pipelines       [meshStageCount]hal.ComputePipeline

	// paramsBuf holds the Params uniform, rewritten before each dispatch.
	paramsBuf hal.Buffer

	// readback receives the chunk's metadata record after each dispatch so
	// the host can observe the atomic counter.
	readback hal.Buffer

	initialized bool
	wgSize      uint32
}

// NewMeshDispatcher creates a dispatcher attached to the given device and
// queue. Call Init before dispatching.
func NewMeshDispatcher(device hal.Device, queue hal.Queue) *MeshDispatcher {
	d := &MeshDispatcher{
		device: device,
		queue:  queue,
		wgSize: meshWGSize,
	}
	d.shaderSources = [meshStageCount]string{
		StageCount:    shaderCountWGSL,
		StageGenerate: shaderGenerateWGSL,
	}
	return d
}

// RenderShaderSource returns the WGSL source of the render kernel set that
// consumes the packed face stream. The render shell compiles and submits it;
// Init validates it alongside the compute kernels.
func RenderShaderSource() string { return shaderMeshRenderWGSL }

// stageLayoutEntries returns the bind group layout for a stage. The entries
// match the @group(0) @binding(N) annotations in the WGSL exactly.
func stageLayoutEntries(stage MeshStage) []gputypes.BindGroupLayoutEntry {
	paramsUniform := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case StageCount:
		// @binding(0) uniform params
		// @binding(1) storage(read_write) meta
		// @binding(2) storage(read) palette
		// @binding(3) storage(read) voxel_words
		return []gputypes.BindGroupLayoutEntry{
			paramsUniform, storageRW(1), storageRO(2), storageRO(3),
		}
	case StageGenerate:
		// Count's bindings plus @binding(4) storage(read_write) mesh.
		return []gputypes.BindGroupLayoutEntry{
			paramsUniform, storageRW(1), storageRO(2), storageRO(3), storageRW(4),
		}
	default:
		return nil
	}
}

// Init compiles both WGSL kernels through naga, creates the compute
// pipelines, and allocates the uniform and readback buffers. Safe to call
// repeatedly; subsequent calls are no-ops.
func (d *MeshDispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	for i := MeshStage(0); i < meshStageCount; i++ {
		stageName := fmt.Sprintf("voxmesh_%s", i)

		// 1. Compile WGSL to SPIR-V. Catching kernel errors here keeps
		// backend module creation failures distinguishable from shader
		// bugs.
		spirvBytes, err := naga.Compile(d.shaderSources[i])
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("%w: compile %s: %v", ErrPipelineCreation, i, err)
		}
		spirv := make([]uint32, len(spirvBytes)/4)
		for j := range spirv {
			spirv[j] = uint32(spirvBytes[j*4]) |
				uint32(spirvBytes[j*4+1])<<8 |
				uint32(spirvBytes[j*4+2])<<16 |
				uint32(spirvBytes[j*4+3])<<24
		}

		// 2. Create shader module.
		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  stageName,
			Source: hal.ShaderSource{SPIRV: spirv},
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("%w: create shader module for %s: %v", ErrPipelineCreation, i, err)
		}
		d.shaderModules[i] = module

		// 3. Create bind group layout.
		entries := stageLayoutEntries(i)
		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   stageName + "_bgl",
			Entries: entries,
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("%w: create bind group layout for %s: %v", ErrPipelineCreation, i, err)
		}
		d.bgLayouts[i] = bgLayout

		// 4. Create pipeline layout.
		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            stageName + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("%w: create pipeline layout for %s: %v", ErrPipelineCreation, i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		// 5. Create compute pipeline.
		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  stageName,
			Layout: pipelineLayout,
			Compute: hal.ComputeState{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("%w: create compute pipeline for %s: %v", ErrPipelineCreation, i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("mesh pipeline created",
			"stage", i.String(),
			"bindings", len(entries),
			"spirv_words", len(spirv))
	}

	// The render kernel set is compiled by the render shell; validate it
	// here so a broken face-record consumer surfaces at Init, not at frame
	// time.
	if _, err := naga.Compile(shaderMeshRenderWGSL); err != nil {
		d.destroyPartialInit(meshStageCount)
		return fmt.Errorf("%w: validate mesh render shader: %v", ErrPipelineCreation, err)
	}

	paramsBuf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "voxmesh_params",
		Size:  meshParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.destroyPartialInit(meshStageCount)
		return fmt.Errorf("gpu: create params buffer: %w", err)
	}
	d.paramsBuf = paramsBuf

	readback, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "voxmesh_meta_readback",
		Size:  chunk.MetadataSize,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead,
	})
	if err != nil {
		d.device.DestroyBuffer(d.paramsBuf)
		d.paramsBuf = nil
		d.destroyPartialInit(meshStageCount)
		return fmt.Errorf("gpu: create readback buffer: %w", err)
	}
	d.readback = readback

	slogger().Info("mesh dispatcher initialized", "stages", int(meshStageCount))
	d.initialized = true
	return nil
}

// destroyPartialInit cleans up resources for stages [0, upTo) during a
// failed Init so partial initialization never leaks.
func (d *MeshDispatcher) destroyPartialInit(upTo MeshStage) {
	for j := MeshStage(0); j < upTo; j++ {
		if d.pipelines[j] != nil {
			d.device.DestroyComputePipeline(d.pipelines[j])
			d.pipelines[j] = nil
		}
		if d.pipelineLayouts[j] != nil {
			d.device.DestroyPipelineLayout(d.pipelineLayouts[j])
			d.pipelineLayouts[j] = nil
		}
		if d.bgLayouts[j] != nil {
			d.device.DestroyBindGroupLayout(d.bgLayouts[j])
			d.bgLayouts[j] = nil
		}
		if d.shaderModules[j] != nil {
			d.device.DestroyShaderModule(d.shaderModules[j])
			d.shaderModules[j] = nil
		}
	}
}

// Close releases all GPU resources held by the dispatcher. After Close the
// dispatcher must be re-initialized before use.
func (d *MeshDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyPartialInit(meshStageCount)
	if d.paramsBuf != nil {
		d.device.DestroyBuffer(d.paramsBuf)
		d.paramsBuf = nil
	}
	if d.readback != nil {
		d.device.DestroyBuffer(d.readback)
		d.readback = nil
	}
	d.initialized = false
}

// Count runs the count pass against one chunk's regions and returns the
// observed visible-face total. The chunk's palette, voxel and metadata
// regions must have been written and their copies submitted before this
// call; nothing enforces that ordering implicitly.
func (d *MeshDispatcher) Count(heap *Heap, regions ChunkRegions, params MeshParams) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta, err := d.dispatchLocked(StageCount, heap, regions, params)
	if err != nil {
		return 0, err
	}
	slogger().Debug("count pass complete", "faces", meta.AtomicFaceCount)
	return meta.AtomicFaceCount, nil
}

// Generate runs the generate pass. The mesh region must already hold
// capacity for expected face records: the host observes Count's result and
// allocates before dispatching, a hard ordering dependency. After the fence,
// the final counter is compared against expected; a divergence means the
// chunk mutated between passes or a kernel defect, and the mesh must be
// discarded. On success the metadata's valid flag is raised.
func (d *MeshDispatcher) Generate(heap *Heap, regions ChunkRegions, params MeshParams, expected uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if regions.Mesh.Size < expected*chunk.FaceRecordSize {
		return fmt.Errorf("gpu: mesh region holds %d bytes, %d faces need %d",
			regions.Mesh.Size, expected, expected*chunk.FaceRecordSize)
	}

	meta, err := d.dispatchLocked(StageGenerate, heap, regions, params)
	if err != nil {
		return err
	}
	if meta.AtomicFaceCount != expected {
		return fmt.Errorf("%w: generate wrote %d, count observed %d",
			ErrFaceCountMismatch, meta.AtomicFaceCount, expected)
	}

	// The mesh is complete; flip the valid flag for any consumer that
	// inspects metadata directly.
	var flag [4]byte
	binary.LittleEndian.PutUint32(flag[:], 1)
	d.queue.WriteBuffer(heap.Buffer(), uint64(regions.Meta.Offset+chunk.MetadataMeshValidOffset), flag[:])

	slogger().Debug("generate pass complete", "faces", meta.AtomicFaceCount)
	return nil
}

// dispatchLocked encodes one stage, submits it with a fence, waits, and
// returns the chunk's metadata record as read back after completion. Caller
// must hold mu.
func (d *MeshDispatcher) dispatchLocked(stage MeshStage, heap *Heap, regions ChunkRegions, params MeshParams) (chunk.Metadata, error) {
	if !d.initialized {
		return chunk.Metadata{}, ErrNotInitialized
	}

	d.queue.WriteBuffer(d.paramsBuf, 0, params.toBytes())

	res := &dispatchCleanup{device: d.device}
	defer res.cleanup()

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("voxmesh_%s_bg", stage),
		Layout:  d.bgLayouts[stage],
		Entries: d.chunkBindGroupEntries(stage, heap, regions),
	})
	if err != nil {
		return chunk.Metadata{}, fmt.Errorf("gpu: create %s bind group: %w", stage, err)
	}
	res.bindGroups = append(res.bindGroups, bg)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: fmt.Sprintf("voxmesh_%s", stage),
	})
	if err != nil {
		return chunk.Metadata{}, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(fmt.Sprintf("voxmesh_%s", stage)); err != nil {
		return chunk.Metadata{}, fmt.Errorf("gpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: fmt.Sprintf("%s_pass", stage),
	})
	pass.SetPipeline(d.pipelines[stage])
	pass.SetBindGroup(0, bg, nil)
	// One workgroup: each of its threads strides the whole voxel range,
	// keeping the reset/barrier protocol inside a single thread group.
	pass.Dispatch(1, 1, 1)
	pass.End()

	// Copy the metadata record out so the host can observe the counter.
	encoder.CopyBufferToBuffer(heap.Buffer(), d.readback, []hal.BufferCopy{{
		SrcOffset: uint64(regions.Meta.Offset),
		DstOffset: 0,
		Size:      chunk.MetadataSize,
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return chunk.Metadata{}, fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf

	if err := d.submitAndWait(res); err != nil {
		return chunk.Metadata{}, err
	}

	var buf [chunk.MetadataSize]byte
	if err := d.queue.ReadBuffer(d.readback, 0, buf[:]); err != nil {
		return chunk.Metadata{}, fmt.Errorf("gpu: metadata readback: %w", err)
	}
	return chunk.MetadataFromBytes(buf[:])
}

// chunkBindGroupEntries binds the chunk's heap sub-ranges to the stage's
// binding slots.
func (d *MeshDispatcher) chunkBindGroupEntries(stage MeshStage, heap *Heap, regions ChunkRegions) []gputypes.BindGroupEntry {
	heapHandle := heap.Buffer().NativeHandle()
	sub := func(binding uint32, a Allocation) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: heapHandle,
				Offset: uint64(a.Offset),
				Size:   uint64(a.Size),
			},
		}
	}

	voxel := regions.Voxel
	if voxel.Size == 0 {
		// Collapsed palette: no packed stream exists, but the binding
		// slot still needs a valid range. The kernel never reads it when
		// paletteCount <= 1, so alias the palette region.
		voxel = regions.Palette
	}

	entries := []gputypes.BindGroupEntry{
		{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: d.paramsBuf.NativeHandle(),
				Offset: 0,
				Size:   0, // entire buffer
			},
		},
		sub(1, Allocation{Offset: regions.Meta.Offset, Size: chunk.MetadataSize}),
		sub(2, regions.Palette),
		sub(3, voxel),
	}
	if stage == StageGenerate {
		entries = append(entries, sub(4, regions.Mesh))
	}
	return entries
}

// dispatchCleanup tracks per-dispatch GPU resources for cleanup.
type dispatchCleanup struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

// cleanup destroys all tracked per-dispatch resources.
func (r *dispatchCleanup) cleanup() {
	if r.fence != nil {
		r.device.DestroyFence(r.fence)
	}
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
}

// submitAndWait submits the command buffer and waits for GPU completion.
func (d *MeshDispatcher) submitAndWait(res *dispatchCleanup) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	res.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{res.cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}

	ok, err := d.device.Wait(fence, 1, meshFenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: GPU timeout after %v", meshFenceTimeout)
	}
	return nil
}

// ReadFaces copies a generated mesh region back to the host and decodes the
// face records. Only legal after Generate's fence has confirmed completion;
// testing and debugging path, the render shell consumes the region on
// device.
func (d *MeshDispatcher) ReadFaces(heap *Heap, regions ChunkRegions, count uint32) ([]chunk.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, ErrNotInitialized
	}
	if count == 0 {
		return nil, nil
	}
	size := uint64(count) * chunk.FaceRecordSize

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "voxmesh_face_readback",
		Size:  size,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create face readback buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	res := &dispatchCleanup{device: d.device}
	defer res.cleanup()

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "voxmesh_face_readback",
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("voxmesh_face_readback"); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(heap.Buffer(), staging, []hal.BufferCopy{{
		SrcOffset: uint64(regions.Mesh.Offset),
		DstOffset: 0,
		Size:      size,
	}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return nil, fmt.Errorf("gpu: end encoding: %w", err)
	}
	res.cmdBuf = cmdBuf

	if err := d.submitAndWait(res); err != nil {
		return nil, err
	}

	raw := make([]byte, size)
	if err := d.queue.ReadBuffer(staging, 0, raw); err != nil {
		return nil, fmt.Errorf("gpu: face readback: %w", err)
	}
	return chunk.FacesFromBytes(raw)
}
