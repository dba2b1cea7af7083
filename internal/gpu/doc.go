// Package gpu provides the device-memory and dispatch layer of the voxel
// meshing pipeline.
//
// This is an internal package used by the voxmesh library. It builds on the
// gogpu/wgpu Pure Go WebGPU implementation (zero CGO), which supports
// Vulkan, Metal, and DX12 backends depending on the platform.
//
// # Architecture Overview
//
// Chunk data flows through three cooperating pieces:
//
//	palette streams -> StagingRing -> Heap regions -> MeshDispatcher (Count -> Generate)
//
// Key components:
//
//   - Heap: one large device allocation subdivided by byte offset into
//     typed regions (voxel data, palette, mesh output, metadata). Every
//     cross-reference between regions is a relative offset from the heap
//     base, so the heap can be rebound without patching stored records.
//   - StagingRing: circular host-visible buffer marshaling CPU-built data
//     into upload transfers, reclaimed strictly in FIFO order.
//   - MeshDispatcher: the two-phase compute protocol. The count pass tallies
//     visible faces into the chunk's atomic counter; the host observes the
//     total, sizes the mesh region, and dispatches the generate pass, which
//     reuses the counter as a write cursor to claim unique output slots.
//
// # Ordering
//
// Nothing in this package makes cross-dispatch ordering implicit. Queued
// heap copies must be committed and their submission fenced before a kernel
// reading the written regions is dispatched; Count's result must be observed
// by the host before Generate's allocation decision; Generate's fence must
// signal before the render stage reads the mesh. Each boundary is an
// explicit fence wait at submission granularity.
//
// # Error Handling
//
// Common errors returned by this package:
//
//   - ErrOutOfDeviceMemory: no free heap span fits (retryable after frees)
//   - ErrStagingFull: no contiguous ring space (retryable after a flush)
//   - ErrPipelineCreation: kernel compilation or pipeline creation failed
//   - ErrFaceCountMismatch: the two passes disagreed on the face total
//   - ErrNotInitialized: dispatcher used before Init
//
// # Related Packages
//
//   - github.com/gogpu/voxmesh/chunk: chunk model and CPU reference kernel
//   - github.com/gogpu/voxmesh/palette: bit-packed palette compression
//   - github.com/gogpu/wgpu: Pure Go WebGPU implementation
package gpu
