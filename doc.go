// Package voxmesh is a GPU voxel meshing library for Go.
//
// # Overview
//
// voxmesh turns dense voxel chunks into renderable face meshes on the GPU
// using a two-phase compute protocol, built on the GoGPU ecosystem
// (gogpu/wgpu, Pure Go WebGPU, zero CGO).
//
// Chunk materials are palette-compressed on the CPU, uploaded through a
// staging ring into one device heap, and meshed by two kernel dispatches:
// a count pass tallies visible faces into an atomic counter, the host
// observes the total and sizes the mesh region exactly, and a generate pass
// reuses the counter as a write cursor to emit packed face records.
//
// # Quick Start
//
//	import "github.com/gogpu/voxmesh"
//
//	ctx, err := voxmesh.NewContext(device, queue)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	world, _ := ctx.CreateWorld()
//	world.SetVoxel(2, 2, 2, 7)
//	result, err := world.RemeshChunk(voxmesh.ChunkCoord{})
//
// # Architecture
//
// The library is organized into:
//   - Public API: Context, World, ChunkCoord, MeshResult
//   - chunk: chunk model, metadata record, CPU reference visibility kernel
//   - palette: bit-packed palette compression
//   - material: material registry and texture atlas building
//   - internal/gpu: heap, staging ring, compute dispatch, WGSL kernels
//
// # Error Handling
//
// Every error wraps one of four categories — [ErrResourceExhausted],
// [ErrValidation], [ErrCorruption], [ErrOrdering] — so callers branch with
// errors.Is. A failed remesh never aborts the process: the chunk is marked
// dirty and renders empty until the next successful remesh.
//
// # Concurrency
//
// Context and World are safe for concurrent use; Chunk is not, and is
// serialized by its owning world.
package voxmesh

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
