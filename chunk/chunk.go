// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package chunk defines the fixed-size cubic voxel region that is meshed as
// a unit, its heap-resident metadata record, the face record emitted by the
// generate pass, and the CPU reference visibility kernel the GPU kernels
// mirror.
package chunk

import (
	"errors"
	"fmt"
)

// Air is the reserved empty material. A voxel holding Air is not solid and
// never emits faces.
const Air uint32 = 0

// DefaultSize is the edge length of a chunk cube unless configured
// otherwise: 8 voxels per axis, 512 voxels total.
const DefaultSize = 8

// MaxSize bounds the edge length so voxel coordinates fit the 8-bit fields
// of the packed face record.
const MaxSize = 256

// ErrInvalidSize is returned when a chunk edge length is out of range.
var ErrInvalidSize = errors.New("chunk: size must be in [1, 256]")

// MeshState tracks where a chunk sits in the meshing pipeline.
type MeshState uint32

const (
	// StateDirty marks voxel data newer than any mesh; every voxel write
	// returns the chunk here.
	StateDirty MeshState = iota

	// StateCounting marks a count dispatch in flight or observed.
	StateCounting

	// StateGenerating marks a generate dispatch in flight.
	StateGenerating

	// StateValid marks a mesh confirmed complete by a fence.
	StateValid
)

// String returns the state name for logging.
func (s MeshState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateCounting:
		return "counting"
	case StateGenerating:
		return "generating"
	case StateValid:
		return "valid"
	default:
		return fmt.Sprintf("MeshState(%d)", uint32(s))
	}
}

// ErrBadTransition is returned by AdvanceState for a transition the pipeline
// never performs.
var ErrBadTransition = errors.New("chunk: invalid mesh state transition")

// Chunk is a dense size³ cube of material values. Voxels are addressed
// x-fastest: index = x + y*size + z*size².
//
// Chunk is not safe for concurrent use; the owning world serializes access.
type Chunk struct {
	size      int
	materials []uint32
	state     MeshState
	revision  uint64 // bumped on every voxel write, detects stale meshes
}

// New returns an all-Air chunk with the given edge length.
func New(size int) (*Chunk, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Chunk{
		size:      size,
		materials: make([]uint32, size*size*size),
	}, nil
}

// Size returns the edge length in voxels.
func (c *Chunk) Size() int { return c.size }

// Volume returns the voxel count, size³.
func (c *Chunk) Volume() int { return len(c.materials) }

// Index returns the linear voxel index for (x, y, z). Callers must check
// InBounds first; Index does not.
func (c *Chunk) Index(x, y, z int) int {
	return x + y*c.size + z*c.size*c.size
}

// InBounds reports whether (x, y, z) lies inside the chunk cube.
func (c *Chunk) InBounds(x, y, z int) bool {
	return x >= 0 && x < c.size && y >= 0 && y < c.size && z >= 0 && z < c.size
}

// At returns the material at (x, y, z), or Air when out of bounds.
func (c *Chunk) At(x, y, z int) uint32 {
	if !c.InBounds(x, y, z) {
		return Air
	}
	return c.materials[c.Index(x, y, z)]
}

// Set writes a material value and returns the chunk to StateDirty. Writes
// outside the cube are ignored.
func (c *Chunk) Set(x, y, z int, material uint32) {
	if !c.InBounds(x, y, z) {
		return
	}
	c.materials[c.Index(x, y, z)] = material
	c.state = StateDirty
	c.revision++
}

// Fill overwrites every voxel with one material and dirties the chunk.
func (c *Chunk) Fill(material uint32) {
	for i := range c.materials {
		c.materials[i] = material
	}
	c.state = StateDirty
	c.revision++
}

// Materials returns the dense material array in linear index order. Shared,
// not copied; it is the input to palette.Build.
func (c *Chunk) Materials() []uint32 { return c.materials }

// State returns the current mesh state.
func (c *Chunk) State() MeshState { return c.state }

// Revision returns the voxel write counter. The world snapshots it before a
// dispatch and discards the result if it moved.
func (c *Chunk) Revision() uint64 { return c.revision }

// MarkDirty forces the chunk back to StateDirty without touching voxels,
// invalidating any mesh or in-flight dispatch result.
func (c *Chunk) MarkDirty() {
	c.state = StateDirty
}

// AdvanceState moves the chunk one step along
// Dirty → Counting → Generating → Valid. Returning to Dirty is always legal
// (that is what MarkDirty and Set do); anything else out of order fails.
func (c *Chunk) AdvanceState(to MeshState) error {
	if to == StateDirty {
		c.state = StateDirty
		return nil
	}
	legal := (c.state == StateDirty && to == StateCounting) ||
		(c.state == StateCounting && to == StateGenerating) ||
		(c.state == StateGenerating && to == StateValid)
	if !legal {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.state, to)
	}
	c.state = to
	return nil
}
