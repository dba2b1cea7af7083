// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package material maps voxel material ids to renderable appearance: a flat
// color table for the face shader and an optional texture atlas with mip
// levels for textured rendering.
package material

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
)

// Air is the reserved empty material id. It cannot be registered and is
// never rendered.
const Air uint32 = 0

// MaxMaterials bounds material ids so the shader-side color table has a
// fixed size.
const MaxMaterials = 256

// Registry errors.
var (
	// ErrReservedID is returned when registering material id 0.
	ErrReservedID = errors.New("material: id 0 is reserved for air")

	// ErrIDOutOfRange is returned for ids at or above MaxMaterials.
	ErrIDOutOfRange = errors.New("material: id out of range")

	// ErrDuplicateID is returned when an id is registered twice.
	ErrDuplicateID = errors.New("material: id already registered")

	// ErrBadTile is returned when a tile image is missing or not square.
	ErrBadTile = errors.New("material: tile must be a square image")
)

// Material describes one voxel material.
type Material struct {
	// ID is the value stored in voxel data and face records.
	ID uint32

	// Name is a human-readable label for tools and logs.
	Name string

	// Color is the flat shading color used when no atlas is bound.
	Color color.RGBA

	// Tile is an optional square texture tile. All registered tiles must
	// share one edge length; BuildAtlas rescales mismatches.
	Tile image.Image
}

// Registry holds the material set for a world. Materials are registered
// once at startup; lookups during meshing are read-only.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[uint32]Material
}

// NewRegistry returns an empty registry. Id 0 is implicitly air.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]Material)}
}

// Register adds a material. The id must be in [1, MaxMaterials) and unused.
func (r *Registry) Register(m Material) error {
	if m.ID == Air {
		return ErrReservedID
	}
	if m.ID >= MaxMaterials {
		return fmt.Errorf("%w: %d", ErrIDOutOfRange, m.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, m.ID)
	}
	r.byID[m.ID] = m
	return nil
}

// Get returns the material for id and whether it is registered. Air is
// never registered.
func (r *Registry) Get(id uint32) (Material, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// Count returns the number of registered materials, excluding air.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ColorTable returns the flat color of every material id as normalized
// RGBA, indexed by id. Unregistered ids (including air) are transparent
// black. The layout matches the face shader's material table uniform.
func (r *Registry) ColorTable() [MaxMaterials][4]float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var table [MaxMaterials][4]float32
	for id, m := range r.byID {
		table[id] = [4]float32{
			float32(m.Color.R) / 255,
			float32(m.Color.G) / 255,
			float32(m.Color.B) / 255,
			float32(m.Color.A) / 255,
		}
	}
	return table
}
