// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxmesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxmesh/chunk"
	"github.com/gogpu/voxmesh/internal/gpu"
)

// DefaultChunkSize is the edge length of chunks when no WithChunkSize
// option is given.
const DefaultChunkSize = chunk.DefaultSize

// Context owns the GPU device handles, the compiled meshing pipelines, and
// the registry of live worlds. All per-frame state threads through it
// explicitly; there is no package-level device or implicit global.
//
// Create one Context per device. Context is safe for concurrent use.
type Context struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	opts     contextOptions
	mesher   *gpu.MeshDispatcher
	worlds   map[uint64]*World
	nextID   uint64
	closed   bool
}

// NewContext creates a meshing context on an existing HAL device and queue.
// The caller retains ownership of the device; Close releases only the
// resources the context created.
//
// Pipeline compilation happens eagerly so that shader or driver problems
// surface here rather than on the first remesh.
func NewContext(device hal.Device, queue hal.Queue, opts ...Option) (*Context, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNilDevice)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkSize < 1 || o.chunkSize > chunk.MaxSize {
		return nil, fmt.Errorf("%w: %w: %d", ErrValidation, chunk.ErrInvalidSize, o.chunkSize)
	}

	mesher := gpu.NewMeshDispatcher(device, queue)
	if err := mesher.Init(); err != nil {
		return nil, classify(err)
	}
	Logger().Info("voxmesh: meshing pipelines compiled",
		slog.Int("chunk_size", o.chunkSize))

	return &Context{
		device: device,
		queue:  queue,
		opts:   o,
		mesher: mesher,
		worlds: make(map[uint64]*World),
		nextID: 1,
	}, nil
}

// NewContextFrom creates a context from a gpucontext device provider, such
// as the one a gogpu window exposes. The provider must implement
// HalDevice() any and HalQueue() any returning wgpu/hal types.
func NewContextFrom(provider gpucontext.DeviceProvider, opts ...Option) (*Context, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNilProvider)
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNilProvider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: %w: HalDevice is not hal.Device", ErrValidation, ErrNilProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: %w: HalQueue is not hal.Queue", ErrValidation, ErrNilProvider)
	}
	return NewContext(device, queue, opts...)
}

// CreateWorld creates a world with its own device heap and staging ring.
// Worlds share the context's compiled pipelines but never each other's
// memory, so one world exhausting its heap cannot starve another.
func (c *Context) CreateWorld() (*World, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}

	heap, err := gpu.NewHeap(c.device, c.queue, gpu.HeapConfig{
		SizeBytes:    c.opts.heapBytes,
		StagingBytes: c.opts.stagingBytes,
	})
	if err != nil {
		return nil, classify(err)
	}

	id := c.nextID
	c.nextID++
	w := &World{
		id:        id,
		ctx:       c,
		chunkSize: c.opts.chunkSize,
		heap:      heap,
		chunks:    make(map[ChunkCoord]*chunkEntry),
	}
	c.worlds[id] = w
	return w, nil
}

// World returns the live world with the given id, or nil if it was removed
// or never existed.
func (c *Context) World(id uint64) *World {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worlds[id]
}

// RemoveWorld closes the world with the given id and releases its device
// memory. Removing an unknown id is a no-op.
func (c *Context) RemoveWorld(id uint64) {
	c.mu.Lock()
	w := c.worlds[id]
	delete(c.worlds, id)
	c.mu.Unlock()
	if w != nil {
		w.close()
	}
}

// WorldCount returns the number of live worlds.
func (c *Context) WorldCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.worlds)
}

// mesherHandle exposes the shared dispatcher to worlds.
func (c *Context) mesherHandle() *gpu.MeshDispatcher {
	return c.mesher
}

// Close releases all worlds and the compiled pipelines. The device itself
// is untouched; it belongs to the caller. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	worlds := make([]*World, 0, len(c.worlds))
	for _, w := range c.worlds {
		worlds = append(worlds, w)
	}
	c.worlds = nil
	c.mu.Unlock()

	for _, w := range worlds {
		w.close()
	}
	if c.mesher != nil {
		c.mesher.Close()
	}
	return nil
}
