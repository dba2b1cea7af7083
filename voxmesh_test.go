// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxmesh

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newTestContext(t *testing.T, opts ...Option) (*Context, func()) {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	ctx, err := NewContext(device, queue, opts...)
	if err != nil {
		cleanup()
		t.Fatalf("NewContext failed: %v", err)
	}
	return ctx, func() {
		ctx.Close()
		cleanup()
	}
}

func TestNewContextValidation(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	if _, err := NewContext(nil, queue); !errors.Is(err, ErrNilDevice) {
		t.Errorf("nil device error = %v, want ErrNilDevice", err)
	}
	if _, err := NewContext(device, nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("nil queue error = %v, want ErrNilDevice", err)
	}
	if _, err := NewContext(device, queue, WithChunkSize(0)); !errors.Is(err, ErrValidation) {
		t.Errorf("chunk size 0 error = %v, want ErrValidation", err)
	}
	if _, err := NewContext(device, queue, WithChunkSize(512)); !errors.Is(err, ErrValidation) {
		t.Errorf("chunk size 512 error = %v, want ErrValidation", err)
	}
}

func TestContextWorldRegistry(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	a, err := ctx.CreateWorld()
	if err != nil {
		t.Fatalf("CreateWorld failed: %v", err)
	}
	b, err := ctx.CreateWorld()
	if err != nil {
		t.Fatalf("second CreateWorld failed: %v", err)
	}
	if a.ID() == b.ID() {
		t.Errorf("worlds share id %d", a.ID())
	}
	if ctx.WorldCount() != 2 {
		t.Errorf("WorldCount = %d, want 2", ctx.WorldCount())
	}
	if got := ctx.World(a.ID()); got != a {
		t.Error("World(a.ID()) did not return world a")
	}

	ctx.RemoveWorld(a.ID())
	if got := ctx.World(a.ID()); got != nil {
		t.Error("removed world still registered")
	}
	if ctx.WorldCount() != 1 {
		t.Errorf("WorldCount after remove = %d, want 1", ctx.WorldCount())
	}
	// Removing an unknown id is a no-op.
	ctx.RemoveWorld(9999)

	// Operations on a removed world fail cleanly.
	if err := a.SetVoxel(0, 0, 0, 1); !errors.Is(err, ErrWorldClosed) {
		t.Errorf("SetVoxel on removed world error = %v, want ErrWorldClosed", err)
	}
}

func TestContextCloseIsIdempotent(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	ctx, err := NewContext(device, queue)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	if _, err := ctx.CreateWorld(); err != nil {
		t.Fatalf("CreateWorld failed: %v", err)
	}

	if err := ctx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := ctx.CreateWorld(); !errors.Is(err, ErrContextClosed) {
		t.Errorf("CreateWorld after Close error = %v, want ErrContextClosed", err)
	}
}

// halProvider is a gpucontext.DeviceProvider exposing HAL types, the shape
// a gogpu window provides.
type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

type providerDevice struct{ d hal.Device }

func (p *providerDevice) Poll(wait bool) {}
func (p *providerDevice) Destroy()       {}

func (p *halProvider) Device() gpucontext.Device             { return &providerDevice{d: p.device} }
func (p *halProvider) Queue() gpucontext.Queue               { return p.queue }
func (p *halProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *halProvider) HalDevice() any                        { return p.device }
func (p *halProvider) HalQueue() any                         { return p.queue }

// bareProvider satisfies gpucontext.DeviceProvider without HAL access.
type bareProvider struct{}

func (bareProvider) Device() gpucontext.Device             { return nil }
func (bareProvider) Queue() gpucontext.Queue               { return nil }
func (bareProvider) Adapter() gpucontext.Adapter           { return nil }
func (bareProvider) SurfaceFormat() gputypes.TextureFormat { return 0 }

func TestNewContextFrom(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	ctx, err := NewContextFrom(&halProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("NewContextFrom failed: %v", err)
	}
	defer ctx.Close()

	if _, err := ctx.CreateWorld(); err != nil {
		t.Errorf("CreateWorld on provider-backed context failed: %v", err)
	}
}

func TestNewContextFromRejectsBareProvider(t *testing.T) {
	if _, err := NewContextFrom(nil); !errors.Is(err, ErrNilProvider) {
		t.Errorf("nil provider error = %v, want ErrNilProvider", err)
	}
	if _, err := NewContextFrom(bareProvider{}); !errors.Is(err, ErrNilProvider) {
		t.Errorf("bare provider error = %v, want ErrNilProvider", err)
	}
}
