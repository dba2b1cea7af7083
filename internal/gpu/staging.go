// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Staging ring errors.
var (
	// ErrStagingFull is returned when the ring has no contiguous span large
	// enough for a request. Retryable: free older allocations and try again.
	ErrStagingFull = errors.New("gpu: staging ring full")

	// ErrStagingClosed is returned when operating on a destroyed ring.
	ErrStagingClosed = errors.New("gpu: staging ring destroyed")

	// ErrBadStagingRequest is returned for zero-sized or oversized requests.
	ErrBadStagingRequest = errors.New("gpu: invalid staging request")
)

// stagingInterval is one live [offset, offset+size) span in the ring,
// tracked in allocation order.
type stagingInterval struct {
	id     uint64
	offset uint32
	size   uint32
	freed  bool
}

// StagingRing is a circular host-visible buffer that marshals CPU-built data
// into upload transfers. Allocations hand out contiguous spans between head
// and tail; frees reclaim space strictly in FIFO order.
//
// Freeing out of allocation order is legal but reclaims nothing until the
// blocking predecessor is freed: tail only ever advances past the oldest
// interval. That is a documented caller contract, chosen over a free-list so
// the upload path keeps its O(1) reclaim and transfers never interleave with
// reused spans. Callers must also not touch a span again until the transfer
// reading it has been observed complete (fence), or the write races the copy.
type StagingRing struct {
	device hal.Device
	buf    hal.Buffer
	mirror []byte // host copy; flushed to buf at commit time
	size   uint32

	head uint32 // next write position
	tail uint32 // start of the oldest live interval
	used uint32 // live bytes, disambiguates head==tail

	intervals *list.List               // *stagingInterval in allocation order
	byID      map[uint64]*list.Element // id -> position in intervals
	nextID    uint64

	closed bool
}

// NewStagingRing creates a ring of the given byte size backed by one GPU
// buffer with copy-source usage.
func NewStagingRing(device hal.Device, size uint32) (*StagingRing, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: ring size 0", ErrBadStagingRequest)
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "voxmesh_staging_ring",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create staging ring buffer: %w", err)
	}
	return &StagingRing{
		device:    device,
		buf:       buf,
		mirror:    make([]byte, size),
		size:      size,
		intervals: list.New(),
		byID:      make(map[uint64]*list.Element),
		nextID:    1,
	}, nil
}

// Allocate reserves a contiguous span of at least size bytes, rounded up to
// alignment. The head wraps to offset 0 when the request does not fit before
// the buffer end, which may still fail if the region below tail is too
// small. Returns ErrStagingFull when no contiguous span exists.
func (r *StagingRing) Allocate(size, alignment uint32) (offset uint32, id uint64, err error) {
	if r.closed {
		return 0, 0, ErrStagingClosed
	}
	if alignment == 0 {
		alignment = 1
	}
	rounded := (size + alignment - 1) / alignment * alignment
	if rounded == 0 || rounded > r.size {
		return 0, 0, fmt.Errorf("%w: %d bytes in a %d byte ring", ErrBadStagingRequest, size, r.size)
	}

	offset, ok := r.reserve(rounded)
	if !ok {
		return 0, 0, fmt.Errorf("%w: need %d contiguous bytes, head=%d tail=%d used=%d",
			ErrStagingFull, rounded, r.head, r.tail, r.used)
	}

	id = r.nextID
	r.nextID++
	iv := &stagingInterval{id: id, offset: offset, size: rounded}
	r.byID[id] = r.intervals.PushBack(iv)
	r.used += rounded

	slogger().Debug("staging allocate", "id", id, "offset", offset, "size", rounded)
	return offset, id, nil
}

// reserve finds space for rounded bytes and advances head. Wrap-around
// allocations place the span at offset 0; the skipped bytes before the
// buffer end are reclaimed when tail follows the wrap. head may land exactly
// on tail when the ring fills completely; used disambiguates full from
// empty.
func (r *StagingRing) reserve(rounded uint32) (uint32, bool) {
	if r.used == 0 {
		// Empty ring: restart from the origin for maximal contiguity.
		r.head, r.tail = 0, 0
		r.head = rounded
		return 0, true
	}
	if r.head == r.tail {
		// head caught up with tail while intervals are live: completely
		// full (exact-fit allocations are allowed to create this state).
		return 0, false
	}

	if r.head > r.tail {
		// Free space is [head, size) then [0, tail).
		if r.size-r.head >= rounded {
			off := r.head
			r.head += rounded
			return off, true
		}
		if r.tail >= rounded {
			r.head = rounded
			return 0, true
		}
		return 0, false
	}

	// head < tail: free space is the single span [head, tail).
	if r.tail-r.head >= rounded {
		off := r.head
		r.head += rounded
		return off, true
	}
	return 0, false
}

// Free releases the interval with the given id. If it is the oldest live
// interval, tail advances past it and past any immediately following
// intervals that were already freed out of order. Unknown ids are a no-op.
func (r *StagingRing) Free(id uint64) {
	elem, ok := r.byID[id]
	if !ok {
		return
	}
	iv := elem.Value.(*stagingInterval)
	if iv.freed {
		return
	}
	iv.freed = true
	delete(r.byID, id)

	// Only the oldest interval moves tail; later frees wait their turn.
	// An interval at a lower offset than tail wrapped to 0, so tail
	// follows it across the buffer end.
	for front := r.intervals.Front(); front != nil; front = r.intervals.Front() {
		fiv := front.Value.(*stagingInterval)
		if !fiv.freed {
			break
		}
		r.tail = fiv.offset + fiv.size
		r.used -= fiv.size
		r.intervals.Remove(front)
	}
	if r.used == 0 {
		r.head, r.tail = 0, 0
	}
}

// Reset clears all interval tracking and rewinds head and tail to 0. Only
// legal at full-pipeline idle points: any transfer still reading the ring
// races the next writer.
func (r *StagingRing) Reset() {
	r.intervals.Init()
	r.byID = make(map[uint64]*list.Element)
	r.head, r.tail, r.used = 0, 0, 0
}

// Bytes returns the host mirror slice for a span handed out by Allocate.
// Callers fill it, then the owning heap flushes it to the GPU buffer when
// the copy is committed.
func (r *StagingRing) Bytes(offset, size uint32) []byte {
	return r.mirror[offset : offset+size]
}

// Buffer returns the backing GPU buffer.
func (r *StagingRing) Buffer() hal.Buffer { return r.buf }

// Size returns the ring capacity in bytes.
func (r *StagingRing) Size() uint32 { return r.size }

// UsedBytes returns the bytes currently held by live intervals, including
// intervals freed out of order that tail has not reached yet.
func (r *StagingRing) UsedBytes() uint32 { return r.used }

// Destroy releases the GPU buffer. The ring must not be used afterwards.
func (r *StagingRing) Destroy() {
	if r.closed {
		return
	}
	r.closed = true
	if r.buf != nil {
		r.device.DestroyBuffer(r.buf)
		r.buf = nil
	}
	r.mirror = nil
	r.intervals.Init()
	r.byID = nil
}
