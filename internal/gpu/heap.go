// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Heap errors.
var (
	// ErrOutOfDeviceMemory is returned when no free span can satisfy an
	// allocation. Retryable after freeing or evicting chunk regions.
	ErrOutOfDeviceMemory = errors.New("gpu: out of device heap memory")

	// ErrHeapClosed is returned when operating on a destroyed heap.
	ErrHeapClosed = errors.New("gpu: heap destroyed")

	// ErrWriteTooLarge is returned when staged data exceeds its target
	// allocation.
	ErrWriteTooLarge = errors.New("gpu: write exceeds target allocation")
)

// heapAlign is the offset alignment of every heap allocation. Storage buffer
// bindings address sub-ranges of the heap, and 256 is the portable minimum
// storage binding alignment.
const heapAlign = 256

// Default heap sizing.
const (
	// DefaultHeapBytes is the default device heap size (16 MB).
	DefaultHeapBytes = 16 * 1024 * 1024

	// DefaultStagingBytes is the default staging ring size (1 MB).
	DefaultStagingBytes = 1024 * 1024
)

// ResourceKind tags what a heap allocation holds. Kinds never alias: an
// allocation keeps its tag until freed, and every cross-reference between
// regions is a byte offset from the heap base, never a pointer.
type ResourceKind uint8

const (
	ResourceVoxelData ResourceKind = iota
	ResourcePalette
	ResourceMesh
	ResourceMetadata
)

// String returns the kind name for logging.
func (k ResourceKind) String() string {
	switch k {
	case ResourceVoxelData:
		return "voxel_data"
	case ResourcePalette:
		return "palette"
	case ResourceMesh:
		return "mesh"
	case ResourceMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// Allocation is one typed sub-region of the heap. Offset is relative to the
// heap base, so records referencing it survive a heap rebind.
type Allocation struct {
	ID     uint64
	Offset uint32
	Size   uint32
	Kind   ResourceKind
}

// freeSpan is one gap in the heap, kept sorted by offset for merging.
type freeSpan struct {
	offset uint32
	size   uint32
}

// pendingCopy is one staged upload awaiting CommitWrites.
type pendingCopy struct {
	srcOffset uint32 // staging ring offset
	dstOffset uint32 // heap offset
	size      uint32
	ringID    uint64
}

// HeapConfig sizes a heap and its staging ring.
type HeapConfig struct {
	// SizeBytes is the device heap size. Defaults to DefaultHeapBytes
	// if zero.
	SizeBytes uint32

	// StagingBytes is the staging ring size. Defaults to
	// DefaultStagingBytes if zero.
	StagingBytes uint32
}

// HeapStats contains heap usage statistics.
type HeapStats struct {
	TotalBytes     uint32
	UsedBytes      uint32
	AvailableBytes uint32
	Allocations    int
	PendingWrites  int
	Utilization    float64
}

// String returns a human-readable form of the stats.
func (s HeapStats) String() string {
	return fmt.Sprintf("Heap[%.1f%% used, %d/%d KB, %d allocations, %d pending writes]",
		s.Utilization*100,
		s.UsedBytes/1024,
		s.TotalBytes/1024,
		s.Allocations,
		s.PendingWrites)
}

// Heap is one large device allocation subdivided by byte offset into typed
// regions. Writes go through the staging ring: Write stages host data and
// queues a copy, CommitWrites records the queued copies into a command
// encoder in FIFO order. The copies must be committed and submitted before
// any kernel reading the written regions is dispatched; nothing makes that
// ordering implicit.
//
// Heap is safe for concurrent use.
type Heap struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	buf    hal.Buffer
	size   uint32

	ring *StagingRing

	free      *list.List // *freeSpan sorted by offset
	allocs    map[uint64]Allocation
	nextID    uint64
	usedBytes uint32

	pending   []pendingCopy
	committed []uint64 // ring ids of copies recorded but not yet released

	closed bool
}

// NewHeap creates the device heap buffer and its staging ring.
func NewHeap(device hal.Device, queue hal.Queue, config HeapConfig) (*Heap, error) {
	size := config.SizeBytes
	if size == 0 {
		size = DefaultHeapBytes
	}
	staging := config.StagingBytes
	if staging == 0 {
		staging = DefaultStagingBytes
	}

	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "voxmesh_heap",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create heap buffer: %w", err)
	}

	ring, err := NewStagingRing(device, staging)
	if err != nil {
		device.DestroyBuffer(buf)
		return nil, err
	}

	h := &Heap{
		device: device,
		queue:  queue,
		buf:    buf,
		size:   size,
		ring:   ring,
		free:   list.New(),
		allocs: make(map[uint64]Allocation),
		nextID: 1,
	}
	h.free.PushBack(&freeSpan{offset: 0, size: size})
	return h, nil
}

// Allocate carves a typed sub-region out of the heap, first-fit, with
// offsets aligned to the storage binding minimum. Returns
// ErrOutOfDeviceMemory when no span fits.
func (h *Heap) Allocate(sizeBytes uint32, kind ResourceKind) (Allocation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Allocation{}, ErrHeapClosed
	}
	if sizeBytes == 0 {
		sizeBytes = heapAlign
	}
	rounded := (sizeBytes + heapAlign - 1) / heapAlign * heapAlign

	for elem := h.free.Front(); elem != nil; elem = elem.Next() {
		span := elem.Value.(*freeSpan)
		if span.size < rounded {
			continue
		}
		alloc := Allocation{
			ID:     h.nextID,
			Offset: span.offset,
			Size:   rounded,
			Kind:   kind,
		}
		h.nextID++
		span.offset += rounded
		span.size -= rounded
		if span.size == 0 {
			h.free.Remove(elem)
		}
		h.allocs[alloc.ID] = alloc
		h.usedBytes += rounded
		slogger().Debug("heap allocate", "id", alloc.ID, "kind", kind, "offset", alloc.Offset, "size", rounded)
		return alloc, nil
	}

	return Allocation{}, fmt.Errorf("%w: need %d bytes, %d of %d in use",
		ErrOutOfDeviceMemory, rounded, h.usedBytes, h.size)
}

// Free invalidates an allocation and returns its span to the free list.
// Memory is not zeroed: the next allocation owns whatever contents remain.
// Unknown ids are a silent no-op.
func (h *Heap) Free(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	alloc, ok := h.allocs[id]
	if !ok {
		return
	}
	delete(h.allocs, id)
	h.usedBytes -= alloc.Size
	h.insertFreeLocked(alloc.Offset, alloc.Size)
}

// insertFreeLocked returns a span to the sorted free list, merging with
// adjacent spans. Caller must hold mu.
func (h *Heap) insertFreeLocked(offset, size uint32) {
	var next *list.Element
	for elem := h.free.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*freeSpan).offset > offset {
			next = elem
			break
		}
	}

	var inserted *list.Element
	if next != nil {
		inserted = h.free.InsertBefore(&freeSpan{offset: offset, size: size}, next)
	} else {
		inserted = h.free.PushBack(&freeSpan{offset: offset, size: size})
	}

	span := inserted.Value.(*freeSpan)
	if prev := inserted.Prev(); prev != nil {
		p := prev.Value.(*freeSpan)
		if p.offset+p.size == span.offset {
			p.size += span.size
			h.free.Remove(inserted)
			inserted = prev
			span = p
		}
	}
	if nextElem := inserted.Next(); nextElem != nil {
		n := nextElem.Value.(*freeSpan)
		if span.offset+span.size == n.offset {
			span.size += n.size
			h.free.Remove(nextElem)
		}
	}
}

// Write stages hostData for upload into dst and queues the copy command.
// Returns false (with a nil error) when the staging ring lacks contiguous
// space; the caller commits outstanding writes, releases them after their
// fence, and retries.
func (h *Heap) Write(hostData []byte, dst Allocation) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, ErrHeapClosed
	}
	if len(hostData) > int(dst.Size) {
		return false, fmt.Errorf("%w: %d bytes into a %d byte %s region",
			ErrWriteTooLarge, len(hostData), dst.Size, dst.Kind)
	}
	if len(hostData) == 0 {
		return true, nil
	}

	offset, id, err := h.ring.Allocate(uint32(len(hostData)), 4)
	if err != nil {
		if errors.Is(err, ErrStagingFull) {
			return false, nil
		}
		return false, err
	}
	copy(h.ring.Bytes(offset, uint32(len(hostData))), hostData)

	h.pending = append(h.pending, pendingCopy{
		srcOffset: offset,
		dstOffset: dst.Offset,
		size:      uint32(len(hostData)),
		ringID:    id,
	})
	return true, nil
}

// CommitWrites drains the queued copies into encoder in FIFO call order and
// clears the queue. The staging spans stay live until ReleaseCommitted is
// called after the submission's fence signals; releasing earlier would let a
// new Write race a transfer still reading the ring.
func (h *Heap) CommitWrites(encoder hal.CommandEncoder) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHeapClosed
	}

	for _, pc := range h.pending {
		h.queue.WriteBuffer(h.ring.Buffer(), uint64(pc.srcOffset), h.ring.Bytes(pc.srcOffset, pc.size))
		encoder.CopyBufferToBuffer(h.ring.Buffer(), h.buf, []hal.BufferCopy{{
			SrcOffset: uint64(pc.srcOffset),
			DstOffset: uint64(pc.dstOffset),
			Size:      uint64(pc.size),
		}})
		h.committed = append(h.committed, pc.ringID)
	}
	slogger().Debug("heap commit", "copies", len(h.pending))
	h.pending = h.pending[:0]
	return nil
}

// Flush commits all queued writes into a one-off submission, blocks until
// the transfer completes, and releases the staging spans. Convenience for
// callers without a larger submission to batch into; CommitWrites remains
// the primitive when copies must land in the same command list as a
// dispatch.
func (h *Heap) Flush() error {
	encoder, err := h.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "voxmesh_heap_flush",
	})
	if err != nil {
		return fmt.Errorf("gpu: create flush encoder: %w", err)
	}
	if err := encoder.BeginEncoding("voxmesh_heap_flush"); err != nil {
		return fmt.Errorf("gpu: begin flush encoding: %w", err)
	}
	if err := h.CommitWrites(encoder); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("gpu: end flush encoding: %w", err)
	}
	defer h.device.FreeCommandBuffer(cmdBuf)

	fence, err := h.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create flush fence: %w", err)
	}
	defer h.device.DestroyFence(fence)

	if err := h.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit flush: %w", err)
	}
	ok, err := h.device.Wait(fence, 1, meshFenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for flush: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: flush timeout after %v", meshFenceTimeout)
	}

	h.ReleaseCommitted()
	return nil
}

// ReleaseCommitted frees the staging spans of all committed copies, in
// commit order. Call only after the submission carrying those copies has
// been observed complete.
func (h *Heap) ReleaseCommitted() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range h.committed {
		h.ring.Free(id)
	}
	h.committed = h.committed[:0]
}

// Buffer returns the device heap buffer for binding sub-ranges.
func (h *Heap) Buffer() hal.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf
}

// Ring returns the staging ring.
func (h *Heap) Ring() *StagingRing {
	return h.ring
}

// Stats returns current heap usage.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var utilization float64
	if h.size > 0 {
		utilization = float64(h.usedBytes) / float64(h.size)
	}
	return HeapStats{
		TotalBytes:     h.size,
		UsedBytes:      h.usedBytes,
		AvailableBytes: h.size - h.usedBytes,
		Allocations:    len(h.allocs),
		PendingWrites:  len(h.pending),
		Utilization:    utilization,
	}
}

// Destroy releases the heap buffer and the staging ring.
func (h *Heap) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	if h.buf != nil {
		h.device.DestroyBuffer(h.buf)
		h.buf = nil
	}
	h.ring.Destroy()
	h.allocs = nil
	h.free.Init()
	h.pending = nil
	h.committed = nil
}
