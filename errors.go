// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package voxmesh

import (
	"errors"
	"fmt"

	"github.com/gogpu/voxmesh/chunk"
	"github.com/gogpu/voxmesh/internal/gpu"
	"github.com/gogpu/voxmesh/palette"
)

// Failure categories. Every error returned by Context and World operations
// wraps exactly one of these, so callers can branch on the category with
// errors.Is without enumerating concrete causes.
var (
	// ErrResourceExhausted marks transient capacity failures: a full staging
	// ring or a heap with no free span. Retry after freeing resources or
	// flushing pending transfers.
	ErrResourceExhausted = errors.New("voxmesh: resource exhaustion")

	// ErrValidation marks rejected inputs and failed pipeline construction.
	// Not retryable with the same arguments.
	ErrValidation = errors.New("voxmesh: validation failure")

	// ErrCorruption marks a broken internal invariant, such as the count and
	// generate passes disagreeing on the face total. The affected chunk is
	// marked dirty and renders empty.
	ErrCorruption = errors.New("voxmesh: corruption")

	// ErrOrdering marks a pipeline protocol violation, such as reading a mesh
	// before its generate pass completed.
	ErrOrdering = errors.New("voxmesh: ordering violation")
)

// Concrete causes, re-exported so callers never import internal packages.
var (
	// ErrOutOfDeviceMemory is returned when no free heap span can satisfy an
	// allocation. Retryable after Free.
	ErrOutOfDeviceMemory = gpu.ErrOutOfDeviceMemory

	// ErrStagingFull is returned when the staging ring has no contiguous
	// space. Retryable after committed transfers are released.
	ErrStagingFull = gpu.ErrStagingFull

	// ErrPipelineCreation is returned when kernel compilation or compute
	// pipeline creation fails.
	ErrPipelineCreation = gpu.ErrPipelineCreation

	// ErrFaceCountMismatch is returned when the generate pass produces a
	// different face total than the count pass observed.
	ErrFaceCountMismatch = gpu.ErrFaceCountMismatch

	// ErrCorruptPalette is returned when a packed index exceeds the palette.
	ErrCorruptPalette = palette.ErrCorruptPalette
)

// Errors returned by Context and World lifecycle operations.
var (
	// ErrContextClosed is returned when operations are attempted on a closed
	// context.
	ErrContextClosed = errors.New("voxmesh: context is closed")

	// ErrWorldClosed is returned when operations are attempted on a removed
	// world.
	ErrWorldClosed = errors.New("voxmesh: world is closed")

	// ErrNilDevice is returned when NewContext receives a nil device or queue.
	ErrNilDevice = errors.New("voxmesh: nil device or queue")

	// ErrNilProvider is returned when NewContextFrom receives a nil provider
	// or one that does not expose HAL types.
	ErrNilProvider = errors.New("voxmesh: provider does not expose HAL types")

	// ErrUnknownChunk is returned when a mesh is requested for a coordinate
	// that holds no chunk.
	ErrUnknownChunk = errors.New("voxmesh: no chunk at coordinate")

	// ErrMeshNotReady is returned when mesh data is read from a chunk whose
	// pipeline has not reached the valid state.
	ErrMeshNotReady = errors.New("voxmesh: mesh not ready")
)

// classify wraps err with its failure category. Errors that already carry a
// category, and unrecognized errors, pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, ErrValidation),
		errors.Is(err, ErrCorruption), errors.Is(err, ErrOrdering):
		return err
	case errors.Is(err, gpu.ErrOutOfDeviceMemory), errors.Is(err, gpu.ErrStagingFull):
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	case errors.Is(err, gpu.ErrPipelineCreation), errors.Is(err, gpu.ErrWriteTooLarge),
		errors.Is(err, chunk.ErrInvalidSize), errors.Is(err, palette.ErrIndexOutOfRange),
		errors.Is(err, palette.ErrEmptyPalette):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, gpu.ErrFaceCountMismatch), errors.Is(err, palette.ErrCorruptPalette),
		errors.Is(err, chunk.ErrTruncatedMetadata):
		return fmt.Errorf("%w: %w", ErrCorruption, err)
	case errors.Is(err, chunk.ErrBadTransition), errors.Is(err, ErrMeshNotReady):
		return fmt.Errorf("%w: %w", ErrOrdering, err)
	}
	return err
}

// IsRetryable reports whether err is a transient capacity failure that may
// succeed after resources are freed or pending transfers complete.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}
