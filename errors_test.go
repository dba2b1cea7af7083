package voxmesh

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/voxmesh/chunk"
	"github.com/gogpu/voxmesh/internal/gpu"
	"github.com/gogpu/voxmesh/palette"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category error
	}{
		{"heap exhaustion", gpu.ErrOutOfDeviceMemory, ErrResourceExhausted},
		{"staging full", gpu.ErrStagingFull, ErrResourceExhausted},
		{"pipeline creation", gpu.ErrPipelineCreation, ErrValidation},
		{"write too large", gpu.ErrWriteTooLarge, ErrValidation},
		{"invalid chunk size", chunk.ErrInvalidSize, ErrValidation},
		{"index out of range", palette.ErrIndexOutOfRange, ErrValidation},
		{"empty palette", palette.ErrEmptyPalette, ErrValidation},
		{"face count mismatch", gpu.ErrFaceCountMismatch, ErrCorruption},
		{"corrupt palette", palette.ErrCorruptPalette, ErrCorruption},
		{"truncated metadata", chunk.ErrTruncatedMetadata, ErrCorruption},
		{"bad transition", chunk.ErrBadTransition, ErrOrdering},
		{"mesh not ready", ErrMeshNotReady, ErrOrdering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.category) {
				t.Errorf("classify(%v) = %v, missing category %v", tt.err, got, tt.category)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify(%v) = %v, lost the concrete cause", tt.err, got)
			}
		})
	}
}

func TestClassifyWrappedCause(t *testing.T) {
	// Causes arriving wrapped with context still classify.
	err := fmt.Errorf("remesh chunk (0, 0, 0): %w", gpu.ErrOutOfDeviceMemory)
	if got := classify(err); !errors.Is(got, ErrResourceExhausted) {
		t.Errorf("classify(wrapped) = %v, want ErrResourceExhausted", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	once := classify(gpu.ErrStagingFull)
	twice := classify(once)
	if twice != once {
		t.Errorf("classify reclassified an already-categorized error: %v", twice)
	}
}

func TestClassifyPassThrough(t *testing.T) {
	if got := classify(nil); got != nil {
		t.Errorf("classify(nil) = %v", got)
	}
	unknown := errors.New("backend hiccup")
	if got := classify(unknown); got != unknown {
		t.Errorf("classify(unknown) = %v, want pass-through", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(classify(gpu.ErrOutOfDeviceMemory)) {
		t.Error("heap exhaustion should be retryable")
	}
	if !IsRetryable(classify(gpu.ErrStagingFull)) {
		t.Error("staging exhaustion should be retryable")
	}
	if IsRetryable(classify(gpu.ErrFaceCountMismatch)) {
		t.Error("corruption must not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}
