// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package palette implements bit-packed palette compression for dense voxel
// scalar fields.
//
// A compressed chunk stores two streams: an ordered table of unique material
// values (the palette, first-seen-first-indexed) and a packed stream of
// fixed-width indices into that table, one per voxel. The index width is the
// smallest number of bits that can address every palette entry, so chunks
// dominated by a few materials compress to a fraction of their dense size.
// A chunk made of a single material collapses entirely: the palette holds one
// entry and no packed data exists.
//
// Both streams are laid out in 32-bit little-endian words so they can be
// uploaded verbatim as GPU storage buffers and decoded by compute kernels
// with the same word/offset arithmetic used here.
package palette

import (
	"errors"
	"fmt"
	"math/bits"
)

// Errors returned by Decode and the decompression helpers.
var (
	// ErrIndexOutOfRange is returned when a voxel index is outside the
	// compressed array's length.
	ErrIndexOutOfRange = errors.New("palette: index out of range")

	// ErrEmptyPalette is returned when decoding against a palette with no
	// entries. A populated chunk never produces one.
	ErrEmptyPalette = errors.New("palette: empty palette")

	// ErrCorruptPalette is returned when a packed index addresses past the
	// palette table. Data produced by Build never trips this.
	ErrCorruptPalette = errors.New("palette: packed index exceeds palette bounds")
)

// wordBits is the packed stream word width. Must match the u32 array layout
// in count.wgsl and generate.wgsl.
const wordBits = 32

// Store is one compressed voxel array: the unique-value table plus the packed
// index stream. The zero value is an empty store of length 0.
type Store struct {
	values []uint32 // unique values in first-seen order
	words  []uint32 // packed indices, bits per index, little-endian bit order
	bits   uint32   // index width; 0 when the palette collapsed
	length int      // voxel count of the source array
}

// BitsFor returns the packed index width for a palette of n unique values:
// ceil(log2(n)) with a minimum of 1. Collapsed palettes (n <= 1) carry no
// packed data and report 0.
func BitsFor(n int) uint32 {
	if n <= 1 {
		return 0
	}
	b := uint32(bits.Len32(uint32(n - 1)))
	if b == 0 {
		b = 1
	}
	return b
}

// Build compresses values into a Store. Each newly seen value is assigned the
// next sequential palette index, so palette order reflects first appearance,
// not magnitude. With one or zero unique values no packed stream is built.
func Build(values []uint32) *Store {
	s := &Store{length: len(values)}
	seen := make(map[uint32]uint32, 16)
	indices := make([]uint32, len(values))
	for i, v := range values {
		idx, ok := seen[v]
		if !ok {
			idx = uint32(len(s.values))
			seen[v] = idx
			s.values = append(s.values, v)
		}
		indices[i] = idx
	}
	if len(s.values) <= 1 {
		// Single-value collapse: every lookup answers from the table.
		return s
	}

	s.bits = BitsFor(len(s.values))
	wordCount := (uint64(s.length)*uint64(s.bits) + wordBits - 1) / wordBits
	s.words = make([]uint32, wordCount)
	for i, idx := range indices {
		cursor := uint64(i) * uint64(s.bits)
		word := cursor / wordBits
		inner := uint32(cursor % wordBits)
		s.words[word] |= idx << inner
		if inner+s.bits > wordBits {
			// Index straddles a word boundary: low bits stay in the
			// current word, high bits land at bit 0 of the next.
			s.words[word+1] |= idx >> (wordBits - inner)
		}
	}
	return s
}

// Decode returns the original value at voxel index i.
func (s *Store) Decode(i int) (uint32, error) {
	if i < 0 || i >= s.length {
		return 0, fmt.Errorf("%w: %d (length %d)", ErrIndexOutOfRange, i, s.length)
	}
	switch len(s.values) {
	case 0:
		return 0, ErrEmptyPalette
	case 1:
		return s.values[0], nil
	}

	cursor := uint64(i) * uint64(s.bits)
	word := cursor / wordBits
	inner := uint32(cursor % wordBits)
	mask := uint32(1)<<s.bits - 1
	idx := (s.words[word] >> inner) & mask
	if inner+s.bits > wordBits {
		// Reassemble a split index: high part shifted past the bits
		// already consumed from the low word.
		consumed := wordBits - inner
		idx |= (s.words[word+1] << consumed) & mask
	}
	if idx >= uint32(len(s.values)) {
		return 0, fmt.Errorf("%w: index %d, count %d", ErrCorruptPalette, idx, len(s.values))
	}
	return s.values[idx], nil
}

// DecompressAll decodes every voxel back into a dense array. Verification
// path only; per-voxel consumers should call Decode directly.
func (s *Store) DecompressAll() ([]uint32, error) {
	return s.DecompressRegion(0, s.length)
}

// DecompressRegion decodes voxels in [lo, hi).
func (s *Store) DecompressRegion(lo, hi int) ([]uint32, error) {
	if lo < 0 || hi > s.length || lo > hi {
		return nil, fmt.Errorf("%w: region [%d, %d) of length %d", ErrIndexOutOfRange, lo, hi, s.length)
	}
	out := make([]uint32, 0, hi-lo)
	for i := lo; i < hi; i++ {
		v, err := s.Decode(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Len returns the voxel count of the source array.
func (s *Store) Len() int { return s.length }

// Count returns the number of unique palette entries.
func (s *Store) Count() int { return len(s.values) }

// Bits returns the packed index width, 0 for a collapsed palette.
func (s *Store) Bits() uint32 { return s.bits }

// Values returns the palette table in first-seen order. Shared, not copied;
// callers upload it as-is and must not mutate it.
func (s *Store) Values() []uint32 { return s.values }

// Words returns the packed index stream, nil for a collapsed palette.
// Shared, not copied.
func (s *Store) Words() []uint32 { return s.words }
