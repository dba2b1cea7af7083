package palette

import (
	"errors"
	"math/rand"
	"testing"
)

func TestBuildRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []uint32
	}{
		{"two values", []uint32{0, 7, 0, 7, 7, 0}},
		{"sequential", func() []uint32 {
			v := make([]uint32, 64)
			for i := range v {
				v[i] = uint32(i)
			}
			return v
		}()},
		{"sparse field", func() []uint32 {
			v := make([]uint32, 512)
			v[13] = 7
			v[200] = 7
			v[511] = 3
			return v
		}()},
		{"split indices", func() []uint32 {
			// 5 unique values force 3-bit indices, which straddle
			// word boundaries every 32 voxels.
			v := make([]uint32, 512)
			for i := range v {
				v[i] = uint32(i % 5 * 100)
			}
			return v
		}()},
		{"random alphabet 33", func() []uint32 {
			rng := rand.New(rand.NewSource(42))
			v := make([]uint32, 512)
			for i := range v {
				v[i] = uint32(rng.Intn(33))
			}
			return v
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(tt.values)
			if s.Len() != len(tt.values) {
				t.Fatalf("Len() = %d, want %d", s.Len(), len(tt.values))
			}
			for i, want := range tt.values {
				got, err := s.Decode(i)
				if err != nil {
					t.Fatalf("Decode(%d) failed: %v", i, err)
				}
				if got != want {
					t.Errorf("Decode(%d) = %d, want %d", i, got, want)
				}
			}
			all, err := s.DecompressAll()
			if err != nil {
				t.Fatalf("DecompressAll failed: %v", err)
			}
			if len(all) != len(tt.values) {
				t.Fatalf("DecompressAll length = %d, want %d", len(all), len(tt.values))
			}
			for i, want := range tt.values {
				if all[i] != want {
					t.Errorf("DecompressAll[%d] = %d, want %d", i, all[i], want)
				}
			}
		})
	}
}

func TestSingleValueCollapse(t *testing.T) {
	values := make([]uint32, 512)
	for i := range values {
		values[i] = 9
	}

	s := Build(values)
	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", s.Count())
	}
	if s.Words() != nil {
		t.Errorf("expected nil packed data for collapsed palette, got %d words", len(s.Words()))
	}
	if s.Bits() != 0 {
		t.Errorf("Bits() = %d, want 0", s.Bits())
	}
	for _, i := range []int{0, 1, 255, 511} {
		got, err := s.Decode(i)
		if err != nil {
			t.Fatalf("Decode(%d) failed: %v", i, err)
		}
		if got != 9 {
			t.Errorf("Decode(%d) = %d, want 9", i, got)
		}
	}
}

func TestBitsForBoundaries(t *testing.T) {
	tests := []struct {
		count int
		bits  uint32
	}{
		{0, 0},
		{1, 0}, // collapse, no packed data
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{8, 3},
		{9, 4},
		{16, 4},
		{17, 5},
	}
	for _, tt := range tests {
		if got := BitsFor(tt.count); got != tt.bits {
			t.Errorf("BitsFor(%d) = %d, want %d", tt.count, got, tt.bits)
		}
	}
}

func TestBuildBitsMatchCount(t *testing.T) {
	for _, count := range []int{2, 3, 4, 5, 8, 9, 16, 17} {
		values := make([]uint32, count*3)
		for i := range values {
			values[i] = uint32(i % count)
		}
		s := Build(values)
		if s.Count() != count {
			t.Fatalf("count %d: Count() = %d", count, s.Count())
		}
		if s.Bits() != BitsFor(count) {
			t.Errorf("count %d: Bits() = %d, want %d", count, s.Bits(), BitsFor(count))
		}
	}
}

func TestDecodeIndexOutOfRange(t *testing.T) {
	s := Build([]uint32{1, 2, 3})
	for _, i := range []int{-1, 3, 512} {
		if _, err := s.Decode(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Decode(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestDecodeEmptyPalette(t *testing.T) {
	// Build never produces a populated store with no palette entries, so
	// construct the malformed state directly.
	s := &Store{length: 4}
	if _, err := s.Decode(0); !errors.Is(err, ErrEmptyPalette) {
		t.Errorf("Decode error = %v, want ErrEmptyPalette", err)
	}
}

func TestDecodeCorruptPalette(t *testing.T) {
	// Three entries need 2-bit indices; the packed value 3 addresses past
	// the table.
	s := &Store{
		values: []uint32{10, 20, 30},
		words:  []uint32{3},
		bits:   2,
		length: 1,
	}
	if _, err := s.Decode(0); !errors.Is(err, ErrCorruptPalette) {
		t.Errorf("Decode error = %v, want ErrCorruptPalette", err)
	}
}

func TestDecompressRegion(t *testing.T) {
	values := []uint32{5, 6, 7, 8, 9, 5, 6, 7}
	s := Build(values)

	got, err := s.DecompressRegion(2, 6)
	if err != nil {
		t.Fatalf("DecompressRegion failed: %v", err)
	}
	want := []uint32{7, 8, 9, 5}
	if len(got) != len(want) {
		t.Fatalf("region length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("region[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if _, err := s.DecompressRegion(6, 2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("inverted region error = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := s.DecompressRegion(0, 9); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("overlong region error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestBuildEmpty(t *testing.T) {
	s := Build(nil)
	if s.Len() != 0 || s.Count() != 0 {
		t.Fatalf("empty build: Len=%d Count=%d", s.Len(), s.Count())
	}
	if _, err := s.Decode(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Decode on empty store error = %v, want ErrIndexOutOfRange", err)
	}
	all, err := s.DecompressAll()
	if err != nil {
		t.Fatalf("DecompressAll on empty store failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("DecompressAll length = %d, want 0", len(all))
	}
}
