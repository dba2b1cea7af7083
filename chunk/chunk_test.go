package chunk

import (
	"errors"
	"testing"
)

func TestNewValidatesSize(t *testing.T) {
	for _, size := range []int{0, -1, 257} {
		if _, err := New(size); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("New(%d) error = %v, want ErrInvalidSize", size, err)
		}
	}

	c, err := New(8)
	if err != nil {
		t.Fatalf("New(8) failed: %v", err)
	}
	if c.Size() != 8 || c.Volume() != 512 {
		t.Errorf("Size() = %d, Volume() = %d, want 8, 512", c.Size(), c.Volume())
	}
}

func TestIndexOrder(t *testing.T) {
	c, _ := New(8)

	// x is the fastest axis, z the slowest.
	tests := []struct {
		x, y, z int
		want    int
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{0, 1, 0, 8},
		{0, 0, 1, 64},
		{7, 7, 7, 511},
		{3, 2, 1, 3 + 16 + 64},
	}
	for _, tt := range tests {
		if got := c.Index(tt.x, tt.y, tt.z); got != tt.want {
			t.Errorf("Index(%d,%d,%d) = %d, want %d", tt.x, tt.y, tt.z, got, tt.want)
		}
	}
}

func TestAtOutOfBoundsIsAir(t *testing.T) {
	c, _ := New(8)
	c.Fill(5)

	for _, p := range [][3]int{{-1, 0, 0}, {8, 0, 0}, {0, -1, 0}, {0, 8, 0}, {0, 0, -1}, {0, 0, 8}} {
		if got := c.At(p[0], p[1], p[2]); got != Air {
			t.Errorf("At(%v) = %d, want Air", p, got)
		}
	}
}

func TestSetDirtiesChunk(t *testing.T) {
	c, _ := New(8)
	if err := c.AdvanceState(StateCounting); err != nil {
		t.Fatalf("AdvanceState failed: %v", err)
	}

	rev := c.Revision()
	c.Set(3, 3, 3, 7)

	if c.State() != StateDirty {
		t.Errorf("state after Set = %s, want dirty", c.State())
	}
	if c.Revision() != rev+1 {
		t.Errorf("revision after Set = %d, want %d", c.Revision(), rev+1)
	}
	if got := c.At(3, 3, 3); got != 7 {
		t.Errorf("At(3,3,3) = %d, want 7", got)
	}

	// Out-of-bounds writes are ignored and do not dirty anything.
	c.AdvanceState(StateCounting)
	rev = c.Revision()
	c.Set(8, 0, 0, 9)
	if c.State() != StateCounting || c.Revision() != rev {
		t.Error("out-of-bounds Set mutated chunk state")
	}
}

func TestStateMachine(t *testing.T) {
	c, _ := New(8)

	// The full forward walk is legal.
	for _, s := range []MeshState{StateCounting, StateGenerating, StateValid} {
		if err := c.AdvanceState(s); err != nil {
			t.Fatalf("AdvanceState(%s) failed: %v", s, err)
		}
	}
	if c.State() != StateValid {
		t.Fatalf("state = %s, want valid", c.State())
	}

	// Returning to dirty is always legal.
	if err := c.AdvanceState(StateDirty); err != nil {
		t.Fatalf("AdvanceState(dirty) failed: %v", err)
	}

	// Skipping a phase is not.
	if err := c.AdvanceState(StateGenerating); !errors.Is(err, ErrBadTransition) {
		t.Errorf("dirty -> generating error = %v, want ErrBadTransition", err)
	}
	if err := c.AdvanceState(StateValid); !errors.Is(err, ErrBadTransition) {
		t.Errorf("dirty -> valid error = %v, want ErrBadTransition", err)
	}
}

func TestMeshStateString(t *testing.T) {
	tests := []struct {
		state MeshState
		want  string
	}{
		{StateDirty, "dirty"},
		{StateCounting, "counting"},
		{StateGenerating, "generating"},
		{StateValid, "valid"},
		{MeshState(99), "MeshState(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint32(tt.state), got, tt.want)
		}
	}
}
