package tensor

import (
	"math/rand"
	"testing"
)

func TestNewZeroFilled(t *testing.T) {
	x := New(2, 3, 4, 5)
	if x.Numel() != 120 {
		t.Fatalf("expected 120 elements, got %d", x.Numel())
	}
	for i, v := range x.Data() {
		if v != 0 {
			t.Fatalf("element %d not zero: %v", i, v)
		}
	}
}

func TestAtSetRoundTrip(t *testing.T) {
	x := New(2, 2, 3, 3)
	x.Set(1.5, 1, 0, 2, 1)
	if got := x.At(1, 0, 2, 1); got != 1.5 {
		t.Errorf("At = %v, want 1.5", got)
	}
	if got := x.At(0, 1, 2, 1); got != 0 {
		t.Errorf("neighbor disturbed: %v", got)
	}
}

func TestRowMajorLayout(t *testing.T) {
	x := New(1, 2, 2, 2)
	x.Set(7, 0, 1, 0, 1)
	// ((0*2+1)*2+0)*2 + 1 = 5
	if x.Data()[5] != 7 {
		t.Errorf("expected flat index 5, data = %v", x.Data())
	}
}

func TestFromSliceCopies(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	x := FromSlice(src, 1, 1, 2, 2)
	src[0] = 99
	if x.At(0, 0, 0, 0) != 1 {
		t.Error("FromSlice must copy the input slice")
	}
}

func TestFromSliceLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on length mismatch")
		}
	}()
	FromSlice([]float32{1, 2, 3}, 1, 1, 2, 2)
}

func TestIndexOutOfBoundsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on out-of-bounds index")
		}
	}()
	New(1, 1, 2, 2).At(0, 0, 2, 0)
}

func TestClone(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := Rand(rng, 2, 2, 2, 2)
	y := x.Clone()
	if !SameShape(x, y) {
		t.Fatal("clone shape mismatch")
	}
	y.Set(42, 0, 0, 0, 0)
	if x.At(0, 0, 0, 0) == 42 {
		t.Error("clone shares storage with original")
	}
}

func TestMaxAbsDiff(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	b := FromSlice([]float32{1, 2.5, 3, 3}, 1, 1, 2, 2)
	if got := MaxAbsDiff(a, b); got != 1 {
		t.Errorf("MaxAbsDiff = %v, want 1", got)
	}
	if got := MaxAbsDiff(a, a.Clone()); got != 0 {
		t.Errorf("MaxAbsDiff(self) = %v, want 0", got)
	}
}

func TestFullAndRandDeterminism(t *testing.T) {
	f := Full(0.9, 1, 1, 4, 2)
	for _, v := range f.Data() {
		if v != 0.9 {
			t.Fatalf("Full element = %v", v)
		}
	}

	a := Rand(rand.New(rand.NewSource(7)), 1, 1, 4, 4)
	b := Rand(rand.New(rand.NewSource(7)), 1, 1, 4, 4)
	if MaxAbsDiff(a, b) != 0 {
		t.Error("Rand with equal seeds must match")
	}
}
