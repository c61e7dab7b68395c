package tensor

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense, row-major rank-4 float32 array. Every buffer the WKV
// kernels touch is rank 4 (receptance/key/value/decay are [B,H,L,D], the
// recurrent state is [B,H,K,V]), so the rank is fixed rather than generic.
type Tensor struct {
	data []float32
	dims [4]int
}

// New allocates a zero-filled tensor with the given dims.
func New(d0, d1, d2, d3 int) *Tensor {
	for _, d := range []int{d0, d1, d2, d3} {
		if d <= 0 {
			panic(fmt.Sprintf("tensor: invalid dim %d (must be positive)", d))
		}
	}
	return &Tensor{
		data: make([]float32, d0*d1*d2*d3),
		dims: [4]int{d0, d1, d2, d3},
	}
}

// FromSlice wraps a copy of data in a tensor of the given dims.
func FromSlice(data []float32, d0, d1, d2, d3 int) *Tensor {
	t := New(d0, d1, d2, d3)
	if len(data) != len(t.data) {
		panic(fmt.Sprintf("tensor: data length %d != %dx%dx%dx%d", len(data), d0, d1, d2, d3))
	}
	copy(t.data, data)
	return t
}

// Full allocates a tensor with every element set to val.
func Full(val float32, d0, d1, d2, d3 int) *Tensor {
	t := New(d0, d1, d2, d3)
	for i := range t.data {
		t.data[i] = val
	}
	return t
}

// Rand fills a new tensor with uniform values in [0,1) from rng.
// Deterministic for a seeded rng, which the parity tests rely on.
func Rand(rng *rand.Rand, d0, d1, d2, d3 int) *Tensor {
	t := New(d0, d1, d2, d3)
	for i := range t.data {
		t.data[i] = rng.Float32()
	}
	return t
}

// Dims returns the four dimensions.
func (t *Tensor) Dims() (int, int, int, int) {
	return t.dims[0], t.dims[1], t.dims[2], t.dims[3]
}

// Numel returns the total element count.
func (t *Tensor) Numel() int {
	return len(t.data)
}

// Data returns the underlying buffer. Callers must not assume it is a copy;
// kernels read through it directly and write only to buffers they allocated.
func (t *Tensor) Data() []float32 {
	return t.data
}

// At returns the element at (i,j,k,l).
func (t *Tensor) At(i, j, k, l int) float32 {
	return t.data[t.index(i, j, k, l)]
}

// Set writes the element at (i,j,k,l).
func (t *Tensor) Set(val float32, i, j, k, l int) {
	t.data[t.index(i, j, k, l)] = val
}

func (t *Tensor) index(i, j, k, l int) int {
	if i < 0 || i >= t.dims[0] || j < 0 || j >= t.dims[1] || k < 0 || k >= t.dims[2] || l < 0 || l >= t.dims[3] {
		panic(fmt.Sprintf("tensor: index (%d,%d,%d,%d) out of bounds for dims %v", i, j, k, l, t.dims))
	}
	return ((i*t.dims[1]+j)*t.dims[2]+k)*t.dims[3] + l
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		data: make([]float32, len(t.data)),
		dims: t.dims,
	}
	copy(c.data, t.data)
	return c
}

// SameShape reports whether a and b have identical dims.
func SameShape(a, b *Tensor) bool {
	return a.dims == b.dims
}

// MaxAbsDiff returns the largest absolute elementwise difference between
// two same-shaped tensors. Used by parity checks and tests.
func MaxAbsDiff(a, b *Tensor) float32 {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("tensor: shape mismatch %v vs %v", a.dims, b.dims))
	}
	var max float32
	for i := range a.data {
		d := a.data[i] - b.data[i]
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}
