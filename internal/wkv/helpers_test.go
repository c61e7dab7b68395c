package wkv

import (
	"math/rand"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func newRng(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// randomInputs builds a full set of kernel operands with decay in (0,1).
func randomInputs(rng *rand.Rand, B, H, L, K, V int) (r, k, v, w, u, state *tensor.Tensor) {
	r = tensor.Rand(rng, B, H, L, K)
	k = tensor.Rand(rng, B, H, L, K)
	v = tensor.Rand(rng, B, H, L, V)
	w = tensor.New(B, H, L, K)
	for i, wd := 0, w.Data(); i < len(wd); i++ {
		wd[i] = 0.01 + 0.98*rng.Float32()
	}
	u = tensor.Rand(rng, 1, H, 1, K)
	state = tensor.New(B, H, K, V)
	return
}

// splitTime cuts t into [.., :at, ..] and [.., at:, ..] along the time axis.
func splitTime(t *tensor.Tensor, at int) (*tensor.Tensor, *tensor.Tensor) {
	B, H, L, D := t.Dims()
	a := tensor.New(B, H, at, D)
	b := tensor.New(B, H, L-at, D)
	for i := 0; i < B; i++ {
		for j := 0; j < H; j++ {
			for l := 0; l < L; l++ {
				for d := 0; d < D; d++ {
					if l < at {
						a.Set(t.At(i, j, l, d), i, j, l, d)
					} else {
						b.Set(t.At(i, j, l, d), i, j, l-at, d)
					}
				}
			}
		}
	}
	return a, b
}

// concatTime joins two tensors along the time axis.
func concatTime(a, b *tensor.Tensor) *tensor.Tensor {
	B, H, La, D := a.Dims()
	_, _, Lb, _ := b.Dims()
	out := tensor.New(B, H, La+Lb, D)
	for i := 0; i < B; i++ {
		for j := 0; j < H; j++ {
			for l := 0; l < La; l++ {
				for d := 0; d < D; d++ {
					out.Set(a.At(i, j, l, d), i, j, l, d)
				}
			}
			for l := 0; l < Lb; l++ {
				for d := 0; d < D; d++ {
					out.Set(b.At(i, j, l, d), i, j, La+l, d)
				}
			}
		}
	}
	return out
}
