// Package wkv computes the decayed linear-attention recurrence used by
// RWKV-style time mixing: a per-channel key/value accumulator with
// multiplicative forget gates, queried by a receptance vector each timestep.
//
// Two engines share one contract:
//
//   - Recurrent: one timestep at a time, the correctness oracle.
//   - Chunked: block-parallel evaluation with log-space decay accumulation,
//     numerically matching Recurrent within float tolerance.
//
// Tensor shapes (B batch, H heads, L timesteps, K key dim, V value dim):
//
//	r:     [B,H,L,K]  receptance (query)
//	k:     [B,H,L,K]  key
//	v:     [B,H,L,V]  value
//	w:     [B,H,L,K] or [1,H,L,K]  per-channel decay in (0,1)
//	u:     [1,H,1,K]  current-step bonus weight, applied without decay
//	state: [B,H,K,V]  running kv accumulator, carried across calls
//
// Both engines return (out [B,H,L,V], next state [B,H,K,V]) as freshly
// allocated buffers; caller inputs are never written.
package wkv

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// dims holds the validated problem sizes for one call.
type dims struct {
	B, H, L, K, V int

	// wBcast is true when w has batch dim 1 but B > 1.
	wBcast bool
}

// validateInputs checks every operand's rank-4 shape against the package
// contract. Violations are caller misuse: reported immediately, never
// retried, and counted per operation in the validation-error metric.
func validateInputs(op string, r, k, v, w, u, state *tensor.Tensor) (dims, error) {
	fail := func(errType string, format string, args ...interface{}) (dims, error) {
		metrics.RecordValidationError(op, errType)
		return dims{}, fmt.Errorf(format, args...)
	}

	B, H, L, K := r.Dims()

	kB, kH, kL, kK := k.Dims()
	if kB != B || kH != H || kL != L {
		return fail("key_shape", "key shape [%d,%d,%d,%d] does not match receptance [%d,%d,%d,%d]", kB, kH, kL, kK, B, H, L, K)
	}
	if kK != K {
		return fail("key_dim_mismatch", "key dim mismatch: r has %d, k has %d", K, kK)
	}

	vB, vH, vL, V := v.Dims()
	if vB != B || vH != H || vL != L {
		return fail("value_shape", "value shape [%d,%d,%d,%d] does not match receptance batch/heads/len [%d,%d,%d]", vB, vH, vL, V, B, H, L)
	}

	wB, wH, wL, wK := w.Dims()
	if wB != B && wB != 1 {
		return fail("decay_batch", "decay batch %d must be %d or 1", wB, B)
	}
	if wH != H || wL != L || wK != K {
		return fail("decay_shape", "decay shape [%d,%d,%d,%d] does not match [%d|1,%d,%d,%d]", wB, wH, wL, wK, B, H, L, K)
	}

	uB, uH, uL, uK := u.Dims()
	if uB != 1 || uH != H || uL != 1 || uK != K {
		return fail("bonus_shape", "bonus shape [%d,%d,%d,%d] must be [1,%d,1,%d]", uB, uH, uL, uK, H, K)
	}

	sB, sH, sK, sV := state.Dims()
	if sB != B || sH != H || sK != K || sV != V {
		return fail("state_shape", "state shape [%d,%d,%d,%d] must be [%d,%d,%d,%d]", sB, sH, sK, sV, B, H, K, V)
	}

	return dims{B: B, H: H, L: L, K: K, V: V, wBcast: wB == 1 && B > 1}, nil
}
