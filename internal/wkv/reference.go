package wkv

import (
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Recurrent evaluates the recurrence one timestep at a time:
//
//	kv[t]  = k[t]^T v[t]
//	out[t] = r[t] (state + u ⊙ kv[t])
//	state  = w[t] ⊙ state + kv[t]
//
// O(L) sequential steps. This is the ground-truth engine; use it for short
// sequences, single-step streaming and validating Chunked. Only
// cfg.Precision is consulted (for the decay clamp floor); cfg.ChunkLen is
// ignored.
func Recurrent(r, k, v, w, u, state *tensor.Tensor, cfg config.Config) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	d, err := validateInputs("recurrent", r, k, v, w, u, state)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	out := tensor.New(d.B, d.H, d.L, d.V)
	next := state.Clone()

	clamped := recurrentCore(r.Data(), k.Data(), v.Data(), w.Data(), u.Data(),
		out.Data(), next.Data(), d, cfg.Precision.MinDecay())

	metrics.RecordDecayClamps(clamped)
	metrics.RecordSequenceLength(d.L)
	metrics.RecordKernel("recurrent", start)
	return out, next, nil
}

// recurrentCore runs the sequential recurrence over flat buffers, updating
// sd (the state) in place and filling outd. Shared by Recurrent, the L==1
// fast path of Chunked, and the non-divisible-chunk fallback. Returns the
// number of decay values clamped to floor.
func recurrentCore(rd, kd, vd, wd, ud, outd, sd []float32, d dims, floor float64) int {
	B, H, L, K, V := d.B, d.H, d.L, d.K, d.V
	clamped := 0

	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			rkOff := ((b*H + h) * L) * K
			vOff := ((b*H + h) * L) * V
			wOff := rkOff
			if d.wBcast {
				wOff = (h * L) * K
			}
			uOff := h * K
			sOff := ((b*H + h) * K) * V

			for t := 0; t < L; t++ {
				rRow := rkOff + t*K
				vRow := vOff + t*V

				// r[t]·(u ⊙ k[t]) scales v[t]; the outer product kv[t]
				// never needs materializing.
				var bonus float64
				for c := 0; c < K; c++ {
					bonus += float64(rd[rRow+c]) * float64(ud[uOff+c]) * float64(kd[rRow+c])
				}

				for x := 0; x < V; x++ {
					acc := bonus * float64(vd[vRow+x])
					for c := 0; c < K; c++ {
						acc += float64(rd[rRow+c]) * float64(sd[sOff+c*V+x])
					}
					outd[vRow+x] = float32(acc)
				}

				for c := 0; c < K; c++ {
					decay := float64(wd[wOff+t*K+c])
					if decay < floor {
						decay = floor
						clamped++
					}
					kc := float64(kd[rRow+c])
					row := sOff + c*V
					for x := 0; x < V; x++ {
						sd[row+x] = float32(decay*float64(sd[row+x]) + kc*float64(vd[vRow+x]))
					}
				}
			}
		}
	}
	return clamped
}
