package wkv

import (
	"math"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Chunked evaluates the same recurrence as Recurrent in parallel blocks:
// the sequence is split into L/T chunks of cfg.ChunkLen timesteps,
// intra-chunk contributions are computed as block-triangular attention,
// and only a short scan of length L/T carries the state between chunks.
//
// Decay products over a chunk are accumulated in log space after clamping
// each factor to cfg.Precision.MinDecay(), so the exponentials stay inside
// floating-point range even for decay raised to high powers. Intra-chunk
// attention is split into two half-chunk sub-blocks with the decay rebased
// at each sub-block midpoint before exponentiating, plus an explicit
// correction term for second-half queries attending to first-half keys.
//
// Falls back to pure sequential evaluation (chunk length 1) when L is not
// an exact multiple of the chunk length, or when the chunk length is odd;
// the result is identical, only slower. L == 1 short-circuits to the
// single-step formula with no chunking machinery at all.
func Chunked(r, k, v, w, u, state *tensor.Tensor, cfg config.Config) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	d, err := validateInputs("chunked", r, k, v, w, u, state)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	out := tensor.New(d.B, d.H, d.L, d.V)
	next := state.Clone()
	floor := cfg.Precision.MinDecay()

	var clamped int
	T := cfg.ChunkLen
	switch {
	case d.L == 1:
		clamped = recurrentCore(r.Data(), k.Data(), v.Data(), w.Data(), u.Data(),
			out.Data(), next.Data(), d, floor)
	case T == 1 || T%2 != 0 || d.L%T != 0:
		if T != 1 {
			metrics.RecordChunkFallback()
			logger.Log.Debug("chunked: sequential fallback",
				"seq_len", d.L, "chunk_len", T)
		}
		clamped = recurrentCore(r.Data(), k.Data(), v.Data(), w.Data(), u.Data(),
			out.Data(), next.Data(), d, floor)
	default:
		clamped = chunkedCore(r.Data(), k.Data(), v.Data(), w.Data(), u.Data(),
			out.Data(), next.Data(), d, T, floor, cfg.Precision)
	}

	metrics.RecordDecayClamps(clamped)
	metrics.RecordSequenceLength(d.L)
	metrics.RecordKernel("chunked", start)
	return out, next, nil
}

// chunkedCore runs the five-stage chunked pipeline over flat buffers.
// Preconditions: L > 1, T even, T divides L. sd is updated in place to the
// final state; outd is assumed zero-filled. Returns the clamp count.
func chunkedCore(rd, kd, vd, wd, ud, outd, sd []float32, d dims, T int, floor float64, prec config.Precision) int {
	B, H, L, K, V := d.B, d.H, d.L, d.K, d.V
	N := L / T
	half := T / 2
	mid := half / 2
	clamped := 0

	// Exponentials run through float64 regardless; single mode rounds every
	// factor to float32 before it enters a product, pinning both precision
	// modes to their clamp-floor bound.
	round := func(x float64) float64 { return x }
	if prec == config.PrecisionSingle {
		round = func(x float64) float64 { return float64(float32(x)) }
	}

	// Per-chunk scratch, reused across (b,h,n).
	cum := make([]float64, T*K)    // cumulative log decay, inclusive
	offs := make([]float64, 2*K)   // per-half rebased log offset
	wsExp := make([]float64, K)    // full-chunk decay product
	wInter := make([]float64, T*K) // decay from position to chunk end
	wIntra := make([]float64, T*K) // decay from chunk start to position
	rrDec := make([]float64, T*K)  // query-side rebased decay
	kkInv := make([]float64, T*K)  // key-side inverse rebased decay
	kkInvX := make([]float64, half*K)

	// shifted(j,c) is the cumulative log decay up to but excluding row j.
	shifted := func(j, c int) float64 {
		if j == 0 {
			return 0
		}
		return cum[(j-1)*K+c]
	}

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

			for n := 0; n < N; n++ {
				t0 := n * T

				// Stage 1: clamp, log, cumulative-sum along the chunk.
				for j := 0; j < T; j++ {
					row := j * K
					for c := 0; c < K; c++ {
						decay := float64(wd[wOff+(t0+j)*K+c])
						if decay < floor {
							decay = floor
							clamped++
						}
						lw := math.Log(decay)
						if j == 0 {
							cum[row+c] = lw
						} else {
							cum[row+c] = cum[row-K+c] + lw
						}
					}
				}

				// Stage 2: the two decay profiles plus the full-chunk product.
				last := (T - 1) * K
				for c := 0; c < K; c++ {
					wsExp[c] = round(math.Exp(cum[last+c]))
				}
				for j := 0; j < T; j++ {
					row := j * K
					for c := 0; c < K; c++ {
						wInter[row+c] = round(math.Exp(cum[last+c] - cum[row+c]))
						wIntra[row+c] = round(math.Exp(shifted(j, c)))
					}
				}

				// Stage 3: rebased exponentials for the two half-chunk
				// sub-blocks. The offset row sits a quarter chunk into each
				// half, bounding every exponent by half a chunk of log decay.
				for z := 0; z < 2; z++ {
					for c := 0; c < K; c++ {
						offs[z*K+c] = shifted(z*half+mid, c)
					}
					for j := 0; j < half; j++ {
						g := z*half + j
						row := g * K
						for c := 0; c < K; c++ {
							rrDec[row+c] = round(math.Exp(shifted(g, c) - offs[z*K+c]))
							kkInv[row+c] = round(math.Exp(offs[z*K+c] - cum[row+c]))
						}
					}
				}
				for j := 0; j < half; j++ {
					row := j * K
					for c := 0; c < K; c++ {
						kkInvX[row+c] = round(math.Exp(offs[K+c] - cum[row+c]))
					}
				}

				// Stage 4a: block-triangular attention within each half,
				// with the bonus term on the diagonal (no decay).
				for z := 0; z < 2; z++ {
					for i := 0; i < half; i++ {
						gi := z*half + i
						rRow := rkOff + (t0+gi)*K
						oRow := vOff + (t0+gi)*V

						var diag float64
						for c := 0; c < K; c++ {
							diag += float64(rd[rRow+c]) * float64(ud[uOff+c]) * float64(kd[rRow+c])
						}
						df := float32(diag)
						for x := 0; x < V; x++ {
							outd[oRow+x] += df * vd[oRow+x]
						}

						for j := 0; j < i; j++ {
							gj := z*half + j
							kRow := rkOff + (t0+gj)*K
							var aff float64
							for c := 0; c < K; c++ {
								aff += float64(rd[rRow+c]) * rrDec[gi*K+c] *
									float64(kd[kRow+c]) * kkInv[gj*K+c]
							}
							af := float32(aff)
							vjRow := vOff + (t0+gj)*V
							for x := 0; x < V; x++ {
								outd[oRow+x] += af * vd[vjRow+x]
							}
						}
					}
				}

				// Stage 4b: second-half queries against first-half keys,
				// with the key decay rebased to the second half's offset.
				for i := 0; i < half; i++ {
					gi := half + i
					rRow := rkOff + (t0+gi)*K
					oRow := vOff + (t0+gi)*V
					for j := 0; j < half; j++ {
						kRow := rkOff + (t0+j)*K
						var aff float64
						for c := 0; c < K; c++ {
							aff += float64(rd[rRow+c]) * rrDec[gi*K+c] *
								float64(kd[kRow+c]) * kkInvX[j*K+c]
						}
						af := float32(aff)
						vjRow := vOff + (t0+j)*V
						for x := 0; x < V; x++ {
							outd[oRow+x] += af * vd[vjRow+x]
						}
					}
				}

				// Stage 5: apply the chunk's entering state to every
				// position, decayed from the chunk start...
				for j := 0; j < T; j++ {
					rRow := rkOff + (t0+j)*K
					oRow := vOff + (t0+j)*V
					for x := 0; x < V; x++ {
						var acc float64
						for c := 0; c < K; c++ {
							acc += float64(rd[rRow+c]) * wIntra[j*K+c] * float64(sd[sOff+c*V+x])
						}
						outd[oRow+x] += float32(acc)
					}
				}

				// ...then advance the state by one whole chunk:
				// state = state ⊙ ws + (k ⊙ w_inter)^T v.
				for c := 0; c < K; c++ {
					row := sOff + c*V
					for x := 0; x < V; x++ {
						acc := float64(sd[row+x]) * wsExp[c]
						for j := 0; j < T; j++ {
							acc += float64(kd[rkOff+(t0+j)*K+c]) * wInter[j*K+c] *
								float64(vd[vOff+(t0+j)*V+x])
						}
						sd[row+x] = float32(acc)
					}
				}
			}
		}
	}
	return clamped
}
