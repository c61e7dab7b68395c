package wkv

import (
	"math"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func singleCfg() config.Config {
	return config.Config{ChunkLen: 32, Precision: config.PrecisionSingle}
}

func TestRecurrentSingleStepHandComputed(t *testing.T) {
	// K=2, V=1, zero state:
	// kv = k^T v = [15, 20]
	// out = r · (u ⊙ kv) = 1*0.1*15 + 2*0.2*20 = 9.5
	// state' = kv
	r := tensor.FromSlice([]float32{1, 2}, 1, 1, 1, 2)
	k := tensor.FromSlice([]float32{3, 4}, 1, 1, 1, 2)
	v := tensor.FromSlice([]float32{5}, 1, 1, 1, 1)
	w := tensor.FromSlice([]float32{0.5, 0.5}, 1, 1, 1, 2)
	u := tensor.FromSlice([]float32{0.1, 0.2}, 1, 1, 1, 2)
	state := tensor.New(1, 1, 2, 1)

	out, next, err := Recurrent(r, k, v, w, u, state, singleCfg())
	if err != nil {
		t.Fatalf("Recurrent: %v", err)
	}

	if got := out.At(0, 0, 0, 0); math.Abs(float64(got)-9.5) > 1e-5 {
		t.Errorf("out = %v, want 9.5", got)
	}
	if got := next.At(0, 0, 0, 0); got != 15 {
		t.Errorf("state[0] = %v, want 15", got)
	}
	if got := next.At(0, 0, 1, 0); got != 20 {
		t.Errorf("state[1] = %v, want 20", got)
	}
}

func TestRecurrentSingleStepWithHistory(t *testing.T) {
	// Same inputs as above but entering state [1, 2]:
	// out = r·state + bonus = (1*1 + 2*2) + 9.5 = 14.5
	// state' = w ⊙ state + kv = [15.5, 21]
	r := tensor.FromSlice([]float32{1, 2}, 1, 1, 1, 2)
	k := tensor.FromSlice([]float32{3, 4}, 1, 1, 1, 2)
	v := tensor.FromSlice([]float32{5}, 1, 1, 1, 1)
	w := tensor.FromSlice([]float32{0.5, 0.5}, 1, 1, 1, 2)
	u := tensor.FromSlice([]float32{0.1, 0.2}, 1, 1, 1, 2)
	state := tensor.FromSlice([]float32{1, 2}, 1, 1, 2, 1)

	out, next, err := Recurrent(r, k, v, w, u, state, singleCfg())
	if err != nil {
		t.Fatalf("Recurrent: %v", err)
	}

	if got := out.At(0, 0, 0, 0); math.Abs(float64(got)-14.5) > 1e-5 {
		t.Errorf("out = %v, want 14.5", got)
	}
	if got := next.At(0, 0, 0, 0); math.Abs(float64(got)-15.5) > 1e-5 {
		t.Errorf("state[0] = %v, want 15.5", got)
	}
	if got := next.At(0, 0, 1, 0); math.Abs(float64(got)-21) > 1e-5 {
		t.Errorf("state[1] = %v, want 21", got)
	}
}

func TestRecurrentDecayShrinksHistory(t *testing.T) {
	// Two identical steps with zero key: the state must decay by w each
	// step and the output must track the shrinking history.
	r := tensor.Full(1, 1, 1, 2, 1)
	k := tensor.New(1, 1, 2, 1)
	v := tensor.New(1, 1, 2, 1)
	w := tensor.Full(0.5, 1, 1, 2, 1)
	u := tensor.Full(0.25, 1, 1, 1, 1)
	state := tensor.FromSlice([]float32{8}, 1, 1, 1, 1)

	out, next, err := Recurrent(r, k, v, w, u, state, singleCfg())
	if err != nil {
		t.Fatalf("Recurrent: %v", err)
	}

	if got := out.At(0, 0, 0, 0); got != 8 {
		t.Errorf("out[0] = %v, want 8", got)
	}
	if got := out.At(0, 0, 1, 0); got != 4 {
		t.Errorf("out[1] = %v, want 4", got)
	}
	if got := next.At(0, 0, 0, 0); got != 2 {
		t.Errorf("final state = %v, want 2", got)
	}
}

func TestRecurrentStreamingComposition(t *testing.T) {
	rng := newRng(11)
	r, k, v, w, u, state := randomInputs(rng, 2, 2, 6, 4, 3)
	cfg := singleCfg()

	fullOut, fullState, err := Recurrent(r, k, v, w, u, state, cfg)
	if err != nil {
		t.Fatalf("full: %v", err)
	}

	r1, r2 := splitTime(r, 4)
	k1, k2 := splitTime(k, 4)
	v1, v2 := splitTime(v, 4)
	w1, w2 := splitTime(w, 4)

	out1, mid, err := Recurrent(r1, k1, v1, w1, u, state, cfg)
	if err != nil {
		t.Fatalf("segment 1: %v", err)
	}
	out2, endState, err := Recurrent(r2, k2, v2, w2, u, mid, cfg)
	if err != nil {
		t.Fatalf("segment 2: %v", err)
	}

	joined := concatTime(out1, out2)
	if diff := tensor.MaxAbsDiff(fullOut, joined); diff > 1e-4 {
		t.Errorf("segmented output diverges: max diff %v", diff)
	}
	if diff := tensor.MaxAbsDiff(fullState, endState); diff > 1e-4 {
		t.Errorf("segmented final state diverges: max diff %v", diff)
	}
}

func TestRecurrentDoesNotMutateInputs(t *testing.T) {
	rng := newRng(3)
	r, k, v, w, u, state := randomInputs(rng, 1, 2, 4, 3, 3)

	snap := []*tensor.Tensor{r.Clone(), k.Clone(), v.Clone(), w.Clone(), u.Clone(), state.Clone()}
	if _, _, err := Recurrent(r, k, v, w, u, state, singleCfg()); err != nil {
		t.Fatalf("Recurrent: %v", err)
	}

	for i, pair := range [][2]*tensor.Tensor{{r, snap[0]}, {k, snap[1]}, {v, snap[2]}, {w, snap[3]}, {u, snap[4]}, {state, snap[5]}} {
		if tensor.MaxAbsDiff(pair[0], pair[1]) != 0 {
			t.Errorf("input %d was mutated", i)
		}
	}
}

func TestValidationRejectsBadShapes(t *testing.T) {
	cfg := singleCfg()
	r := tensor.New(1, 2, 4, 4)
	k := tensor.New(1, 2, 4, 4)
	v := tensor.New(1, 2, 4, 3)
	w := tensor.New(1, 2, 4, 4)
	u := tensor.New(1, 2, 1, 4)
	state := tensor.New(1, 2, 4, 3)

	tests := []struct {
		name             string
		r, k, v, w, u, s *tensor.Tensor
	}{
		{"key dim mismatch", r, tensor.New(1, 2, 4, 3), v, w, u, state},
		{"key head mismatch", r, tensor.New(1, 1, 4, 4), v, w, u, state},
		{"value len mismatch", r, k, tensor.New(1, 2, 5, 3), w, u, state},
		{"decay batch mismatch", r, k, v, tensor.New(2, 2, 4, 4), u, state},
		{"decay key dim mismatch", r, k, v, tensor.New(1, 2, 4, 3), u, state},
		{"bonus shape", r, k, v, w, tensor.New(1, 2, 2, 4), state},
		{"state shape", r, k, v, w, u, tensor.New(1, 2, 3, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Recurrent(tt.r, tt.k, tt.v, tt.w, tt.u, tt.s, cfg); err == nil {
				t.Error("expected shape error from Recurrent")
			}
			if _, _, err := Chunked(tt.r, tt.k, tt.v, tt.w, tt.u, tt.s, cfg); err == nil {
				t.Error("expected shape error from Chunked")
			}
		})
	}

	t.Run("bad chunk len", func(t *testing.T) {
		bad := config.Config{ChunkLen: 0, Precision: config.PrecisionSingle}
		if _, _, err := Chunked(r, k, v, w, u, state, bad); err == nil {
			t.Error("expected config error")
		}
	})
}
