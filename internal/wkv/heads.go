package wkv

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// ExpandKVHeads replicates grouped key/value heads until the head count
// matches the query head count, as a preprocessing step before invoking an
// engine. Each of the kvHeads source heads is repeated heads/kvHeads times
// in place, keeping replicas of one source head adjacent. Works for any
// [B,KVH,X,D] tensor, so it applies to k, v, w and u alike.
//
// When the counts already match the input is returned untouched.
func ExpandKVHeads(t *tensor.Tensor, heads int) (*tensor.Tensor, error) {
	B, kvHeads, X, D := t.Dims()
	if heads <= 0 {
		return nil, fmt.Errorf("invalid heads: %d (must be positive)", heads)
	}
	if heads == kvHeads {
		return t, nil
	}
	if heads%kvHeads != 0 {
		return nil, fmt.Errorf("heads %d not divisible by kv heads %d", heads, kvHeads)
	}
	reps := heads / kvHeads

	src := t.Data()
	out := tensor.New(B, heads, X, D)
	dst := out.Data()
	headLen := X * D

	for b := 0; b < B; b++ {
		for kvh := 0; kvh < kvHeads; kvh++ {
			from := (b*kvHeads + kvh) * headLen
			for rep := 0; rep < reps; rep++ {
				to := (b*heads + kvh*reps + rep) * headLen
				copy(dst[to:to+headLen], src[from:from+headLen])
			}
		}
	}
	return out, nil
}
