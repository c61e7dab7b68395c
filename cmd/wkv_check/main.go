package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
	"github.com/23skdu/longbow-bodkin/internal/wkv"
)

var (
	seed      = flag.Int64("seed", 1234, "RNG seed for r/k/v")
	precision = flag.String("precision", "single", "precision mode (single or double)")
	tol       = flag.Float64("tol", 1e-3, "max allowed absolute difference")
)

// Parity check of the two engines on a small fixed scenario:
// B=1, H=1, K=3, V=5, L=4, constant decay 0.9, constant bonus 0.5,
// zero initial state, chunk lengths 2 and 4.
func main() {
	flag.Parse()

	prec, err := config.ParsePrecision(*precision)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(*seed))
	r := tensor.Rand(rng, 1, 1, 4, 3)
	k := tensor.Rand(rng, 1, 1, 4, 3)
	v := tensor.Rand(rng, 1, 1, 4, 5)
	w := tensor.Full(0.9, 1, 1, 4, 3)
	u := tensor.Full(0.5, 1, 1, 1, 3)
	state := tensor.New(1, 1, 3, 5)

	cfg2 := config.Config{ChunkLen: 2, Precision: prec}
	cfg4 := config.Config{ChunkLen: 4, Precision: prec}

	refOut, refState, err := wkv.Recurrent(r, k, v, w, u, state, cfg2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recurrent: %v\n", err)
		os.Exit(1)
	}
	out2, state2, err := wkv.Chunked(r, k, v, w, u, state, cfg2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunked T=2: %v\n", err)
		os.Exit(1)
	}
	out4, state4, err := wkv.Chunked(r, k, v, w, u, state, cfg4)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chunked T=4: %v\n", err)
		os.Exit(1)
	}

	ok := true
	check := func(name string, a, b *tensor.Tensor) {
		diff := float64(tensor.MaxAbsDiff(a, b))
		status := "OK"
		if diff > *tol {
			status = "FAIL"
			ok = false
		}
		fmt.Printf("%-28s max diff %.3e  %s\n", name, diff, status)
	}

	check("recurrent vs chunked T=2", refOut, out2)
	check("state     vs chunked T=2", refState, state2)
	check("chunked T=2 vs T=4", out2, out4)
	check("state   T=2 vs T=4", state2, state4)

	if !ok {
		os.Exit(1)
	}
}
