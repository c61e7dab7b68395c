package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
	"github.com/23skdu/longbow-bodkin/internal/wkv"
)

var (
	batch     = flag.Int("batch", 1, "batch size")
	heads     = flag.Int("heads", 8, "head count")
	seqLen    = flag.Int("seq", 1024, "sequence length")
	keyDim    = flag.Int("keydim", 64, "key dim per head")
	valDim    = flag.Int("valdim", 64, "value dim per head")
	chunkLens = flag.String("chunks", "1,16,32,64", "comma-separated chunk lengths")
	iters     = flag.Int("iters", 5, "iterations per configuration")
	precision = flag.String("precision", "single", "precision mode (single or double)")
)

func main() {
	flag.Parse()

	prec, err := config.ParsePrecision(*precision)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(1))
	r := tensor.Rand(rng, *batch, *heads, *seqLen, *keyDim)
	k := tensor.Rand(rng, *batch, *heads, *seqLen, *keyDim)
	v := tensor.Rand(rng, *batch, *heads, *seqLen, *valDim)
	w := tensor.New(*batch, *heads, *seqLen, *keyDim)
	for i, wd := 0, w.Data(); i < len(wd); i++ {
		wd[i] = 0.05 + 0.9*rng.Float32()
	}
	u := tensor.Rand(rng, 1, *heads, 1, *keyDim)
	state := tensor.New(*batch, *heads, *keyDim, *valDim)

	tokens := float64(*batch * *seqLen)
	fmt.Printf("B=%d H=%d L=%d K=%d V=%d precision=%s iters=%d\n",
		*batch, *heads, *seqLen, *keyDim, *valDim, prec, *iters)

	run := func(name string, cfg config.Config, eval func(config.Config) error) {
		best := time.Duration(1<<63 - 1)
		for i := 0; i < *iters; i++ {
			start := time.Now()
			if err := eval(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
				os.Exit(1)
			}
			if d := time.Since(start); d < best {
				best = d
			}
		}
		fmt.Printf("%-16s best %10v  (%.1f tok/s)\n", name, best, tokens/best.Seconds())
	}

	run("recurrent", config.Config{ChunkLen: 1, Precision: prec}, func(cfg config.Config) error {
		_, _, err := wkv.Recurrent(r, k, v, w, u, state, cfg)
		return err
	})

	for _, s := range strings.Split(*chunkLens, ",") {
		T, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || T < 1 {
			fmt.Fprintf(os.Stderr, "bad chunk length %q\n", s)
			os.Exit(2)
		}
		cfg := config.Config{ChunkLen: T, Precision: prec}
		run(fmt.Sprintf("chunked T=%d", T), cfg, func(cfg config.Config) error {
			_, _, err := wkv.Chunked(r, k, v, w, u, state, cfg)
			return err
		})
	}
}
