package config

import (
	"fmt"
	"strings"
)

// Precision selects the floating-point width used for the stability-critical
// log/exp computations inside the chunked kernel. It also fixes the minimum
// decay clamp floor: decay factors are implicitly raised to powers up to
// half a chunk length, so floor^(chunk_len/2) must stay representable.
type Precision int

const (
	PrecisionSingle Precision = iota
	PrecisionDouble
)

func (p Precision) String() string {
	switch p {
	case PrecisionSingle:
		return "single"
	case PrecisionDouble:
		return "double"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// MinDecay returns the clamp floor for decay values under this precision.
// single: 0.005 (1.175e-38 ^ (1/16) < 0.00426)
// double: 1e-10 (1.7e-308 ^ (1/16) < 5.8e-20)
func (p Precision) MinDecay() float64 {
	if p == PrecisionDouble {
		return 1e-10
	}
	return 0.005
}

// ParsePrecision maps a flag/config string to a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "single", "fp32", "float32":
		return PrecisionSingle, nil
	case "double", "fp64", "float64":
		return PrecisionDouble, nil
	default:
		return PrecisionSingle, fmt.Errorf("unknown precision %q (want single or double)", s)
	}
}

// Config carries the kernel evaluation settings.
type Config struct {
	// ChunkLen is the chunk length for the parallel engine. Sequence
	// lengths not evenly divisible by it fall back to pure sequential
	// evaluation (chunk length 1).
	ChunkLen int

	Precision Precision
}

func (c Config) Validate() error {
	if c.ChunkLen <= 0 {
		return fmt.Errorf("invalid chunk_len: %d (must be positive)", c.ChunkLen)
	}
	if c.Precision != PrecisionSingle && c.Precision != PrecisionDouble {
		return fmt.Errorf("invalid precision: %d (must be single or double)", int(c.Precision))
	}
	return nil
}

// Default returns the recommended settings. 32 is a good chunk length:
// longer uses too much scratch memory, shorter loses parallel efficiency.
func Default() Config {
	return Config{
		ChunkLen:  32,
		Precision: PrecisionSingle,
	}
}
