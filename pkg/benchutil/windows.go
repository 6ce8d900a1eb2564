// Package benchutil provides synthetic tile window generation for benchmarks
// and testing.
package benchutil

import (
	"fmt"
	"math/rand"

	"github.com/arraydb/tileagg/pkg/aggregate"
)

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// Standard benchmark sizes for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger sizes for comprehensive scaling tests.
// Used with TILEAGG_LONG_BENCH=1 environment variable.
var ScalingSizes = []int{10000, 50000, 100000, 250000, 500000, 1000000}

// BitmapShapes are the standard cell selection patterns for benchmarking.
// Each shape exercises a different path through the aggregation kernels:
//   - none: whole-window aggregation, no selection
//   - boolean_dense: boolean bitmap including ~90% of cells
//   - boolean_sparse: boolean bitmap including ~5% of cells
//   - count_weighted: count bitmap with weights 0-4 per cell
var BitmapShapes = []string{
	"none",
	"boolean_dense",
	"boolean_sparse",
	"count_weighted",
}

// WindowConfig configures synthetic tile window generation.
type WindowConfig struct {
	// Cells is the number of cells in the window.
	Cells int
	// NullFraction is the fraction of cells marked null (0.0-1.0).
	// A validity slice is attached whenever it is above zero.
	NullFraction float64
	// Bitmap selects the cell selection shape, one of BitmapShapes.
	// Empty means "none".
	Bitmap string
	// Seed for reproducible generation. 0 = BenchmarkSeed.
	Seed int64
}

func (cfg WindowConfig) rng() *rand.Rand {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	return rand.New(rand.NewSource(seed))
}

// skeleton builds the window frame shared by all cell types: the cell range,
// validity and the selection bitmap.
func (cfg WindowConfig) skeleton(rng *rand.Rand) *aggregate.Buffer {
	b := &aggregate.Buffer{MinCell: 0, MaxCell: cfg.Cells}

	if cfg.NullFraction > 0 {
		validity := make([]uint8, cfg.Cells)
		for i := range validity {
			if rng.Float64() >= cfg.NullFraction {
				validity[i] = 1
			}
		}
		b.Validity = validity
	}

	switch cfg.Bitmap {
	case "", "none":
	case "boolean_dense":
		b.Bitmap = booleanBitmap(rng, cfg.Cells, 0.90)
	case "boolean_sparse":
		b.Bitmap = booleanBitmap(rng, cfg.Cells, 0.05)
	case "count_weighted":
		weights := make([]uint64, cfg.Cells)
		for i := range weights {
			weights[i] = uint64(rng.Intn(5))
		}
		b.CountBitmap = weights
	default:
		panic(fmt.Sprintf("benchutil: unknown bitmap shape %q", cfg.Bitmap))
	}

	return b
}

func booleanBitmap(rng *rand.Rand, cells int, density float64) []uint8 {
	bitmap := make([]uint8, cells)
	for i := range bitmap {
		if rng.Float64() < density {
			bitmap[i] = 1
		}
	}
	return bitmap
}

// Int64Window returns a window over synthetic int64 cells.
func Int64Window(cfg WindowConfig) *aggregate.Buffer {
	rng := cfg.rng()
	b := cfg.skeleton(rng)

	cells := make([]int64, cfg.Cells)
	for i := range cells {
		cells[i] = rng.Int63n(1_000_000) - 500_000
	}
	b.Fixed = cells
	return b
}

// Float64Window returns a window over synthetic float64 cells.
func Float64Window(cfg WindowConfig) *aggregate.Buffer {
	rng := cfg.rng()
	b := cfg.skeleton(rng)

	cells := make([]float64, cfg.Cells)
	for i := range cells {
		cells[i] = rng.NormFloat64() * 1000
	}
	b.Fixed = cells
	return b
}

// VarStringWindow returns a window over synthetic var-sized string cells with
// lengths in [minLen, maxLen].
func VarStringWindow(cfg WindowConfig, minLen, maxLen int) *aggregate.Buffer {
	rng := cfg.rng()
	b := cfg.skeleton(rng)

	offsets := make([]uint64, cfg.Cells)
	var payload []byte
	for i := range offsets {
		offsets[i] = uint64(len(payload))
		payload = append(payload, randomWord(rng, minLen, maxLen)...)
	}
	b.Fixed = offsets
	b.Var = payload
	return b
}

// FixedStringWindow returns a window over synthetic fixed-width string cells.
func FixedStringWindow(cfg WindowConfig, width int) *aggregate.Buffer {
	rng := cfg.rng()
	b := cfg.skeleton(rng)

	data := make([]byte, 0, cfg.Cells*width)
	for i := 0; i < cfg.Cells; i++ {
		data = append(data, randomWord(rng, width, width)...)
	}
	b.Fixed = data
	return b
}

func randomWord(rng *rand.Rand, minLen, maxLen int) []byte {
	n := minLen
	if maxLen > minLen {
		n += rng.Intn(maxLen - minLen + 1)
	}
	word := make([]byte, n)
	for i := range word {
		word[i] = byte('a' + rng.Intn(26))
	}
	return word
}
