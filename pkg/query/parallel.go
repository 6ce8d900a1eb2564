package query

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arraydb/tileagg/internal/logctx"
	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/membudget"
)

// Tile is one unit of work for the read-step driver: a window of decoded
// cells, optionally paired with whole-tile statistics.
type Tile struct {
	// Buffer is the decoded cell window.
	Buffer *aggregate.Buffer

	// Metadata, when non-nil and Buffer carries no bitmap, lets the
	// driver take the whole-tile statistics path instead of scanning.
	Metadata *aggregate.TileMetadata

	// SizeBytes is the decoded size reserved against the memory budget by
	// the tile producer; the driver releases it once the tile is consumed.
	SizeBytes uint64
}

// RunConfig configures one read step.
type RunConfig struct {
	// Workers is the number of goroutines consuming tiles.
	// Default: NumCPU.
	Workers int

	// Budget, if non-nil, receives a Release(SizeBytes) for every
	// consumed tile. The tile producer is expected to Reserve.
	Budget *membudget.Budget
}

// RunResult contains metrics for one completed read step.
type RunResult struct {
	TilesProcessed int64
	FastPathTiles  int64
	CellsProcessed int64
	Elapsed        time.Duration
}

// Run executes one read step: it validates every bound destination, seals
// the channel, folds all tiles from the source channel into the bound
// aggregators with Workers goroutines, and materializes the results.
//
// Tile producers signal completion by closing the tiles channel. A
// var-length result that no longer fits its destination after a sibling
// result was committed surfaces aggregate.ErrRecomputeNotSupported and
// aborts the step.
func Run(ctx context.Context, ch *Channel, buffers map[string]*aggregate.QueryBuffer, tiles <-chan Tile, cfg RunConfig) (*RunResult, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	log := logctx.FromContext(ctx).With().
		Str("phase", "aggregate").
		Str("channel", ch.Name()).
		Logger()

	fields := ch.OutputFields()
	for _, name := range fields {
		agg, _ := ch.Aggregate(name)
		if err := agg.ValidateOutputBuffer(name, buffers); err != nil {
			return nil, fmt.Errorf("validate output %q: %w", name, err)
		}
	}
	ch.Seal()

	log.Debug().
		Int("aggregates", len(fields)).
		Int("workers", workers).
		Msg("read step starting")

	start := time.Now()
	var tilesProcessed, fastPathTiles, cellsProcessed atomic.Int64

	var wg sync.WaitGroup
	errOnce := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tiles {
				err := aggregateTile(ch, fields, tile, &fastPathTiles)
				if cfg.Budget != nil {
					cfg.Budget.Release(tile.SizeBytes)
				}
				if err != nil {
					select {
					case errOnce <- err:
					default:
					}
					continue
				}
				tilesProcessed.Add(1)
				cellsProcessed.Add(int64(tile.Buffer.MaxCell - tile.Buffer.MinCell))

				select {
				case <-ctx.Done():
					// Stop consuming; the producer is expected to stop
					// producing on the same cancellation.
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errOnce:
		return nil, fmt.Errorf("aggregate tiles: %w", err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := copyResults(ch, fields, buffers); err != nil {
		return nil, err
	}

	result := &RunResult{
		TilesProcessed: tilesProcessed.Load(),
		FastPathTiles:  fastPathTiles.Load(),
		CellsProcessed: cellsProcessed.Load(),
		Elapsed:        time.Since(start),
	}
	log.Info().
		Int64("tiles", result.TilesProcessed).
		Int64("fast_path_tiles", result.FastPathTiles).
		Int64("cells", result.CellsProcessed).
		Dur("elapsed", result.Elapsed).
		Msg("read step done")
	return result, nil
}

// aggregateTile folds one tile into every aggregator of the channel.
func aggregateTile(ch *Channel, fields []string, tile Tile, fastPath *atomic.Int64) error {
	useMetadata := tile.Metadata != nil && !tile.Buffer.HasBitmap()
	if useMetadata {
		fastPath.Add(1)
	}
	for _, name := range fields {
		agg, _ := ch.Aggregate(name)
		if useMetadata {
			agg.AggregateTileMetadata(*tile.Metadata)
			continue
		}
		if err := agg.AggregateData(tile.Buffer); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// copyResults materializes every aggregator into its destination, in
// registration order. Once any sibling result has been committed there is
// no way to recompute, so a later capacity failure is escalated to the
// hard recompute error.
func copyResults(ch *Channel, fields []string, buffers map[string]*aggregate.QueryBuffer) error {
	committed := 0
	for _, name := range fields {
		agg, _ := ch.Aggregate(name)
		if err := agg.CopyToUserBuffer(name, buffers); err != nil {
			if committed > 0 && errors.Is(err, aggregate.ErrVarBufferTooSmall) {
				return fmt.Errorf("%w: field %q: %v", aggregate.ErrRecomputeNotSupported, name, err)
			}
			return fmt.Errorf("copy result %q: %w", name, err)
		}
		committed++
	}
	return nil
}
