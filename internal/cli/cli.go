// Package cli implements the command-line interface for tileagg.
package cli

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/arraydb/tileagg/internal/logctx"
	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/field"
	"github.com/arraydb/tileagg/pkg/humanfmt"
	"github.com/arraydb/tileagg/pkg/logging"
	"github.com/arraydb/tileagg/pkg/membudget"
	"github.com/arraydb/tileagg/pkg/query"
	"github.com/arraydb/tileagg/pkg/s3fetch"
	"github.com/arraydb/tileagg/pkg/tilesource"
)

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: tileagg <command> [options]\ncommands: aggregate, describe")
	}

	switch args[0] {
	case "aggregate":
		return runAggregate(args[1:])
	case "describe":
		return runDescribe(args[1:])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func runAggregate(args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	column := fs.String("column", "", "column to aggregate over")
	aggs := fs.String("agg", "count", "comma-separated aggregates (count,null_count,sum,mean,min,max)")
	workers := fs.Int("workers", 0, "worker goroutines (default: NumCPU)")
	memBudget := fs.String("mem-budget", "", "memory budget for decoded tiles (e.g. 4GiB, default: 50% of RAM)")
	skipMetadata := fs.Bool("skip-tile-metadata", false, "ignore tile statistics and always scan cells")
	varCapacity := fs.Int("var-capacity", 4096, "result buffer capacity for var-sized results in bytes")
	debug := fs.Bool("debug", false, "enable debug logging")
	humanLogs := fs.Bool("human-logs", false, "human-friendly console logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	names, err := parseAggList(*aggs)
	if err != nil {
		return err
	}
	if *column == "" && needsColumn(names) {
		return errors.New("--column is required for aggregates other than count")
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		return errors.New("at least one parquet tile file or s3:// URI is required")
	}

	logging.Init(*debug, *humanLogs)
	log := logging.WithPhase("aggregate")
	ctx, cancel := context.WithCancel(logctx.WithLogger(context.Background(), log))
	defer cancel()

	budget, err := determineMemoryBudget(*memBudget)
	if err != nil {
		return err
	}
	log.Info().
		Uint64("budget_bytes", budget.Total()).
		Str("budget_source", string(budget.Source())).
		Msg("memory budget determined")

	paths, cleanup, err := localizeInputs(ctx, inputs)
	if err != nil {
		return err
	}
	defer cleanup()

	var col field.Info
	if *column != "" {
		col, err = resolveColumn(paths[0], *column)
		if err != nil {
			return err
		}
	} else {
		// COUNT-only query: any column works for walking the row groups.
		cols, err := describeFile(paths[0])
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return fmt.Errorf("no columns in %s", paths[0])
		}
		col = cols[0]
	}

	ch := query.DefaultChannel()
	buffers := make(map[string]*aggregate.QueryBuffer)
	for _, name := range names {
		var f *field.Info
		if name != aggregate.NameCount {
			f = &col
		}
		agg, err := aggregate.MakeOperation(name, f)
		if err != nil {
			return err
		}
		out := outputFieldName(name, *column)
		if err := ch.AddAggregate(out, agg); err != nil {
			return err
		}
		buffers[out] = bindResultBuffer(agg, col, *varCapacity)
	}

	tiles := make(chan query.Tile, 2*workersOrDefault(*workers))
	produceErr := make(chan error, 1)
	go func() {
		defer close(tiles)
		produceErr <- produceTiles(ctx, paths, col, budget, *skipMetadata, tiles)
	}()

	res, err := query.Run(ctx, ch, buffers, tiles, query.RunConfig{
		Workers: *workers,
		Budget:  budget,
	})
	if err != nil {
		return err
	}
	if err := <-produceErr; err != nil {
		return err
	}

	logging.PhaseComplete(log, "aggregate", res.Elapsed).
		Count("tiles", res.TilesProcessed).
		Count("fast_path_tiles", res.FastPathTiles).
		Count("cells", res.CellsProcessed).
		Log("aggregation complete")

	for _, out := range ch.OutputFields() {
		agg, _ := ch.Aggregate(out)
		fmt.Printf("%s\t%s\n", out, formatResult(agg, col, buffers[out]))
	}
	return nil
}

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	humanLogs := fs.Bool("human-logs", false, "human-friendly console logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inputs := fs.Args()
	if len(inputs) != 1 {
		return errors.New("describe takes exactly one parquet tile file or s3:// URI")
	}

	logging.Init(*debug, *humanLogs)
	ctx := logctx.WithLogger(context.Background(), logging.WithPhase("describe"))

	paths, cleanup, err := localizeInputs(ctx, inputs)
	if err != nil {
		return err
	}
	defer cleanup()

	cols, err := describeFile(paths[0])
	if err != nil {
		return err
	}
	for _, c := range cols {
		shape := "fixed"
		if c.VarSized {
			shape = "var"
		}
		nullable := "required"
		if c.Nullable {
			nullable = "nullable"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", c.Name, c.Type, shape, nullable)
	}
	return nil
}

// localizeInputs downloads any s3:// inputs to a temp directory and returns
// local paths for all inputs, plus a cleanup function.
func localizeInputs(ctx context.Context, inputs []string) ([]string, func(), error) {
	var remote []string
	for _, in := range inputs {
		if strings.HasPrefix(in, "s3://") {
			remote = append(remote, in)
		}
	}
	if len(remote) == 0 {
		return inputs, func() {}, nil
	}

	downloadDir, err := os.MkdirTemp("", "tileagg-tiles-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create download dir: %w", err)
	}

	client, err := s3fetch.NewClient(ctx)
	if err != nil {
		os.RemoveAll(downloadDir)
		return nil, nil, err
	}
	downloader := s3fetch.NewDownloader(client.S3(), s3fetch.DefaultDownloaderConfig())
	fetcher := s3fetch.NewFetcher(downloader, s3fetch.FetchConfig{
		URIs:        remote,
		DownloadDir: downloadDir,
	})

	start := time.Now()
	locals, err := fetcher.Fetch(ctx)
	if err != nil {
		os.RemoveAll(downloadDir)
		return nil, nil, err
	}
	log := logctx.FromContext(ctx)
	log.Info().
		Int("objects", len(locals)).
		Str("elapsed", humanfmt.Duration(time.Since(start))).
		Msg("tile objects downloaded")

	paths := make([]string, 0, len(inputs))
	ri := 0
	for _, in := range inputs {
		if strings.HasPrefix(in, "s3://") {
			paths = append(paths, locals[ri])
			ri++
		} else {
			paths = append(paths, in)
		}
	}
	return paths, func() { fetcher.Cleanup() }, nil
}

// resolveColumn looks the named column up in the file's schema.
func resolveColumn(path, name string) (field.Info, error) {
	cols, err := describeFile(path)
	if err != nil {
		return field.Info{}, err
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return field.Info{}, fmt.Errorf("column %q not found in %s", name, path)
}

func describeFile(path string) ([]field.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	return tilesource.Describe(pf.Schema()), nil
}

// produceTiles streams every row group of every file into the tiles channel.
func produceTiles(ctx context.Context, paths []string, col field.Info, budget *membudget.Budget, skipMetadata bool, tiles chan<- query.Tile) error {
	log := logctx.FromContext(ctx)
	tracker := logging.NewProgressTracker("aggregate", int64(len(paths)), log)

	var tileIndex int64
	for _, path := range paths {
		start := time.Now()
		r, err := tilesource.OpenPath(path, tilesource.Config{Column: col, Budget: budget})
		if err != nil {
			return err
		}
		fileTiles := int64(r.Tiles())
		var fileDone int64
		for {
			tileStart := time.Now()
			tile, err := r.NextTile()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				r.Close()
				return err
			}
			if skipMetadata {
				tile.Metadata = nil
			}
			logging.TileStarted(log, "aggregate", tileIndex, fileDone, fileTiles)
			select {
			case tiles <- tile:
			case <-ctx.Done():
				r.Close()
				return ctx.Err()
			}
			logging.TileComplete(log, "aggregate", time.Since(tileStart)).
				Int64("tile_index", tileIndex).
				Count("cells", int64(tile.Buffer.MaxCell)).
				BytesUint64("tile_bytes", tile.SizeBytes).
				LogDebug("tile decoded")
			tileIndex++
			fileDone++
		}
		if err := r.Close(); err != nil {
			return err
		}

		tracker.RecordCompletion(time.Since(start))
		logging.NewCompletionEvent(log, "tile_file_consumed", "aggregate", time.Since(start)).
			Str("file", path).
			ProgressFromTracker(tracker).
			LogDebug("tile file consumed")
	}
	return nil
}

// bindResultBuffer allocates the destination for one aggregate result.
func bindResultBuffer(agg aggregate.Aggregator, col field.Info, varCapacity int) *aggregate.QueryBuffer {
	name := agg.AggregateName()

	var validity []uint8
	nullable := col.Nullable && name != aggregate.NameCount && name != aggregate.NameNullCount
	if nullable {
		validity = make([]uint8, 1)
	}

	if agg.VarSized() {
		varSize := new(uint64)
		return aggregate.Bind(make([]byte, 8), nil, make([]byte, varCapacity), varSize, validity, nil)
	}

	size := uint64(8)
	if name == aggregate.NameMin || name == aggregate.NameMax {
		size = col.Type.Size()
		if col.Type == field.String {
			size = uint64(col.CellValNum)
		}
	}
	return aggregate.Bind(make([]byte, size), nil, nil, nil, validity, nil)
}

// formatResult renders one materialized aggregate result for stdout.
func formatResult(agg aggregate.Aggregator, col field.Info, qb *aggregate.QueryBuffer) string {
	name := agg.AggregateName()

	if qb.Validity != nil && qb.Validity[0] == 0 {
		return "null"
	}

	switch name {
	case aggregate.NameCount, aggregate.NameNullCount:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint64(qb.Data))
	case aggregate.NameMean:
		return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(qb.Data)))
	case aggregate.NameSum:
		switch {
		case col.Type.IsFloat():
			return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(qb.Data)))
		case col.Type.IsSigned():
			return fmt.Sprintf("%d", int64(binary.LittleEndian.Uint64(qb.Data)))
		default:
			return fmt.Sprintf("%d", binary.LittleEndian.Uint64(qb.Data))
		}
	case aggregate.NameMin, aggregate.NameMax:
		if col.Type == field.String {
			if agg.VarSized() {
				n := uint64(len(qb.Var))
				if qb.VarSize != nil {
					n = *qb.VarSize
				}
				return string(qb.Var[:n])
			}
			return string(qb.Data)
		}
		return formatScalar(col.Type, qb.Data)
	}
	return fmt.Sprintf("%x", qb.Data)
}

func formatScalar(dt field.Datatype, data []byte) string {
	switch dt {
	case field.Int8:
		return fmt.Sprintf("%d", int8(data[0]))
	case field.Uint8:
		return fmt.Sprintf("%d", data[0])
	case field.Int16:
		return fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(data)))
	case field.Uint16:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint16(data))
	case field.Int32:
		return fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(data)))
	case field.Uint32:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint32(data))
	case field.Int64:
		return fmt.Sprintf("%d", int64(binary.LittleEndian.Uint64(data)))
	case field.Uint64:
		return fmt.Sprintf("%d", binary.LittleEndian.Uint64(data))
	case field.Float32:
		return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(data)))
	case field.Float64:
		return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(data)))
	}
	return fmt.Sprintf("%x", data)
}

// parseAggList splits and validates the --agg flag.
func parseAggList(s string) ([]string, error) {
	known := map[string]bool{
		aggregate.NameCount:     true,
		aggregate.NameNullCount: true,
		aggregate.NameSum:       true,
		aggregate.NameMean:      true,
		aggregate.NameMin:       true,
		aggregate.NameMax:       true,
	}

	var names []string
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown aggregate %q in --agg", name)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("--agg must name at least one aggregate")
	}
	return names, nil
}

// needsColumn reports whether any requested aggregate needs an input column.
func needsColumn(names []string) bool {
	for _, name := range names {
		if name != aggregate.NameCount {
			return true
		}
	}
	return false
}

// outputFieldName derives the result field name for one aggregate.
func outputFieldName(agg, column string) string {
	if agg == aggregate.NameCount {
		return aggregate.NameCount
	}
	return column + "_" + agg
}

// determineMemoryBudget resolves the tile memory budget: the CLI flag wins,
// otherwise 50% of detected system RAM.
func determineMemoryBudget(cliFlag string) (*membudget.Budget, error) {
	if cliFlag != "" {
		bytes, err := membudget.ParseHumanSize(cliFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --mem-budget %q: %w", cliFlag, err)
		}
		return membudget.New(membudget.Config{
			TotalBytes: bytes,
			Source:     membudget.SourceCLI,
		}), nil
	}
	return membudget.NewFromSystemRAM(), nil
}

func workersOrDefault(w int) int {
	if w > 0 {
		return w
	}
	return 4
}
