package tilesource

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/field"
	"github.com/arraydb/tileagg/pkg/membudget"
	"github.com/arraydb/tileagg/pkg/query"
)

type saleRecord struct {
	Sku      string   `parquet:"sku"`
	Quantity int64    `parquet:"quantity"`
	Price    float64  `parquet:"price"`
	Rating   *float64 `parquet:"rating,optional"`
}

func ptr(v float64) *float64 { return &v }

// writeSales writes the batches to a parquet file, one row group per batch.
func writeSales(t *testing.T, batches ...[]saleRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := parquet.NewGenericWriter[saleRecord](f)
	for _, batch := range batches {
		if _, err := w.Write(batch); err != nil {
			t.Fatalf("write batch: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("flush row group: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestReaderNumericTiles(t *testing.T) {
	path := writeSales(t,
		[]saleRecord{
			{Sku: "a", Quantity: 2, Price: 1.5},
			{Sku: "b", Quantity: 1, Price: 4.0},
			{Sku: "c", Quantity: 7, Price: 2.5},
		},
		[]saleRecord{
			{Sku: "d", Quantity: 3, Price: 10.0},
			{Sku: "e", Quantity: 5, Price: 0.5},
		},
	)

	r, err := OpenPath(path, Config{Column: field.New("price", field.Float64, false)})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	if r.Tiles() != 2 {
		t.Errorf("Tiles = %d, want 2", r.Tiles())
	}

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	if tile.Buffer.MinCell != 0 || tile.Buffer.MaxCell != 3 {
		t.Errorf("window = [%d, %d), want [0, 3)", tile.Buffer.MinCell, tile.Buffer.MaxCell)
	}
	cells, ok := tile.Buffer.Fixed.([]float64)
	if !ok {
		t.Fatalf("Fixed is %T, want []float64", tile.Buffer.Fixed)
	}
	if cells[0] != 1.5 || cells[1] != 4.0 || cells[2] != 2.5 {
		t.Errorf("cells = %v", cells)
	}
	if tile.Buffer.Validity != nil {
		t.Error("non-nullable column should have nil validity")
	}

	md := tile.Metadata
	if md == nil {
		t.Fatal("tile should carry metadata")
	}
	if md.Count != 3 || md.NullCount != 0 {
		t.Errorf("counts = %d/%d, want 3/0", md.Count, md.NullCount)
	}
	if md.Sum != 8.0 || md.Min != 1.5 || md.Max != 4.0 {
		t.Errorf("stats = sum %v min %v max %v", md.Sum, md.Min, md.Max)
	}

	tile2, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	if tile2.Buffer.MaxCell != 2 {
		t.Errorf("second tile has %d cells, want 2", tile2.Buffer.MaxCell)
	}
	if tile2.Metadata.Sum != 10.5 {
		t.Errorf("second tile sum = %v, want 10.5", tile2.Metadata.Sum)
	}

	if _, err := r.NextTile(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF after last row group", err)
	}
}

func TestReaderIntegerColumnWidensSum(t *testing.T) {
	path := writeSales(t, []saleRecord{
		{Sku: "a", Quantity: 2},
		{Sku: "b", Quantity: 5},
	})

	r, err := OpenPath(path, Config{Column: field.New("quantity", field.Int64, false)})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	if sum, ok := tile.Metadata.Sum.(int64); !ok || sum != 7 {
		t.Errorf("Sum = %v (%T), want int64 7", tile.Metadata.Sum, tile.Metadata.Sum)
	}
}

func TestReaderWrappingSumDropsMetadata(t *testing.T) {
	path := writeSales(t, []saleRecord{
		{Sku: "a", Quantity: math.MaxInt64},
		{Sku: "b", Quantity: math.MaxInt64},
	})

	qtyField := field.New("quantity", field.Int64, false)
	r, err := OpenPath(path, Config{Column: qtyField})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	if tile.Metadata != nil {
		t.Fatalf("tile with wrapping sum carries metadata: %+v", tile.Metadata)
	}
	cells, ok := tile.Buffer.Fixed.([]int64)
	if !ok || len(cells) != 2 {
		t.Fatalf("Fixed = %T len %d, want []int64 len 2", tile.Buffer.Fixed, len(cells))
	}

	// Without statistics the driver scans the cells, and the scan path's
	// sticky overflow saturates the result.
	sum, err := aggregate.MakeOperation(aggregate.NameSum, &qtyField)
	if err != nil {
		t.Fatalf("MakeOperation: %v", err)
	}
	ch := query.DefaultChannel()
	if err := ch.AddAggregate("qsum", sum); err != nil {
		t.Fatalf("AddAggregate: %v", err)
	}
	buffers := map[string]*aggregate.QueryBuffer{
		"qsum": aggregate.Bind(make([]byte, 8), nil, nil, nil, nil, nil),
	}
	tiles := make(chan query.Tile, 1)
	tiles <- tile
	close(tiles)

	res, err := query.Run(context.Background(), ch, buffers, tiles, query.RunConfig{Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FastPathTiles != 0 {
		t.Errorf("FastPathTiles = %d, want 0", res.FastPathTiles)
	}
	if got := int64(binary.LittleEndian.Uint64(buffers["qsum"].Data)); got != math.MaxInt64 {
		t.Errorf("sum = %d, want saturated MaxInt64", got)
	}
}

func TestReaderNullableColumn(t *testing.T) {
	path := writeSales(t, []saleRecord{
		{Sku: "a", Rating: ptr(3.0)},
		{Sku: "b"},
		{Sku: "c", Rating: ptr(5.0)},
	})

	r, err := OpenPath(path, Config{Column: field.New("rating", field.Float64, true)})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	wantValidity := []uint8{1, 0, 1}
	for i, want := range wantValidity {
		if tile.Buffer.Validity[i] != want {
			t.Errorf("validity[%d] = %d, want %d", i, tile.Buffer.Validity[i], want)
		}
	}
	if tile.Metadata.NullCount != 1 {
		t.Errorf("NullCount = %d, want 1", tile.Metadata.NullCount)
	}
	if tile.Metadata.Min != 3.0 || tile.Metadata.Max != 5.0 {
		t.Errorf("min/max = %v/%v, want 3/5", tile.Metadata.Min, tile.Metadata.Max)
	}
}

func TestReaderVarStrings(t *testing.T) {
	path := writeSales(t, []saleRecord{
		{Sku: "banana"},
		{Sku: "apple"},
		{Sku: "cherry"},
	})

	r, err := OpenPath(path, Config{Column: field.NewVar("sku", field.String, false)})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	offsets, ok := tile.Buffer.Fixed.([]uint64)
	if !ok {
		t.Fatalf("Fixed is %T, want []uint64", tile.Buffer.Fixed)
	}
	if offsets[0] != 0 || offsets[1] != 6 || offsets[2] != 11 {
		t.Errorf("offsets = %v", offsets)
	}
	if string(tile.Buffer.Var) != "bananaapplecherry" {
		t.Errorf("payload = %q", tile.Buffer.Var)
	}
	if string(tile.Metadata.Min.([]byte)) != "apple" || string(tile.Metadata.Max.([]byte)) != "cherry" {
		t.Errorf("min/max = %q/%q", tile.Metadata.Min, tile.Metadata.Max)
	}
}

func TestReaderSchemaErrors(t *testing.T) {
	path := writeSales(t, []saleRecord{{Sku: "a"}})

	if _, err := OpenPath(path, Config{Column: field.New("missing", field.Int64, false)}); !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("err = %v, want ErrColumnNotFound", err)
	}
	// price is a double, not an int64
	if _, err := OpenPath(path, Config{Column: field.New("price", field.Int64, false)}); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
	// rating is optional in the schema
	if _, err := OpenPath(path, Config{Column: field.New("rating", field.Float64, false)}); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("err = %v, want ErrSchemaMismatch", err)
	}
}

func TestReaderReservesBudget(t *testing.T) {
	path := writeSales(t, []saleRecord{
		{Sku: "a", Price: 1},
		{Sku: "b", Price: 2},
	})

	budget := membudget.New(membudget.Config{TotalBytes: 1 << 20, Source: membudget.SourceCLI})
	r, err := OpenPath(path, Config{
		Column: field.New("price", field.Float64, false),
		Budget: budget,
	})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	tile, err := r.NextTile()
	if err != nil {
		t.Fatalf("NextTile: %v", err)
	}
	if tile.SizeBytes == 0 {
		t.Fatal("tile size should be nonzero")
	}
	if budget.InUse() != tile.SizeBytes {
		t.Errorf("budget InUse = %d, want %d", budget.InUse(), tile.SizeBytes)
	}
	budget.Release(tile.SizeBytes)
}

func TestDescribe(t *testing.T) {
	path := writeSales(t, []saleRecord{{Sku: "a"}})
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	st, _ := f.Stat()
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	cols := Describe(pf.Schema())
	byName := make(map[string]field.Info, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	if c := byName["sku"]; c.Type != field.String || !c.VarSized {
		t.Errorf("sku = %+v, want var string", c)
	}
	if c := byName["quantity"]; c.Type != field.Int64 || c.Nullable {
		t.Errorf("quantity = %+v, want non-nullable int64", c)
	}
	if c := byName["rating"]; c.Type != field.Float64 || !c.Nullable {
		t.Errorf("rating = %+v, want nullable float64", c)
	}
}

func TestAggregateOverFile(t *testing.T) {
	path := writeSales(t,
		[]saleRecord{
			{Sku: "a", Price: 1.5},
			{Sku: "b", Price: 4.0},
		},
		[]saleRecord{
			{Sku: "c", Price: 2.5},
			{Sku: "d", Price: 10.0},
		},
	)

	priceField := field.New("price", field.Float64, false)
	r, err := OpenPath(path, Config{Column: priceField})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer r.Close()

	ch := query.DefaultChannel()
	for _, b := range []struct{ out, agg string }{
		{"cnt", aggregate.NameCount},
		{"sum", aggregate.NameSum},
		{"mean", aggregate.NameMean},
	} {
		agg, err := aggregate.MakeOperation(b.agg, &priceField)
		if err != nil {
			t.Fatalf("MakeOperation(%s): %v", b.agg, err)
		}
		if err := ch.AddAggregate(b.out, agg); err != nil {
			t.Fatalf("AddAggregate: %v", err)
		}
	}

	buffers := map[string]*aggregate.QueryBuffer{
		"cnt":  aggregate.Bind(make([]byte, 8), nil, nil, nil, nil, nil),
		"sum":  aggregate.Bind(make([]byte, 8), nil, nil, nil, nil, nil),
		"mean": aggregate.Bind(make([]byte, 8), nil, nil, nil, nil, nil),
	}

	tiles := make(chan query.Tile, 4)
	for {
		tile, err := r.NextTile()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextTile: %v", err)
		}
		tiles <- tile
	}
	close(tiles)

	res, err := query.Run(context.Background(), ch, buffers, tiles, query.RunConfig{Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TilesProcessed != 2 || res.FastPathTiles != 2 {
		t.Errorf("processed %d tiles (%d fast path), want 2 (2)", res.TilesProcessed, res.FastPathTiles)
	}

	if got := binary.LittleEndian.Uint64(buffers["cnt"].Data); got != 4 {
		t.Errorf("cnt = %d, want 4", got)
	}
	if got := math.Float64frombits(binary.LittleEndian.Uint64(buffers["sum"].Data)); got != 18.0 {
		t.Errorf("sum = %v, want 18", got)
	}
	if got := math.Float64frombits(binary.LittleEndian.Uint64(buffers["mean"].Data)); got != 4.5 {
		t.Errorf("mean = %v, want 4.5", got)
	}
}
