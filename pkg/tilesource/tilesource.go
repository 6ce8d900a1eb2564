// Package tilesource decodes columnar tiles from Parquet files.
//
// Each Parquet row group becomes one tile for the requested column: a typed
// cell window plus whole-tile statistics computed while decoding, so
// unfiltered reads can take the statistics path instead of rescanning.
package tilesource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/field"
	"github.com/arraydb/tileagg/pkg/membudget"
	"github.com/arraydb/tileagg/pkg/query"
)

var (
	// ErrColumnNotFound indicates the requested column is not in the schema.
	ErrColumnNotFound = errors.New("column not found in parquet schema")
	// ErrSchemaMismatch indicates the parquet column shape does not match
	// the requested field.
	ErrSchemaMismatch = errors.New("parquet column does not match field")
)

// Config configures a tile reader.
type Config struct {
	// Column is the field to decode tiles for. Its name must match a leaf
	// column of the parquet schema.
	Column field.Info

	// Budget, if non-nil, is reserved against for each tile's decoded size
	// before NextTile returns it. The tile consumer releases.
	Budget *membudget.Budget
}

// Reader turns the row groups of one parquet file into tiles for a single
// column. Not safe for concurrent use; tiles it returns are independent.
type Reader struct {
	file       *parquet.File
	osFile     *os.File // backing file we own, if any
	removeTemp bool     // set when osFile is our stream buffer
	cfg        Config
	colIdx     int

	rowGroups []parquet.RowGroup
	nextRG    int
	rowBuf    []parquet.Row
}

// OpenFile creates a Reader over an open random-access parquet payload.
func OpenFile(r io.ReaderAt, size int64, cfg Config) (*Reader, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	return newReader(file, nil, false, cfg)
}

// OpenPath creates a Reader over a local parquet file.
func OpenPath(path string, cfg Config) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	file, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	r, err := newReader(file, f, false, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// OpenStream creates a Reader from a stream. Parquet needs random access,
// so the stream is buffered to a temp file that is removed on Close.
func OpenStream(rc io.ReadCloser, cfg Config) (*Reader, error) {
	tempFile, err := os.CreateTemp("", "tileagg-*.parquet")
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tempFile, rc)
	rc.Close()
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("buffer parquet data: %w", err)
	}
	if _, err := tempFile.Seek(0, io.SeekStart); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	file, err := parquet.OpenFile(tempFile, written)
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	r, err := newReader(file, tempFile, true, cfg)
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, err
	}
	return r, nil
}

func newReader(file *parquet.File, osFile *os.File, removeTemp bool, cfg Config) (*Reader, error) {
	colIdx, err := findColumn(file.Schema(), cfg.Column)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:       file,
		osFile:     osFile,
		removeTemp: removeTemp,
		cfg:        cfg,
		colIdx:     colIdx,
		rowGroups:  file.RowGroups(),
		rowBuf:     make([]parquet.Row, 1024),
	}, nil
}

// findColumn resolves the field's leaf column index and checks that the
// parquet column shape can produce cells of the field's datatype.
func findColumn(schema *parquet.Schema, col field.Info) (int, error) {
	for i, f := range schema.Fields() {
		if f.Name() != col.Name {
			continue
		}
		if !f.Leaf() {
			return -1, fmt.Errorf("%w: %q is a group", ErrSchemaMismatch, col.Name)
		}
		if f.Optional() != col.Nullable {
			return -1, fmt.Errorf("%w: %q nullable=%v in schema", ErrSchemaMismatch, col.Name, f.Optional())
		}
		if !kindCompatible(f.Type().Kind(), col.Type) {
			return -1, fmt.Errorf("%w: %q is %s in schema, field wants %s",
				ErrSchemaMismatch, col.Name, f.Type().Kind(), col.Type)
		}
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, col.Name)
}

func kindCompatible(k parquet.Kind, dt field.Datatype) bool {
	switch dt {
	case field.Int8, field.Int16, field.Int32, field.Uint8, field.Uint16, field.Uint32:
		return k == parquet.Int32
	case field.Int64, field.Uint64:
		return k == parquet.Int64
	case field.Float32:
		return k == parquet.Float
	case field.Float64:
		return k == parquet.Double
	case field.String:
		return k == parquet.ByteArray || k == parquet.FixedLenByteArray
	default:
		return false
	}
}

// Tiles returns the number of tiles (row groups) in the file.
func (r *Reader) Tiles() int {
	return len(r.rowGroups)
}

// NextTile decodes the next row group into a tile. Returns io.EOF after the
// last row group.
func (r *Reader) NextTile() (query.Tile, error) {
	if r.nextRG >= len(r.rowGroups) {
		return query.Tile{}, io.EOF
	}
	rg := r.rowGroups[r.nextRG]
	r.nextRG++

	vals, validity, err := r.readColumn(rg)
	if err != nil {
		return query.Tile{}, fmt.Errorf("row group %d: %w", r.nextRG-1, err)
	}

	buf, md, size, err := buildTile(r.cfg.Column, vals, validity)
	if err != nil {
		return query.Tile{}, fmt.Errorf("row group %d: %w", r.nextRG-1, err)
	}

	if r.cfg.Budget != nil {
		if err := r.cfg.Budget.Reserve(size); err != nil {
			return query.Tile{}, fmt.Errorf("reserve tile memory: %w", err)
		}
	}
	return query.Tile{Buffer: buf, Metadata: md, SizeBytes: size}, nil
}

// readColumn collects the selected column's value per row of the row group.
// Values are cloned because ReadRows reuses its backing buffers.
func (r *Reader) readColumn(rg parquet.RowGroup) ([]parquet.Value, []uint8, error) {
	rows := rg.Rows()
	defer rows.Close()

	vals := make([]parquet.Value, 0, rg.NumRows())
	var validity []uint8
	if r.cfg.Column.Nullable {
		validity = make([]uint8, 0, rg.NumRows())
	}

	for {
		n, err := rows.ReadRows(r.rowBuf)
		for _, row := range r.rowBuf[:n] {
			for _, v := range row {
				if v.Column() != r.colIdx {
					continue
				}
				vals = append(vals, v.Clone())
				if validity != nil {
					if v.IsNull() {
						validity = append(validity, 0)
					} else {
						validity = append(validity, 1)
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return vals, validity, nil
			}
			return nil, nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}
}

// buildTile converts the raw column values into the typed cell window plus
// tile statistics, dispatching on the field datatype.
func buildTile(col field.Info, vals []parquet.Value, validity []uint8) (*aggregate.Buffer, *aggregate.TileMetadata, uint64, error) {
	var cells any
	var varPayload []byte
	var md *aggregate.TileMetadata

	switch col.Type {
	case field.Int8:
		cells, md = numericTile[int8, int64](vals, validity, func(v parquet.Value) int8 { return int8(v.Int32()) })
	case field.Int16:
		cells, md = numericTile[int16, int64](vals, validity, func(v parquet.Value) int16 { return int16(v.Int32()) })
	case field.Int32:
		cells, md = numericTile[int32, int64](vals, validity, parquet.Value.Int32)
	case field.Int64:
		cells, md = numericTile[int64, int64](vals, validity, parquet.Value.Int64)
	case field.Uint8:
		cells, md = numericTile[uint8, uint64](vals, validity, func(v parquet.Value) uint8 { return uint8(v.Int32()) })
	case field.Uint16:
		cells, md = numericTile[uint16, uint64](vals, validity, func(v parquet.Value) uint16 { return uint16(v.Int32()) })
	case field.Uint32:
		cells, md = numericTile[uint32, uint64](vals, validity, func(v parquet.Value) uint32 { return uint32(v.Int32()) })
	case field.Uint64:
		cells, md = numericTile[uint64, uint64](vals, validity, func(v parquet.Value) uint64 { return uint64(v.Int64()) })
	case field.Float32:
		cells, md = numericTile[float32, float64](vals, validity, parquet.Value.Float)
	case field.Float64:
		cells, md = numericTile[float64, float64](vals, validity, parquet.Value.Double)
	case field.String:
		if col.VarSized {
			cells, varPayload, md = varStringTile(vals, validity)
		} else {
			cells, md = fixedStringTile(vals, validity, int(col.CellValNum))
		}
	default:
		return nil, nil, 0, fmt.Errorf("%w: %s", aggregate.ErrUnsupportedDatatype, col.Type)
	}

	buf := &aggregate.Buffer{
		MinCell:  0,
		MaxCell:  len(vals),
		Fixed:    cells,
		Var:      varPayload,
		Validity: validity,
	}
	return buf, md, tileSize(col, len(vals), len(varPayload), len(validity)), nil
}

func numericTile[T aggregate.Numeric, S aggregate.SumValue](vals []parquet.Value, validity []uint8, get func(parquet.Value) T) (any, *aggregate.TileMetadata) {
	cells := make([]T, len(vals))
	md := &aggregate.TileMetadata{Count: uint64(len(vals))}

	var sum S
	sumOK := true
	var lo, hi T
	seen := false
	for i, v := range vals {
		if validity != nil && validity[i] == 0 {
			md.NullCount++
			continue
		}
		x := get(v)
		cells[i] = x
		if sumOK {
			sum, sumOK = aggregate.SafeAdd(sum, S(x))
		}
		if !seen || x < lo {
			lo = x
		}
		if !seen || x > hi {
			hi = x
		}
		seen = true
	}

	// A wrapped sum must never reach the statistics path; without
	// statistics the tile is scanned cell by cell instead.
	if !sumOK {
		return cells, nil
	}

	md.Sum = sum
	if seen {
		md.Min, md.Max = lo, hi
	}
	return cells, md
}

func varStringTile(vals []parquet.Value, validity []uint8) (any, []byte, *aggregate.TileMetadata) {
	offsets := make([]uint64, len(vals))
	var payload []byte
	md := &aggregate.TileMetadata{Count: uint64(len(vals))}

	var lo, hi []byte
	seen := false
	for i, v := range vals {
		offsets[i] = uint64(len(payload))
		if validity != nil && validity[i] == 0 {
			md.NullCount++
			continue
		}
		b := v.ByteArray()
		payload = append(payload, b...)
		if !seen || bytes.Compare(b, lo) < 0 {
			lo = append([]byte(nil), b...)
		}
		if !seen || bytes.Compare(b, hi) > 0 {
			hi = append([]byte(nil), b...)
		}
		seen = true
	}

	if seen {
		md.Min, md.Max = lo, hi
	}
	return offsets, payload, md
}

func fixedStringTile(vals []parquet.Value, validity []uint8, width int) (any, *aggregate.TileMetadata) {
	cells := make([]byte, width*len(vals))
	md := &aggregate.TileMetadata{Count: uint64(len(vals))}

	var lo, hi []byte
	seen := false
	for i, v := range vals {
		if validity != nil && validity[i] == 0 {
			md.NullCount++
			continue
		}
		cell := cells[i*width : (i+1)*width]
		copy(cell, v.ByteArray())
		if !seen || bytes.Compare(cell, lo) < 0 {
			lo = append([]byte(nil), cell...)
		}
		if !seen || bytes.Compare(cell, hi) > 0 {
			hi = append([]byte(nil), cell...)
		}
		seen = true
	}

	if seen {
		md.Min, md.Max = lo, hi
	}
	return cells, md
}

// tileSize estimates the decoded bytes held by one tile.
func tileSize(col field.Info, cellCount, varLen, validityLen int) uint64 {
	elem := col.Type.Size()
	if col.VarSized {
		elem = 8 // offsets
	} else if col.Type == field.String {
		elem = uint64(col.CellValNum)
	}
	return uint64(cellCount)*elem + uint64(varLen) + uint64(validityLen)
}

// Close releases the underlying file and any temp buffering.
func (r *Reader) Close() error {
	if r.osFile == nil {
		return nil
	}
	name := r.osFile.Name()
	err := r.osFile.Close()
	if r.removeTemp {
		os.Remove(name)
	}
	r.osFile = nil
	return err
}

// Describe maps the leaf columns of a parquet schema to field descriptors.
// Int32 and Int64 leaves come back signed; byte-array leaves come back as
// var-sized strings.
func Describe(schema *parquet.Schema) []field.Info {
	var out []field.Info
	for _, f := range schema.Fields() {
		if !f.Leaf() {
			continue
		}
		var dt field.Datatype
		switch f.Type().Kind() {
		case parquet.Int32:
			dt = field.Int32
		case parquet.Int64:
			dt = field.Int64
		case parquet.Float:
			dt = field.Float32
		case parquet.Double:
			dt = field.Float64
		case parquet.ByteArray, parquet.FixedLenByteArray:
			dt = field.String
		default:
			continue
		}
		if dt == field.String {
			out = append(out, field.NewVar(f.Name(), dt, f.Optional()))
		} else {
			out = append(out, field.New(f.Name(), dt, f.Optional()))
		}
	}
	return out
}
