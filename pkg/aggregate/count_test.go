package aggregate

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/arraydb/tileagg/pkg/field"
)

func countResultBuffer() (map[string]*QueryBuffer, []byte) {
	data := make([]byte, 8)
	var size uint64
	return map[string]*QueryBuffer{
		"out": Bind(data, &size, nil, nil, nil, nil),
	}, data
}

func readUint64(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data)
}

func TestCountWithCountBitmap(t *testing.T) {
	a := NewCount()
	if a.FieldName() != CountFieldName {
		t.Errorf("FieldName() = %q, want %q", a.FieldName(), CountFieldName)
	}

	weights := []uint64{1, 2, 4, 0, 0, 1, 2, 0, 1, 2}
	cells := make([]int64, 10)

	if err := a.AggregateData(&Buffer{
		MinCell:     2,
		MaxCell:     10,
		Fixed:       cells,
		CountBitmap: weights,
	}); err != nil {
		t.Fatalf("AggregateData: %v", err)
	}
	if got := a.Count(); got != 10 {
		t.Errorf("count after cells 2..10 = %d, want 10", got)
	}

	if err := a.AggregateData(&Buffer{
		MinCell:     0,
		MaxCell:     2,
		Fixed:       cells,
		CountBitmap: weights,
	}); err != nil {
		t.Fatalf("AggregateData: %v", err)
	}
	if got := a.Count(); got != 13 {
		t.Errorf("count after cells 0..2 = %d, want 13", got)
	}

	buffers, data := countResultBuffer()
	if err := a.ValidateOutputBuffer("out", buffers); err != nil {
		t.Fatalf("ValidateOutputBuffer: %v", err)
	}
	if err := a.CopyToUserBuffer("out", buffers); err != nil {
		t.Fatalf("CopyToUserBuffer: %v", err)
	}
	if got := readUint64(data); got != 13 {
		t.Errorf("materialized count = %d, want 13", got)
	}
}

func TestCountNoBitmapCountsWholeWindow(t *testing.T) {
	a := NewCount()
	if err := a.AggregateData(&Buffer{
		MinCell:  3,
		MaxCell:  9,
		Fixed:    make([]float64, 9),
		Validity: []uint8{1, 1, 0, 0, 0, 1, 0, 1, 1}, // COUNT includes nulls
	}); err != nil {
		t.Fatalf("AggregateData: %v", err)
	}
	if got := a.Count(); got != 6 {
		t.Errorf("count = %d, want 6", got)
	}
}

func TestCountBooleanBitmap(t *testing.T) {
	a := NewCount()
	if err := a.AggregateData(&Buffer{
		MinCell: 0,
		MaxCell: 5,
		Fixed:   make([]int32, 5),
		Bitmap:  []uint8{1, 0, 1, 1, 0},
	}); err != nil {
		t.Fatalf("AggregateData: %v", err)
	}
	if got := a.Count(); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
}

func TestNullCount(t *testing.T) {
	f := field.New("a", field.Int32, true)
	a, err := NewNullCount(f)
	if err != nil {
		t.Fatalf("NewNullCount: %v", err)
	}
	if a.AggregateName() != NameNullCount {
		t.Errorf("AggregateName() = %q", a.AggregateName())
	}
	if a.FieldName() != "a" {
		t.Errorf("FieldName() = %q, want a", a.FieldName())
	}

	if err := a.AggregateData(&Buffer{
		MinCell:  0,
		MaxCell:  6,
		Fixed:    make([]int32, 6),
		Validity: []uint8{1, 0, 0, 1, 0, 1},
		Bitmap:   []uint8{1, 1, 1, 1, 0, 1}, // excluded null at cell 4
	}); err != nil {
		t.Fatalf("AggregateData: %v", err)
	}
	if got := a.Count(); got != 2 {
		t.Errorf("null count = %d, want 2", got)
	}
}

func TestNullCountRequiresNullableField(t *testing.T) {
	if _, err := NewNullCount(field.New("a", field.Int32, false)); err == nil {
		t.Error("expected error for non-nullable field")
	}
}

func TestCountTileMetadataFastPath(t *testing.T) {
	count := NewCount()
	nullCount, err := NewNullCount(field.New("a", field.Int64, true))
	if err != nil {
		t.Fatalf("NewNullCount: %v", err)
	}

	md := TileMetadata{Count: 1000, NullCount: 37}
	count.AggregateTileMetadata(md)
	count.AggregateTileMetadata(md)
	nullCount.AggregateTileMetadata(md)

	if got := count.Count(); got != 2000 {
		t.Errorf("count = %d, want 2000", got)
	}
	if got := nullCount.Count(); got != 37 {
		t.Errorf("null count = %d, want 37", got)
	}
}

func TestCountConcurrentAggregation(t *testing.T) {
	a := NewCount()
	cells := make([]int8, 100)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := a.AggregateData(&Buffer{MinCell: 0, MaxCell: 100, Fixed: cells}); err != nil {
					t.Errorf("AggregateData: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := a.Count(); got != 8*50*100 {
		t.Errorf("count = %d, want %d", got, 8*50*100)
	}
}

func TestCountRejectsValidityBuffer(t *testing.T) {
	a := NewCount()
	data := make([]byte, 8)
	validity := make([]uint8, 1)
	buffers := map[string]*QueryBuffer{
		"out": Bind(data, nil, nil, nil, validity, nil),
	}
	if err := a.ValidateOutputBuffer("out", buffers); err == nil {
		t.Error("expected validity buffer rejection for count result")
	}
}
