package aggregate

import "fmt"

// Buffer is a read-only window over one tile's decoded cells for a single
// column. The window covers cells [MinCell, MaxCell); slices index the whole
// tile, so a cell index is used directly without rebasing.
//
// The reader that produced the tile owns all slices. An aggregator may read
// them only for the duration of one AggregateData call and must never retain
// them.
type Buffer struct {
	// MinCell is the first cell of the window (inclusive).
	MinCell int
	// MaxCell is the last cell of the window (exclusive).
	MaxCell int

	// Fixed holds the decoded fixed-size cell data as a typed slice:
	// []int32, []float64, etc. for numeric columns, []uint64 byte offsets
	// into Var for var-sized columns, and []byte for fixed-width strings.
	Fixed any

	// Var holds the concatenated var-length payload addressed by the
	// offsets in Fixed. Nil for fixed-size columns.
	Var []byte

	// Validity holds one byte per cell; 0 marks a null cell. Nil for
	// non-nullable columns.
	Validity []uint8

	// Bitmap holds one inclusion byte per cell: 0 excludes the cell,
	// 1 includes it exactly once. Mutually exclusive with CountBitmap.
	Bitmap []uint8

	// CountBitmap holds one repetition weight per cell: a cell with
	// weight N contributes N times. Mutually exclusive with Bitmap.
	CountBitmap []uint64
}

// HasBitmap reports whether any cell selection applies to the window.
func (b *Buffer) HasBitmap() bool {
	return b.Bitmap != nil || b.CountBitmap != nil
}

// Weight returns how many times the given cell contributes.
func (b *Buffer) Weight(cell int) uint64 {
	switch {
	case b.CountBitmap != nil:
		return b.CountBitmap[cell]
	case b.Bitmap != nil:
		return uint64(b.Bitmap[cell])
	default:
		return 1
	}
}

// CellValid reports whether the given cell is non-null.
func (b *Buffer) CellValid(cell int) bool {
	return b.Validity == nil || b.Validity[cell] != 0
}

// varCell returns the payload bytes of one var-sized cell, using the offsets
// slice in Fixed. The last cell of the tile extends to the end of Var.
func (b *Buffer) varCell(offsets []uint64, cell int) []byte {
	start := offsets[cell]
	end := uint64(len(b.Var))
	if cell+1 < len(offsets) {
		end = offsets[cell+1]
	}
	return b.Var[start:end]
}

// fixedCells returns the typed fixed-data slice of the buffer.
func fixedCells[T any](b *Buffer) ([]T, error) {
	cells, ok := b.Fixed.([]T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: have %T, want []%T", ErrCellTypeMismatch, b.Fixed, zero)
	}
	return cells, nil
}
