package aggregate

// TileMetadata carries whole-tile statistics precomputed when the tile was
// written or decoded. It lets an aggregator fold an entire unfiltered tile
// without scanning its cells.
type TileMetadata struct {
	// Count is the number of cells in the tile, nulls included.
	Count uint64
	// NullCount is the number of null cells in the tile.
	NullCount uint64

	// Min and Max hold the extremal non-null values, typed to the column:
	// a scalar (int32, float64, ...) for numeric columns, []byte for
	// string columns. Nil when the tile has no non-null cells.
	Min any
	Max any

	// Sum holds the tile sum in the widened accumulator type for the
	// column: int64 for signed integers, uint64 for unsigned integers,
	// float64 for floats. Nil for string columns.
	Sum any
}

// metadataAs extracts a typed statistic from a TileMetadata field.
func metadataAs[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}
