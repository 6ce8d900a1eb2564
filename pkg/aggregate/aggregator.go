// Package aggregate implements the scalar aggregation core of the read
// path: stateful accumulators for COUNT, NULL_COUNT, SUM, MEAN, MIN and MAX
// over decoded tile cells, with per-cell validity, boolean or count bitmap
// selection, and sticky arithmetic-overflow handling.
//
// One aggregator is allocated per output field and per query. It is fed any
// number of tile windows through AggregateData (or whole-tile statistics
// through AggregateTileMetadata), possibly from several goroutines, and is
// read out exactly once per read step through CopyToUserBuffer after all
// feeding has quiesced.
package aggregate

// CountFieldName is the reserved input name reported by COUNT, which has no
// input field of its own.
const CountFieldName = "__count_of_rows"

// Aggregate names accepted by MakeOperation and reported by AggregateName.
const (
	NameCount     = "count"
	NameNullCount = "null_count"
	NameSum       = "sum"
	NameMean      = "mean"
	NameMin       = "min"
	NameMax       = "max"
)

// Aggregator is a stateful accumulator for one output field.
//
// AggregateData and AggregateTileMetadata may be called concurrently for the
// same aggregator; each implementation guards its accumulator state.
// ValidateOutputBuffer must run before aggregation starts, and
// CopyToUserBuffer must not run concurrently with aggregation.
type Aggregator interface {
	// AggregateName returns the aggregate's canonical name ("sum", ...).
	AggregateName() string

	// FieldName returns the name of the input field being aggregated.
	// COUNT returns CountFieldName.
	FieldName() string

	// VarSized reports whether the result has a var-length payload.
	VarSized() bool

	// NeedRecomputeOnOverflow reports whether a destination overflow of
	// this aggregate's result would require recomputation to recover.
	NeedRecomputeOnOverflow() bool

	// ValidateOutputBuffer checks the shape of the destination bound for
	// outputField before any aggregation happens.
	ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error

	// AggregateData folds one tile window into the accumulator.
	AggregateData(b *Buffer) error

	// AggregateTileMetadata folds whole-tile statistics into the
	// accumulator. Only valid for tiles with no bitmap selection.
	AggregateTileMetadata(md TileMetadata)

	// CopyToUserBuffer materializes the result into the destination bound
	// for outputField.
	CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error
}

// validityPolicy selects which cells a counting aggregate includes.
type validityPolicy uint8

const (
	// countCells counts every selected cell, null or not.
	countCells validityPolicy = iota
	// countNulls counts only selected cells whose validity byte is 0.
	countNulls
)
