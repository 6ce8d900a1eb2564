package aggregate

import "errors"

var (
	// ErrUnsupportedDatatype indicates the requested aggregate cannot operate
	// on the input field's datatype.
	ErrUnsupportedDatatype = errors.New("datatype not supported by aggregate")
	// ErrInvalidCellValNum indicates the input field's cell_val_num does not
	// match what the aggregate requires.
	ErrInvalidCellValNum = errors.New("invalid cell_val_num for aggregate")
	// ErrVarSized indicates a var-sized input field was given to an aggregate
	// that only supports fixed-size cells.
	ErrVarSized = errors.New("var-sized field not supported by aggregate")
	// ErrNotNullable indicates an aggregate that requires validity data was
	// given a non-nullable field.
	ErrNotNullable = errors.New("aggregate requires a nullable field")
	// ErrUnknownAggregate indicates an unrecognized aggregate name.
	ErrUnknownAggregate = errors.New("unknown aggregate")

	// ErrMissingBuffer indicates no output buffer is bound for a field.
	ErrMissingBuffer = errors.New("no output buffer bound for field")
	// ErrBufferSize indicates a bound output buffer does not hold exactly
	// one result element.
	ErrBufferSize = errors.New("output buffer size does not match one element")
	// ErrValidityBuffer indicates a validity buffer is bound for a
	// non-nullable result, or missing for a nullable one.
	ErrValidityBuffer = errors.New("validity buffer does not match result nullability")
	// ErrMissingVarBuffer indicates no var-length output buffer is bound for
	// a var-sized result.
	ErrMissingVarBuffer = errors.New("no var output buffer bound for field")
	// ErrUnexpectedVarBuffer indicates a var-length output buffer is bound
	// for a fixed-size result.
	ErrUnexpectedVarBuffer = errors.New("unexpected var output buffer for fixed-size result")
	// ErrVarBufferTooSmall indicates the bound var-length output buffer
	// cannot hold the result payload.
	ErrVarBufferTooSmall = errors.New("var output buffer too small for result")

	// ErrCellTypeMismatch indicates an input buffer's decoded cells do not
	// have the type the aggregator was constructed for. This is a caller
	// bug, not a data condition.
	ErrCellTypeMismatch = errors.New("input cell type does not match aggregator")

	// ErrRecomputeNotSupported is the hard failure raised when a var-length
	// result overflows its destination after a sibling aggregate in the same
	// channel was already committed for this step. There is no retry path;
	// the read step must abort.
	ErrRecomputeNotSupported = errors.New("var buffer overflow after aggregate already computed; recompute not supported")
)
