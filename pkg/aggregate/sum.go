package aggregate

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/arraydb/tileagg/pkg/field"
)

// SumAggregator accumulates a widened sum over numeric cells of type T.
// S is the widened accumulator type: int64 for signed integer cells, uint64
// for unsigned integer cells, float64 for floats.
//
// Overflow is sticky: once an AggregateData call wraps the accumulator, the
// sum, count and validity stop changing and the materialized result is the
// maximum representable value of S. The sum, count and flags are updated as
// one unit under a mutex.
type SumAggregator[T Numeric, S SumValue] struct {
	field field.Info

	mu         sync.Mutex
	sum        S
	count      uint64
	validity   bool // meaningful only for nullable fields
	overflowed bool
}

var _ Aggregator = (*SumAggregator[int64, int64])(nil)

// NewSum returns a SUM aggregator over the given numeric field. The caller
// instantiates T to match the field's datatype; MakeOperation does this
// dispatch from a runtime Datatype.
func NewSum[T Numeric, S SumValue](f field.Info) (*SumAggregator[T, S], error) {
	if err := validateNumericInput(NameSum, f); err != nil {
		return nil, err
	}
	return &SumAggregator[T, S]{field: f}, nil
}

func (a *SumAggregator[T, S]) AggregateName() string { return NameSum }

func (a *SumAggregator[T, S]) FieldName() string { return a.field.Name }

func (a *SumAggregator[T, S]) VarSized() bool { return false }

func (a *SumAggregator[T, S]) NeedRecomputeOnOverflow() bool { return true }

func (a *SumAggregator[T, S]) ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	return validateFixedResult(outputField, buffers, 8, a.field.Nullable)
}

func (a *SumAggregator[T, S]) AggregateData(b *Buffer) error {
	cells, err := fixedCells[T](b)
	if err != nil {
		return err
	}

	a.mu.Lock()
	overflowed := a.overflowed
	a.mu.Unlock()
	if overflowed {
		return nil
	}

	partial, count, overflow := sumWithCount[T, S](b, cells)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fold(partial, count, overflow)
	return nil
}

func (a *SumAggregator[T, S]) AggregateTileMetadata(md TileMetadata) {
	sum, ok := metadataAs[S](md.Sum)
	count := md.Count - md.NullCount
	if !ok || count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fold(sum, count, false)
}

// fold merges one partial (sum, count) into the accumulator. Must be called
// with the mutex held.
func (a *SumAggregator[T, S]) fold(partial S, count uint64, overflow bool) {
	if a.overflowed {
		return
	}
	if overflow {
		a.overflowed = true
		a.validity = true
		return
	}
	sum, ok := SafeAdd(a.sum, partial)
	if !ok {
		a.overflowed = true
		a.validity = true
		return
	}
	a.sum = sum
	a.count += count
	if count > 0 {
		a.validity = true
	}
}

func (a *SumAggregator[T, S]) CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}

	a.mu.Lock()
	sum, validity, overflowed := a.sum, a.validity, a.overflowed
	a.mu.Unlock()

	if overflowed {
		sum = maxSumValue[S]()
	}
	putSumValue(qb.Data, sum)
	if a.field.Nullable {
		qb.Validity[0] = validityByte(validity)
	}
	qb.setSizes(8, 0, a.field.Nullable)
	return nil
}

// putSumValue writes a widened accumulator value as 8 little-endian bytes.
func putSumValue[S SumValue](dst []byte, v S) {
	switch x := any(v).(type) {
	case int64:
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case uint64:
		binary.LittleEndian.PutUint64(dst, x)
	case float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	}
}

func validityByte(valid bool) uint8 {
	if valid {
		return 1
	}
	return 0
}
