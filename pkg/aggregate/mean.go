package aggregate

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/arraydb/tileagg/pkg/field"
)

// MeanAggregator accumulates a float64 sum and a cell count over numeric
// cells of type T and materializes their quotient. It owns its own sum,
// count and overflow state rather than sharing a sum aggregator's.
//
// A zero count is not an error: the quotient is then NaN and, for nullable
// fields, the result validity byte is 0. Overflow follows the same sticky
// discipline as SumAggregator, in double precision.
type MeanAggregator[T Numeric] struct {
	field field.Info

	mu         sync.Mutex
	sum        float64
	count      uint64
	validity   bool // meaningful only for nullable fields
	overflowed bool
}

var _ Aggregator = (*MeanAggregator[float64])(nil)

// NewMean returns a MEAN aggregator over the given numeric field.
func NewMean[T Numeric](f field.Info) (*MeanAggregator[T], error) {
	if err := validateNumericInput(NameMean, f); err != nil {
		return nil, err
	}
	return &MeanAggregator[T]{field: f}, nil
}

func (a *MeanAggregator[T]) AggregateName() string { return NameMean }

func (a *MeanAggregator[T]) FieldName() string { return a.field.Name }

func (a *MeanAggregator[T]) VarSized() bool { return false }

func (a *MeanAggregator[T]) NeedRecomputeOnOverflow() bool { return true }

func (a *MeanAggregator[T]) ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	return validateFixedResult(outputField, buffers, 8, a.field.Nullable)
}

func (a *MeanAggregator[T]) AggregateData(b *Buffer) error {
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

	partial, count, overflow := sumWithCount[T, float64](b, cells)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fold(partial, count, overflow)
	return nil
}

func (a *MeanAggregator[T]) AggregateTileMetadata(md TileMetadata) {
	sum, ok := sumAsFloat(md.Sum)
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
func (a *MeanAggregator[T]) fold(partial float64, count uint64, overflow bool) {
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

func (a *MeanAggregator[T]) CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}

	a.mu.Lock()
	sum, count, validity, overflowed := a.sum, a.count, a.validity, a.overflowed
	a.mu.Unlock()

	// count == 0 yields 0/0 == NaN, which is the defined result for an
	// all-null or all-excluded nullable input.
	result := sum / float64(count)
	if overflowed {
		result = math.MaxFloat64
	}
	binary.LittleEndian.PutUint64(qb.Data, math.Float64bits(result))
	if a.field.Nullable {
		qb.Validity[0] = validityByte(validity)
	}
	qb.setSizes(8, 0, a.field.Nullable)
	return nil
}

// sumAsFloat widens a tile-metadata sum of any accumulator type to float64.
func sumAsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
