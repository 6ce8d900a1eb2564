package aggregate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/arraydb/tileagg/pkg/field"
)

// MinMaxAggregator tracks the extremal non-null selected value over numeric
// cells of type T. The compare-and-replace runs under a mutex; there is no
// overflow to handle.
type MinMaxAggregator[T Numeric] struct {
	field field.Info
	min   bool

	mu       sync.Mutex
	value    T
	set      bool
	validity bool // meaningful only for nullable fields
}

var _ Aggregator = (*MinMaxAggregator[int32])(nil)

// NewMin returns a MIN aggregator over the given numeric field.
func NewMin[T Numeric](f field.Info) (*MinMaxAggregator[T], error) {
	return newMinMax[T](f, true)
}

// NewMax returns a MAX aggregator over the given numeric field.
func NewMax[T Numeric](f field.Info) (*MinMaxAggregator[T], error) {
	return newMinMax[T](f, false)
}

func newMinMax[T Numeric](f field.Info, min bool) (*MinMaxAggregator[T], error) {
	name := NameMax
	if min {
		name = NameMin
	}
	if err := validateNumericInput(name, f); err != nil {
		return nil, err
	}
	return &MinMaxAggregator[T]{field: f, min: min}, nil
}

func (a *MinMaxAggregator[T]) AggregateName() string {
	if a.min {
		return NameMin
	}
	return NameMax
}

func (a *MinMaxAggregator[T]) FieldName() string { return a.field.Name }

func (a *MinMaxAggregator[T]) VarSized() bool { return false }

func (a *MinMaxAggregator[T]) NeedRecomputeOnOverflow() bool { return false }

func (a *MinMaxAggregator[T]) ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	return validateFixedResult(outputField, buffers, a.field.Type.Size(), a.field.Nullable)
}

func (a *MinMaxAggregator[T]) AggregateData(b *Buffer) error {
	cells, err := fixedCells[T](b)
	if err != nil {
		return err
	}
	value, set, count := minMaxWithCount(b, cells, a.min)
	if set {
		a.update(value, count)
	}
	return nil
}

func (a *MinMaxAggregator[T]) AggregateTileMetadata(md TileMetadata) {
	stat := md.Min
	if !a.min {
		stat = md.Max
	}
	value, ok := metadataAs[T](stat)
	count := md.Count - md.NullCount
	if !ok || count == 0 {
		return
	}
	a.update(value, count)
}

// update replaces the tracked value when the candidate improves on it.
// count is the weight-adjusted number of cells the candidate stands for;
// a zero count contributes nothing.
func (a *MinMaxAggregator[T]) update(candidate T, count uint64) {
	if count == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set || (a.min && candidate < a.value) || (!a.min && candidate > a.value) {
		a.value = candidate
		a.set = true
	}
	a.validity = true
}

func (a *MinMaxAggregator[T]) CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}

	a.mu.Lock()
	value, validity := a.value, a.validity
	a.mu.Unlock()

	putScalar(qb.Data, value)
	if a.field.Nullable {
		qb.Validity[0] = validityByte(validity)
	}
	qb.setSizes(a.field.Type.Size(), 0, a.field.Nullable)
	return nil
}

// StringMinMaxAggregator tracks the extremal string value, compared
// bytewise, over fixed-width or var-sized string cells. The var-sized form
// materializes a single offset plus the payload bytes.
type StringMinMaxAggregator struct {
	field field.Info
	min   bool

	mu       sync.Mutex
	value    []byte
	set      bool
	validity bool // meaningful only for nullable fields
}

var _ Aggregator = (*StringMinMaxAggregator)(nil)

// NewStringMin returns a MIN aggregator over the given string field.
func NewStringMin(f field.Info) (*StringMinMaxAggregator, error) {
	return newStringMinMax(f, true)
}

// NewStringMax returns a MAX aggregator over the given string field.
func NewStringMax(f field.Info) (*StringMinMaxAggregator, error) {
	return newStringMinMax(f, false)
}

func newStringMinMax(f field.Info, min bool) (*StringMinMaxAggregator, error) {
	name := NameMax
	if min {
		name = NameMin
	}
	if err := validateStringInput(name, f); err != nil {
		return nil, err
	}
	return &StringMinMaxAggregator{field: f, min: min}, nil
}

func (a *StringMinMaxAggregator) AggregateName() string {
	if a.min {
		return NameMin
	}
	return NameMax
}

func (a *StringMinMaxAggregator) FieldName() string { return a.field.Name }

func (a *StringMinMaxAggregator) VarSized() bool { return a.field.VarSized }

func (a *StringMinMaxAggregator) NeedRecomputeOnOverflow() bool { return false }

func (a *StringMinMaxAggregator) ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	if a.field.VarSized {
		return validateVarResult(outputField, buffers, 8, a.field.Nullable)
	}
	return validateFixedResult(outputField, buffers, uint64(a.field.CellValNum), a.field.Nullable)
}

func (a *StringMinMaxAggregator) AggregateData(b *Buffer) error {
	value, set, count, err := stringMinMaxWithCount(b, a.field.VarSized, int(a.field.CellValNum), a.min)
	if err != nil {
		return err
	}
	if set {
		a.update(value, count)
	}
	return nil
}

func (a *StringMinMaxAggregator) AggregateTileMetadata(md TileMetadata) {
	stat := md.Min
	if !a.min {
		stat = md.Max
	}
	value, ok := metadataAs[[]byte](stat)
	count := md.Count - md.NullCount
	if !ok || count == 0 {
		return
	}
	a.update(value, count)
}

// update replaces the tracked value when the candidate improves on it. The
// candidate may alias a tile buffer, so it is copied on replacement.
func (a *StringMinMaxAggregator) update(candidate []byte, count uint64) {
	if count == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set || better(candidate, a.value, a.min) {
		a.value = append(a.value[:0], candidate...)
		a.set = true
	}
	a.validity = true
}

func better(candidate, current []byte, min bool) bool {
	c := bytes.Compare(candidate, current)
	if min {
		return c < 0
	}
	return c > 0
}

func (a *StringMinMaxAggregator) CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}

	a.mu.Lock()
	value, set, validity := a.value, a.set, a.validity
	a.mu.Unlock()

	if a.field.VarSized {
		if set && uint64(len(value)) > qb.OriginalVarSize {
			return fmt.Errorf("%w: field %q needs %d bytes, have %d",
				ErrVarBufferTooSmall, outputField, len(value), qb.OriginalVarSize)
		}
		binary.LittleEndian.PutUint64(qb.Data, 0)
		var n uint64
		if set {
			copy(qb.Var, value)
			n = uint64(len(value))
		}
		if a.field.Nullable {
			qb.Validity[0] = validityByte(validity)
		}
		qb.setSizes(8, n, a.field.Nullable)
		return nil
	}

	// Fixed-width string: raw bytes, zero-filled if no value was ever set.
	for i := range qb.Data {
		qb.Data[i] = 0
	}
	copy(qb.Data, value)
	if a.field.Nullable {
		qb.Validity[0] = validityByte(validity)
	}
	qb.setSizes(uint64(a.field.CellValNum), 0, a.field.Nullable)
	return nil
}

// putScalar writes one numeric value at its native width, little-endian.
func putScalar[T Numeric](dst []byte, v T) {
	switch x := any(v).(type) {
	case int8:
		dst[0] = byte(x)
	case uint8:
		dst[0] = x
	case int16:
		binary.LittleEndian.PutUint16(dst, uint16(x))
	case uint16:
		binary.LittleEndian.PutUint16(dst, x)
	case int32:
		binary.LittleEndian.PutUint32(dst, uint32(x))
	case uint32:
		binary.LittleEndian.PutUint32(dst, x)
	case int64:
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case uint64:
		binary.LittleEndian.PutUint64(dst, x)
	case float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	}
}
