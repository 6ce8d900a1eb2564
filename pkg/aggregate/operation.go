package aggregate

import (
	"fmt"
	"strings"

	"github.com/arraydb/tileagg/pkg/field"
)

// MakeOperation constructs the aggregator for the named aggregate over the
// given input field, dispatching on the field's runtime datatype to pick
// the type-specialized implementation.
//
// COUNT is nullary and ignores f. NULL_COUNT requires a nullable field.
// SUM and MEAN require a numeric field; MIN and MAX accept numeric or
// string fields. Each constructor re-validates the field shape, so direct
// construction rejects the same shapes this factory does.
func MakeOperation(name string, f *field.Info) (Aggregator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameCount:
		return NewCount(), nil
	case NameNullCount:
		if f == nil {
			return nil, fmt.Errorf("%w: null_count requires an input field", ErrUnknownAggregate)
		}
		return wrap(NewNullCount(*f))
	case NameSum:
		if f == nil {
			return nil, fmt.Errorf("%w: sum requires an input field", ErrUnknownAggregate)
		}
		return newSumForType(*f)
	case NameMean:
		if f == nil {
			return nil, fmt.Errorf("%w: mean requires an input field", ErrUnknownAggregate)
		}
		return newMeanForType(*f)
	case NameMin:
		if f == nil {
			return nil, fmt.Errorf("%w: min requires an input field", ErrUnknownAggregate)
		}
		return newMinMaxForType(*f, true)
	case NameMax:
		if f == nil {
			return nil, fmt.Errorf("%w: max requires an input field", ErrUnknownAggregate)
		}
		return newMinMaxForType(*f, false)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregate, name)
	}
}

// wrap narrows a typed constructor result to the Aggregator interface
// without boxing a nil pointer on the error path.
func wrap[A Aggregator](a A, err error) (Aggregator, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newSumForType(f field.Info) (Aggregator, error) {
	switch f.Type {
	case field.Int8:
		return wrap(NewSum[int8, int64](f))
	case field.Int16:
		return wrap(NewSum[int16, int64](f))
	case field.Int32:
		return wrap(NewSum[int32, int64](f))
	case field.Int64:
		return wrap(NewSum[int64, int64](f))
	case field.Uint8:
		return wrap(NewSum[uint8, uint64](f))
	case field.Uint16:
		return wrap(NewSum[uint16, uint64](f))
	case field.Uint32:
		return wrap(NewSum[uint32, uint64](f))
	case field.Uint64:
		return wrap(NewSum[uint64, uint64](f))
	case field.Float32:
		return wrap(NewSum[float32, float64](f))
	case field.Float64:
		return wrap(NewSum[float64, float64](f))
	default:
		return nil, fmt.Errorf("%w: sum on %s field %q", ErrUnsupportedDatatype, f.Type, f.Name)
	}
}

func newMeanForType(f field.Info) (Aggregator, error) {
	switch f.Type {
	case field.Int8:
		return wrap(NewMean[int8](f))
	case field.Int16:
		return wrap(NewMean[int16](f))
	case field.Int32:
		return wrap(NewMean[int32](f))
	case field.Int64:
		return wrap(NewMean[int64](f))
	case field.Uint8:
		return wrap(NewMean[uint8](f))
	case field.Uint16:
		return wrap(NewMean[uint16](f))
	case field.Uint32:
		return wrap(NewMean[uint32](f))
	case field.Uint64:
		return wrap(NewMean[uint64](f))
	case field.Float32:
		return wrap(NewMean[float32](f))
	case field.Float64:
		return wrap(NewMean[float64](f))
	default:
		return nil, fmt.Errorf("%w: mean on %s field %q", ErrUnsupportedDatatype, f.Type, f.Name)
	}
}

func newMinMaxForType(f field.Info, min bool) (Aggregator, error) {
	if min {
		switch f.Type {
		case field.Int8:
			return wrap(NewMin[int8](f))
		case field.Int16:
			return wrap(NewMin[int16](f))
		case field.Int32:
			return wrap(NewMin[int32](f))
		case field.Int64:
			return wrap(NewMin[int64](f))
		case field.Uint8:
			return wrap(NewMin[uint8](f))
		case field.Uint16:
			return wrap(NewMin[uint16](f))
		case field.Uint32:
			return wrap(NewMin[uint32](f))
		case field.Uint64:
			return wrap(NewMin[uint64](f))
		case field.Float32:
			return wrap(NewMin[float32](f))
		case field.Float64:
			return wrap(NewMin[float64](f))
		case field.String:
			return wrap(NewStringMin(f))
		}
	} else {
		switch f.Type {
		case field.Int8:
			return wrap(NewMax[int8](f))
		case field.Int16:
			return wrap(NewMax[int16](f))
		case field.Int32:
			return wrap(NewMax[int32](f))
		case field.Int64:
			return wrap(NewMax[int64](f))
		case field.Uint8:
			return wrap(NewMax[uint8](f))
		case field.Uint16:
			return wrap(NewMax[uint16](f))
		case field.Uint32:
			return wrap(NewMax[uint32](f))
		case field.Uint64:
			return wrap(NewMax[uint64](f))
		case field.Float32:
			return wrap(NewMax[float32](f))
		case field.Float64:
			return wrap(NewMax[float64](f))
		case field.String:
			return wrap(NewStringMax(f))
		}
	}
	name := NameMax
	if min {
		name = NameMin
	}
	return nil, fmt.Errorf("%w: %s on %s field %q", ErrUnsupportedDatatype, name, f.Type, f.Name)
}
