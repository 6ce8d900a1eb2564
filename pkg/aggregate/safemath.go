package aggregate

import "math"

// Numeric constrains the cell types the numeric aggregates operate on.
type Numeric interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

// SumValue constrains the widened accumulator types: int64 for signed
// integer cells, uint64 for unsigned integer cells, float64 for floats.
type SumValue interface {
	int64 | uint64 | float64
}

// SafeAdd adds b to a, reporting false on signed/unsigned wraparound or
// floating-point overflow. The first return value is meaningless when the
// second is false.
func SafeAdd[S SumValue](a, b S) (S, bool) {
	switch x := any(a).(type) {
	case int64:
		y := any(b).(int64)
		if y > 0 && x > math.MaxInt64-y {
			return a, false
		}
		if y < 0 && x < math.MinInt64-y {
			return a, false
		}
		return S(x + y), true
	case uint64:
		y := any(b).(uint64)
		if x > math.MaxUint64-y {
			return a, false
		}
		return S(x + y), true
	case float64:
		y := any(b).(float64)
		r := x + y
		if math.IsInf(r, 0) && !math.IsInf(x, 0) && !math.IsInf(y, 0) {
			return a, false
		}
		return S(r), true
	}
	return a, false
}

// safeMulWeight scales a value by a repetition weight, reporting false on
// overflow.
func safeMulWeight[S SumValue](v S, w uint64) (S, bool) {
	if w == 1 {
		return v, true
	}
	switch x := any(v).(type) {
	case int64:
		if x == 0 || w == 0 {
			return S(int64(0)), true
		}
		if w > math.MaxInt64 {
			return v, false
		}
		m := int64(w)
		r := x * m
		if r/m != x {
			return v, false
		}
		return S(r), true
	case uint64:
		if x == 0 || w == 0 {
			return S(uint64(0)), true
		}
		r := x * w
		if r/w != x {
			return v, false
		}
		return S(r), true
	case float64:
		r := x * float64(w)
		if math.IsInf(r, 0) && !math.IsInf(x, 0) {
			return v, false
		}
		return S(r), true
	}
	return v, false
}

// maxSumValue returns the maximum representable value of a widened
// accumulator type, used to saturate overflowed results. The limits go
// through typed variables: constant conversions to S would have to be
// representable in every type of the set.
func maxSumValue[S SumValue]() S {
	var zero S
	switch any(zero).(type) {
	case int64:
		var v int64 = math.MaxInt64
		return S(v)
	case uint64:
		var v uint64 = math.MaxUint64
		return S(v)
	case float64:
		var v float64 = math.MaxFloat64
		return S(v)
	}
	return zero
}
