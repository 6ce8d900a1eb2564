package aggregate

import "bytes"

// The reduction kernels scan one tile window, honoring the buffer's bitmap
// mode and validity bytes. A cell with weight w contributes w logical
// repetitions: sums scale the value by w, counts advance by w, and the scan
// itself stays O(selected cells).

// sumWithCount folds the selected, non-null cells of the window into a
// widened sum. It returns the partial sum, the weight-adjusted number of
// contributing cells, and whether the partial sum itself overflowed.
func sumWithCount[T Numeric, S SumValue](b *Buffer, cells []T) (sum S, count uint64, overflowed bool) {
	for i := b.MinCell; i < b.MaxCell; i++ {
		w := b.Weight(i)
		if w == 0 || !b.CellValid(i) {
			continue
		}
		v := S(cells[i])
		if w != 1 {
			var ok bool
			if v, ok = safeMulWeight(v, w); !ok {
				return sum, count, true
			}
		}
		s, ok := SafeAdd(sum, v)
		if !ok {
			return sum, count, true
		}
		sum = s
		count += w
	}
	return sum, count, false
}

// minMaxWithCount finds the extremal selected, non-null cell value of the
// window. set is false when no cell contributed. count is the
// weight-adjusted number of contributing cells; repetitions do not affect
// the extremum itself.
func minMaxWithCount[T Numeric](b *Buffer, cells []T, min bool) (value T, set bool, count uint64) {
	for i := b.MinCell; i < b.MaxCell; i++ {
		w := b.Weight(i)
		if w == 0 || !b.CellValid(i) {
			continue
		}
		v := cells[i]
		if !set || (min && v < value) || (!min && v > value) {
			value = v
			set = true
		}
		count += w
	}
	return value, set, count
}

// stringMinMaxWithCount is minMaxWithCount for string cells, comparing
// bytewise. For var-sized buffers cells are addressed through the offsets
// in Fixed; otherwise each cell is cellWidth raw bytes. The returned slice
// aliases the buffer and must be copied before it is retained.
func stringMinMaxWithCount(b *Buffer, varSized bool, cellWidth int, min bool) (value []byte, set bool, count uint64, err error) {
	var offsets []uint64
	var raw []byte
	if varSized {
		if offsets, err = fixedCells[uint64](b); err != nil {
			return nil, false, 0, err
		}
	} else {
		if raw, err = fixedCells[byte](b); err != nil {
			return nil, false, 0, err
		}
	}

	for i := b.MinCell; i < b.MaxCell; i++ {
		w := b.Weight(i)
		if w == 0 || !b.CellValid(i) {
			continue
		}
		var v []byte
		if varSized {
			v = b.varCell(offsets, i)
		} else {
			v = raw[i*cellWidth : (i+1)*cellWidth]
		}
		c := bytes.Compare(v, value)
		if !set || (min && c < 0) || (!min && c > 0) {
			value = v
			set = true
		}
		count += w
	}
	return value, set, count, nil
}
