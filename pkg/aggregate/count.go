package aggregate

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/arraydb/tileagg/pkg/field"
)

// CountAggregator counts selected cells (COUNT) or selected null cells
// (NULL_COUNT). The counter is a single atomic word, so any interleaving of
// concurrent AggregateData calls is correct.
type CountAggregator struct {
	policy validityPolicy
	field  field.Info

	count atomic.Uint64
}

var _ Aggregator = (*CountAggregator)(nil)

// NewCount returns a COUNT aggregator. COUNT has no input field and counts
// every selected cell, null or not.
func NewCount() *CountAggregator {
	return &CountAggregator{
		policy: countCells,
		field:  field.Info{Name: CountFieldName},
	}
}

// NewNullCount returns a NULL_COUNT aggregator over the given field, which
// must be nullable.
func NewNullCount(f field.Info) (*CountAggregator, error) {
	if !f.Nullable {
		return nil, fmt.Errorf("%w: null_count on %q", ErrNotNullable, f.Name)
	}
	return &CountAggregator{
		policy: countNulls,
		field:  f,
	}, nil
}

func (a *CountAggregator) AggregateName() string {
	if a.policy == countNulls {
		return NameNullCount
	}
	return NameCount
}

func (a *CountAggregator) FieldName() string { return a.field.Name }

func (a *CountAggregator) VarSized() bool { return false }

func (a *CountAggregator) NeedRecomputeOnOverflow() bool { return false }

// Count returns the current counter value.
func (a *CountAggregator) Count() uint64 { return a.count.Load() }

func (a *CountAggregator) ValidateOutputBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	return validateFixedResult(outputField, buffers, 8, false)
}

func (a *CountAggregator) AggregateData(b *Buffer) error {
	var n uint64
	if a.policy == countCells && !b.HasBitmap() {
		// Whole window, no selection: every cell counts once.
		n = uint64(b.MaxCell - b.MinCell)
	} else {
		for i := b.MinCell; i < b.MaxCell; i++ {
			w := b.Weight(i)
			if w == 0 {
				continue
			}
			if a.policy == countNulls && b.CellValid(i) {
				continue
			}
			n += w
		}
	}
	a.count.Add(n)
	return nil
}

func (a *CountAggregator) AggregateTileMetadata(md TileMetadata) {
	if a.policy == countNulls {
		a.count.Add(md.NullCount)
	} else {
		a.count.Add(md.Count)
	}
}

func (a *CountAggregator) CopyToUserBuffer(outputField string, buffers map[string]*QueryBuffer) error {
	qb, err := lookupBuffer(outputField, buffers)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(qb.Data, a.count.Load())
	qb.setSizes(8, 0, false)
	return nil
}
