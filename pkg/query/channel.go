// Package query binds aggregators to output fields and drives them over a
// stream of decoded tiles for one read step.
package query

import (
	"errors"
	"fmt"

	"github.com/arraydb/tileagg/pkg/aggregate"
)

var (
	// ErrDuplicateOutputField indicates an output field name was registered
	// twice on the same channel.
	ErrDuplicateOutputField = errors.New("output field already registered on channel")
	// ErrChannelSealed indicates an aggregate was added after the channel's
	// query began initializing.
	ErrChannelSealed = errors.New("channel sealed: query already initializing")
)

// Channel is a named collection of output-field to aggregator bindings
// evaluated together during one query. The unnamed channel is the query's
// default channel.
//
// A channel is mutable only until Seal is called; the read-step driver
// seals it before aggregation starts.
type Channel struct {
	name   string
	sealed bool
	order  []string
	aggs   map[string]aggregate.Aggregator
}

// NewChannel creates an empty channel with the given name.
func NewChannel(name string) *Channel {
	return &Channel{
		name: name,
		aggs: make(map[string]aggregate.Aggregator),
	}
}

// DefaultChannel creates the query's unnamed default channel.
func DefaultChannel() *Channel {
	return NewChannel("")
}

// Name returns the channel name; empty for the default channel.
func (c *Channel) Name() string { return c.name }

// IsEmpty reports whether no aggregates are bound. An empty channel is
// treated as absent at the serialization boundary, not as an empty set.
func (c *Channel) IsEmpty() bool { return len(c.aggs) == 0 }

// AddAggregate binds an aggregator to an output field name.
func (c *Channel) AddAggregate(outputField string, agg aggregate.Aggregator) error {
	if c.sealed {
		return fmt.Errorf("%w: cannot add %q", ErrChannelSealed, outputField)
	}
	if _, ok := c.aggs[outputField]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateOutputField, outputField)
	}
	c.aggs[outputField] = agg
	c.order = append(c.order, outputField)
	return nil
}

// Aggregate returns the aggregator bound to an output field.
func (c *Channel) Aggregate(outputField string) (aggregate.Aggregator, bool) {
	a, ok := c.aggs[outputField]
	return a, ok
}

// OutputFields returns the bound output field names in registration order.
func (c *Channel) OutputFields() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Seal freezes the channel's bindings. Further AddAggregate calls fail.
func (c *Channel) Seal() { c.sealed = true }
