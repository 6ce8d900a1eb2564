// Package wire serializes aggregation requests so a coordinator can ship a
// channel's bindings to the node that holds the tiles.
//
// The format is little-endian and versioned. An empty channel is treated as
// absent at this boundary: encoding one is an error, and a decoded request
// always carries at least one operation.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/field"
	"github.com/arraydb/tileagg/pkg/query"
)

const (
	// MagicNumber identifies aggregation request payloads.
	MagicNumber uint32 = 0x54414747 // "TAGG"
	// Version is the current wire version.
	Version uint32 = 1
)

var (
	// ErrMagicMismatch indicates the payload is not an aggregation request.
	ErrMagicMismatch = errors.New("magic number mismatch")
	// ErrVersionMismatch indicates an unsupported wire version.
	ErrVersionMismatch = errors.New("unsupported wire version")
	// ErrTruncated indicates the payload ended mid-record.
	ErrTruncated = errors.New("truncated payload")
	// ErrEmptyChannel indicates an attempt to encode a channel with no
	// operations.
	ErrEmptyChannel = errors.New("empty channel is not materialized")
	// ErrStringTooLong indicates a name exceeds the uint16 length prefix.
	ErrStringTooLong = errors.New("string exceeds wire length limit")
)

// OperationSpec names one aggregate operation and where its result goes.
// Field is nil for the nullary COUNT.
type OperationSpec struct {
	Aggregate   string
	OutputField string
	Field       *field.Info
}

// ChannelSpec is the serializable form of one channel's bindings.
type ChannelSpec struct {
	Name string
	Ops  []OperationSpec
}

// Build constructs the described channel, dispatching each operation
// through the aggregate factory.
func (cs ChannelSpec) Build() (*query.Channel, error) {
	ch := query.NewChannel(cs.Name)
	for _, op := range cs.Ops {
		agg, err := aggregate.MakeOperation(op.Aggregate, op.Field)
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", op.OutputField, err)
		}
		if err := ch.AddAggregate(op.OutputField, agg); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// Encode writes the channel spec to w.
func Encode(w io.Writer, cs ChannelSpec) error {
	if len(cs.Ops) == 0 {
		return ErrEmptyChannel
	}

	var head [8]byte
	binary.LittleEndian.PutUint32(head[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(head[4:8], Version)
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if err := writeString(w, cs.Name); err != nil {
		return fmt.Errorf("write channel name: %w", err)
	}

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(cs.Ops)))
	if _, err := w.Write(count[:]); err != nil {
		return fmt.Errorf("write op count: %w", err)
	}

	for _, op := range cs.Ops {
		if err := writeOp(w, op); err != nil {
			return fmt.Errorf("write op %q: %w", op.OutputField, err)
		}
	}
	return nil
}

// Decode reads one channel spec from r.
func Decode(r io.Reader) (ChannelSpec, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return ChannelSpec{}, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if magic := binary.LittleEndian.Uint32(head[0:4]); magic != MagicNumber {
		return ChannelSpec{}, fmt.Errorf("%w: %#x", ErrMagicMismatch, magic)
	}
	if v := binary.LittleEndian.Uint32(head[4:8]); v != Version {
		return ChannelSpec{}, fmt.Errorf("%w: %d", ErrVersionMismatch, v)
	}

	var cs ChannelSpec
	name, err := readString(r)
	if err != nil {
		return ChannelSpec{}, fmt.Errorf("read channel name: %w", err)
	}
	cs.Name = name

	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return ChannelSpec{}, fmt.Errorf("%w: op count: %v", ErrTruncated, err)
	}
	n := binary.LittleEndian.Uint32(count[:])
	if n == 0 {
		return ChannelSpec{}, ErrEmptyChannel
	}

	cs.Ops = make([]OperationSpec, 0, n)
	for i := uint32(0); i < n; i++ {
		op, err := readOp(r)
		if err != nil {
			return ChannelSpec{}, fmt.Errorf("read op %d: %w", i, err)
		}
		cs.Ops = append(cs.Ops, op)
	}
	return cs, nil
}

func writeOp(w io.Writer, op OperationSpec) error {
	if err := writeString(w, op.Aggregate); err != nil {
		return err
	}
	if err := writeString(w, op.OutputField); err != nil {
		return err
	}

	if op.Field == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	if err := writeString(w, op.Field.Name); err != nil {
		return err
	}
	var fixed [6]byte
	fixed[0] = uint8(op.Field.Type)
	binary.LittleEndian.PutUint32(fixed[1:5], op.Field.CellValNum)
	if op.Field.Nullable {
		fixed[5] = 1
	}
	_, err := w.Write(fixed[:])
	return err
}

func readOp(r io.Reader) (OperationSpec, error) {
	var op OperationSpec
	var err error
	if op.Aggregate, err = readString(r); err != nil {
		return OperationSpec{}, err
	}
	if op.OutputField, err = readString(r); err != nil {
		return OperationSpec{}, err
	}

	var has [1]byte
	if _, err := io.ReadFull(r, has[:]); err != nil {
		return OperationSpec{}, fmt.Errorf("%w: field flag: %v", ErrTruncated, err)
	}
	if has[0] == 0 {
		return op, nil
	}

	name, err := readString(r)
	if err != nil {
		return OperationSpec{}, err
	}
	var fixed [6]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return OperationSpec{}, fmt.Errorf("%w: field info: %v", ErrTruncated, err)
	}
	cellValNum := binary.LittleEndian.Uint32(fixed[1:5])
	op.Field = &field.Info{
		Name:       name,
		Type:       field.Datatype(fixed[0]),
		CellValNum: cellValNum,
		VarSized:   cellValNum == field.CellValNumVar,
		Nullable:   fixed[5] != 0,
	}
	return op, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", fmt.Errorf("%w: string length: %v", ErrTruncated, err)
	}
	buf := make([]byte, binary.LittleEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: string bytes: %v", ErrTruncated, err)
	}
	return string(buf), nil
}
