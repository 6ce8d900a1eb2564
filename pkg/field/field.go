// Package field describes attribute and dimension columns as seen by the
// aggregation layer: the scalar datatype of a cell, whether cells are
// variable-length, and whether the column is nullable.
package field

import (
	"fmt"
	"strings"
)

// Datatype identifies the scalar type of a column's cells.
type Datatype uint8

// Supported cell datatypes.
const (
	Int8 Datatype = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	NumDatatypes // Sentinel value for array sizing
)

// CellValNumVar marks a variable number of values per cell.
const CellValNumVar uint32 = 0xFFFFFFFF

var datatypeNames = [NumDatatypes]string{
	"int8", "int16", "int32", "int64",
	"uint8", "uint16", "uint32", "uint64",
	"float32", "float64", "string",
}

var datatypeSizes = [NumDatatypes]uint64{
	1, 2, 4, 8,
	1, 2, 4, 8,
	4, 8, 1,
}

// String returns the canonical lowercase name of the datatype.
func (d Datatype) String() string {
	if d >= NumDatatypes {
		return fmt.Sprintf("datatype(%d)", uint8(d))
	}
	return datatypeNames[d]
}

// Size returns the width in bytes of a single value of this datatype.
// For String this is the width of one character, not of a whole cell.
func (d Datatype) Size() uint64 {
	if d >= NumDatatypes {
		return 0
	}
	return datatypeSizes[d]
}

// IsNumeric reports whether the datatype is an integer or floating-point type.
func (d Datatype) IsNumeric() bool {
	return d < NumDatatypes && d != String
}

// IsString reports whether the datatype holds character data.
func (d Datatype) IsString() bool {
	return d == String
}

// IsSigned reports whether the datatype is a signed integer type.
func (d Datatype) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsFloat reports whether the datatype is a floating-point type.
func (d Datatype) IsFloat() bool {
	return d == Float32 || d == Float64
}

// Parse returns the datatype with the given canonical name.
func Parse(s string) (Datatype, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range datatypeNames {
		if n == name {
			return Datatype(i), nil
		}
	}
	return 0, fmt.Errorf("unknown datatype: %q", s)
}

// Info is an immutable descriptor of one input or output column.
// It is captured once when an aggregator is constructed.
type Info struct {
	// Name is the attribute or dimension name.
	Name string

	// Type is the scalar datatype of the column's cells.
	Type Datatype

	// CellValNum is the number of values per cell.
	// CellValNumVar marks variable-length cells.
	CellValNum uint32

	// VarSized indicates variable-length cells (offsets into a byte buffer).
	VarSized bool

	// Nullable indicates the column carries per-cell validity bytes.
	Nullable bool
}

// New returns an Info for a fixed-size, single-value column.
func New(name string, t Datatype, nullable bool) Info {
	return Info{
		Name:       name,
		Type:       t,
		CellValNum: 1,
		Nullable:   nullable,
	}
}

// NewVar returns an Info for a variable-length column.
func NewVar(name string, t Datatype, nullable bool) Info {
	return Info{
		Name:       name,
		Type:       t,
		CellValNum: CellValNumVar,
		VarSized:   true,
		Nullable:   nullable,
	}
}
