package aggregate

import (
	"errors"
	"testing"

	"github.com/arraydb/tileagg/pkg/field"
)

func TestMakeOperationDispatch(t *testing.T) {
	tests := []struct {
		name     string
		agg      string
		field    *field.Info
		wantName string
	}{
		{"count is nullary", NameCount, nil, NameCount},
		{"sum int32", NameSum, ptr(field.New("a", field.Int32, false)), NameSum},
		{"mean uint8", NameMean, ptr(field.New("a", field.Uint8, true)), NameMean},
		{"min float64", NameMin, ptr(field.New("a", field.Float64, false)), NameMin},
		{"max var string", NameMax, ptr(field.NewVar("a", field.String, false)), NameMax},
		{"null count", NameNullCount, ptr(field.New("a", field.Int64, true)), NameNullCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := MakeOperation(tt.agg, tt.field)
			if err != nil {
				t.Fatalf("MakeOperation: %v", err)
			}
			if a.AggregateName() != tt.wantName {
				t.Errorf("AggregateName() = %q, want %q", a.AggregateName(), tt.wantName)
			}
		})
	}
}

func TestMakeOperationNormalizesName(t *testing.T) {
	a, err := MakeOperation(" SUM ", ptr(field.New("a", field.Int32, false)))
	if err != nil {
		t.Fatalf("MakeOperation: %v", err)
	}
	if a.AggregateName() != NameSum {
		t.Errorf("AggregateName() = %q, want sum", a.AggregateName())
	}
}

func TestMakeOperationUnknownAggregate(t *testing.T) {
	_, err := MakeOperation("median", ptr(field.New("a", field.Int32, false)))
	if !errors.Is(err, ErrUnknownAggregate) {
		t.Errorf("err = %v, want ErrUnknownAggregate", err)
	}
}

func TestMakeOperationTypeRules(t *testing.T) {
	strField := ptr(field.NewVar("s", field.String, false))

	if _, err := MakeOperation(NameSum, strField); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Errorf("sum on string: err = %v, want ErrUnsupportedDatatype", err)
	}
	if _, err := MakeOperation(NameMean, strField); !errors.Is(err, ErrUnsupportedDatatype) {
		t.Errorf("mean on string: err = %v, want ErrUnsupportedDatatype", err)
	}
	if _, err := MakeOperation(NameMin, strField); err != nil {
		t.Errorf("min on string should be allowed, got %v", err)
	}
}

// Invalid field shapes must be rejected identically by the factory and by
// the type-specialized constructors.
func TestFactoryAndDirectConstructionValidateAlike(t *testing.T) {
	multiVal := field.Info{Name: "a", Type: field.Int32, CellValNum: 4}
	varNumeric := field.Info{Name: "a", Type: field.Int32, CellValNum: field.CellValNumVar, VarSized: true}
	badVarString := field.Info{Name: "a", Type: field.String, CellValNum: 3, VarSized: true}

	cases := []struct {
		name    string
		factory func() error
		direct  func() error
		wantErr error
	}{
		{
			"sum with multi-value cells",
			func() error { _, err := MakeOperation(NameSum, &multiVal); return err },
			func() error { _, err := NewSum[int32, int64](multiVal); return err },
			ErrInvalidCellValNum,
		},
		{
			"mean on var-sized numeric",
			func() error { _, err := MakeOperation(NameMean, &varNumeric); return err },
			func() error { _, err := NewMean[int32](varNumeric); return err },
			ErrVarSized,
		},
		{
			"min with multi-value cells",
			func() error { _, err := MakeOperation(NameMin, &multiVal); return err },
			func() error { _, err := NewMin[int32](multiVal); return err },
			ErrInvalidCellValNum,
		},
		{
			"max on var string with bad cell_val_num",
			func() error { _, err := MakeOperation(NameMax, &badVarString); return err },
			func() error { _, err := NewStringMax(badVarString); return err },
			ErrInvalidCellValNum,
		},
		{
			"null count on non-nullable",
			func() error {
				f := field.New("a", field.Int32, false)
				_, err := MakeOperation(NameNullCount, &f)
				return err
			},
			func() error { _, err := NewNullCount(field.New("a", field.Int32, false)); return err },
			ErrNotNullable,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.factory(); !errors.Is(err, tt.wantErr) {
				t.Errorf("factory err = %v, want %v", err, tt.wantErr)
			}
			if err := tt.direct(); !errors.Is(err, tt.wantErr) {
				t.Errorf("direct err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMakeOperationNilFieldRejected(t *testing.T) {
	for _, name := range []string{NameSum, NameMean, NameMin, NameMax, NameNullCount} {
		if _, err := MakeOperation(name, nil); err == nil {
			t.Errorf("%s with nil field should fail", name)
		}
	}
}

func ptr(f field.Info) *field.Info { return &f }
