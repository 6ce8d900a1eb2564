package field

import "testing"

func TestDatatypeNamesRoundTrip(t *testing.T) {
	for d := Datatype(0); d < NumDatatypes; d++ {
		parsed, err := Parse(d.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", d.String(), err)
		}
		if parsed != d {
			t.Errorf("Parse(%q) = %v, want %v", d.String(), parsed, d)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("decimal"); err == nil {
		t.Error("expected error for unknown datatype")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty datatype")
	}
}

func TestParseNormalizesInput(t *testing.T) {
	d, err := Parse("  Float64 ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d != Float64 {
		t.Errorf("got %v, want float64", d)
	}
}

func TestDatatypeSize(t *testing.T) {
	tests := []struct {
		d    Datatype
		want uint64
	}{
		{Int8, 1},
		{Int64, 8},
		{Uint16, 2},
		{Float32, 4},
		{Float64, 8},
		{String, 1},
	}
	for _, tt := range tests {
		if got := tt.d.Size(); got != tt.want {
			t.Errorf("%v.Size() = %d, want %d", tt.d, got, tt.want)
		}
	}
	if got := NumDatatypes.Size(); got != 0 {
		t.Errorf("out-of-range Size() = %d, want 0", got)
	}
}

func TestDatatypePredicates(t *testing.T) {
	for d := Datatype(0); d < NumDatatypes; d++ {
		if d == String {
			if d.IsNumeric() {
				t.Errorf("%v should not be numeric", d)
			}
			if !d.IsString() {
				t.Errorf("%v should be string", d)
			}
			continue
		}
		if !d.IsNumeric() {
			t.Errorf("%v should be numeric", d)
		}
		if d.IsString() {
			t.Errorf("%v should not be string", d)
		}
	}

	if !Int32.IsSigned() || Uint32.IsSigned() || Float64.IsSigned() {
		t.Error("IsSigned misclassifies types")
	}
	if !Float32.IsFloat() || Int8.IsFloat() {
		t.Error("IsFloat misclassifies types")
	}
}

func TestInfoConstructors(t *testing.T) {
	f := New("size", Uint64, true)
	if f.CellValNum != 1 || f.VarSized || !f.Nullable {
		t.Errorf("New produced unexpected shape: %+v", f)
	}

	v := NewVar("name", String, false)
	if v.CellValNum != CellValNumVar || !v.VarSized || v.Nullable {
		t.Errorf("NewVar produced unexpected shape: %+v", v)
	}
}
