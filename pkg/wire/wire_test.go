package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/arraydb/tileagg/pkg/aggregate"
	"github.com/arraydb/tileagg/pkg/field"
)

func sampleSpec() ChannelSpec {
	price := field.New("price", field.Float64, true)
	name := field.NewVar("name", field.String, false)
	return ChannelSpec{
		Name: "stats",
		Ops: []OperationSpec{
			{Aggregate: aggregate.NameCount, OutputField: "rows"},
			{Aggregate: aggregate.NameSum, OutputField: "price_sum", Field: &price},
			{Aggregate: aggregate.NameNullCount, OutputField: "price_nulls", Field: &price},
			{Aggregate: aggregate.NameMin, OutputField: "first_name", Field: &name},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := sampleSpec()
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Name != want.Name {
		t.Errorf("Name = %q, want %q", got.Name, want.Name)
	}
	if len(got.Ops) != len(want.Ops) {
		t.Fatalf("len(Ops) = %d, want %d", len(got.Ops), len(want.Ops))
	}
	for i, w := range want.Ops {
		g := got.Ops[i]
		if g.Aggregate != w.Aggregate || g.OutputField != w.OutputField {
			t.Errorf("op %d = %s/%s, want %s/%s", i, g.Aggregate, g.OutputField, w.Aggregate, w.OutputField)
		}
		if (g.Field == nil) != (w.Field == nil) {
			t.Errorf("op %d field presence mismatch", i)
			continue
		}
		if g.Field != nil && *g.Field != *w.Field {
			t.Errorf("op %d field = %+v, want %+v", i, *g.Field, *w.Field)
		}
	}
}

func TestDecodedSpecBuildsChannel(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleSpec()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cs, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ch, err := cs.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fields := ch.OutputFields()
	wantOrder := []string{"rows", "price_sum", "price_nulls", "first_name"}
	for i, name := range wantOrder {
		if fields[i] != name {
			t.Errorf("OutputFields()[%d] = %q, want %q", i, fields[i], name)
		}
	}

	agg, ok := ch.Aggregate("first_name")
	if !ok {
		t.Fatal("first_name not bound")
	}
	if !agg.VarSized() {
		t.Error("min over a var string field should be var-sized")
	}
}

func TestEncodeEmptyChannel(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, ChannelSpec{Name: "empty"})
	if !errors.Is(err, ErrEmptyChannel) {
		t.Errorf("err = %v, want ErrEmptyChannel", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty channel wrote %d bytes, want 0", buf.Len())
	}
}

func TestEncodeOversizedName(t *testing.T) {
	long := strings.Repeat("x", math.MaxUint16+1)
	var buf bytes.Buffer
	err := Encode(&buf, ChannelSpec{
		Name: "stats",
		Ops:  []OperationSpec{{Aggregate: aggregate.NameCount, OutputField: long}},
	})
	if !errors.Is(err, ErrStringTooLong) {
		t.Errorf("err = %v, want ErrStringTooLong", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], 0xDEADBEEF)
	binary.LittleEndian.PutUint32(payload[4:8], Version)
	if _, err := Decode(bytes.NewReader(payload)); !errors.Is(err, ErrMagicMismatch) {
		t.Errorf("err = %v, want ErrMagicMismatch", err)
	}
}

func TestDecodeBadVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleSpec()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payload := buf.Bytes()
	binary.LittleEndian.PutUint32(payload[4:8], Version+1)
	if _, err := Decode(bytes.NewReader(payload)); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleSpec()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payload := buf.Bytes()

	for _, cut := range []int{0, 4, 8, 12, buf.Len() - 3} {
		if _, err := Decode(bytes.NewReader(payload[:cut])); !errors.Is(err, ErrTruncated) {
			t.Errorf("cut at %d: err = %v, want ErrTruncated", cut, err)
		}
	}
}
