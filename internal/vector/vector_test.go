package vector

import (
	"testing"
)

type celsius float64

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		got  Kind
		want Kind
	}{
		{"int32", KindOf[int32](), Int32},
		{"int64", KindOf[int64](), Int64},
		{"byte", KindOf[byte](), Byte},
		{"float32", KindOf[float32](), Float32},
		{"float64", KindOf[float64](), Float64},
		{"named float64", KindOf[celsius](), Float64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("KindOf = %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"int32": Int32, "INT": Int32, "long": Int64, "uint8": Byte,
		"byte": Byte, "float": Float32, "Double": Float64, " float64 ": Float64,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseKind("complex128"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestKindString(t *testing.T) {
	for k := Int32; k <= Float64; k++ {
		back, err := ParseKind(k.String())
		if err != nil || back != k {
			t.Errorf("kind %d: String %q does not parse back (%v)", k, k.String(), err)
		}
	}
	if !Byte.IsInteger() || Float32.IsInteger() {
		t.Error("IsInteger mismatch")
	}
}

func TestParseVector(t *testing.T) {
	v, err := ParseVector[int32]("[1, -2 3]")
	if err != nil {
		t.Fatalf("ParseVector: %v", err)
	}
	if len(v) != 3 || v[0] != 1 || v[1] != -2 || v[2] != 3 {
		t.Errorf("got %v", v)
	}

	f, err := ParseVector[float64]("0.5,1e3")
	if err != nil {
		t.Fatalf("ParseVector float: %v", err)
	}
	if f[0] != 0.5 || f[1] != 1000 {
		t.Errorf("got %v", f)
	}

	if _, err := ParseVector[byte]("1,256"); err == nil {
		t.Error("expected out-of-range error for byte")
	}
	if _, err := ParseVector[int64]("1.5"); err == nil {
		t.Error("expected error for fractional integer")
	}
	if _, err := ParseVector[float32](" [ ] "); err == nil {
		t.Error("expected error for empty vector")
	}
}

func TestFloat64sAndFormat(t *testing.T) {
	w := Float64s([]byte{0, 255})
	if w[0] != 0 || w[1] != 255 {
		t.Errorf("Float64s = %v", w)
	}
	if s := Format([]float32{1, 0.5}); s != "[1, 0.5]" {
		t.Errorf("Format = %q", s)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	in := []celsius{1.5, -2}
	raw := Canonical(in)
	if _, ok := raw.([]float64); !ok {
		t.Fatalf("Canonical = %T, want []float64", raw)
	}
	back, err := FromCanonical[celsius](raw)
	if err != nil {
		t.Fatal(err)
	}
	if back[0] != 1.5 || back[1] != -2 {
		t.Errorf("round trip = %v", back)
	}
	if _, err := FromCanonical[int32]([]float32{1}); err == nil {
		t.Error("expected kind mismatch error")
	}
}
