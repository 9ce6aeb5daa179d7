package metric

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestL1(t *testing.T) {
	d, err := L1[int32]{}.Distance([]int32{0, 0, 0, 0}, []int32{1, -1, 2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if d != 1 {
		t.Errorf("L1 = %v, want 1", d)
	}
}

func TestL2(t *testing.T) {
	d, err := L2[float64]{}.Distance([]float64{0, 0}, []float64{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if d != 2.5 {
		t.Errorf("L2 = %v, want 2.5", d)
	}
}

func TestHamming(t *testing.T) {
	cases := []struct {
		name string
		d    func() (float64, error)
		want float64
	}{
		{"bytes", func() (float64, error) { return Hamming[byte]{}.Distance([]byte{0xff, 0}, []byte{0, 0}) }, 8},
		{"negative int", func() (float64, error) { return Hamming[int32]{}.Distance([]int32{-1}, []int32{0}) }, 64},
		{"int64", func() (float64, error) { return Hamming[int64]{}.Distance([]int64{5, 1 << 62}, []int64{4, 0}) }, 2},
		{"float truncation", func() (float64, error) { return Hamming[float64]{}.Distance([]float64{3.9}, []float64{2.1}) }, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.d()
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Hamming = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	metrics := []Metric[float32]{L1[float32]{}, L2[float32]{}, Hamming[float32]{}, Func[float32]{MetricName: "zero", Fn: func(a, b []float32) float64 { return 0 }}}
	for _, m := range metrics {
		if _, err := m.Distance([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("%s: expected ErrDimensionMismatch, got %v", m.Name(), err)
		}
	}
}

func TestMetricAxioms(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vec := func() []int32 {
		v := make([]int32, 6)
		for i := range v {
			v[i] = int32(rng.Intn(200) - 100)
		}
		return v
	}
	for _, name := range []string{NameL1, NameL2, NameHamming} {
		m, err := ByName[int32](name)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 200; i++ {
			a, b, c := vec(), vec(), vec()
			daa, _ := m.Distance(a, a)
			dab, _ := m.Distance(a, b)
			dba, _ := m.Distance(b, a)
			dac, _ := m.Distance(a, c)
			dcb, _ := m.Distance(c, b)
			if daa != 0 {
				t.Fatalf("%s: d(a,a) = %v", name, daa)
			}
			if dab < 0 || dab != dba {
				t.Fatalf("%s: d(a,b)=%v d(b,a)=%v", name, dab, dba)
			}
			if dab > dac+dcb+1e-9 {
				t.Fatalf("%s: triangle inequality violated: %v > %v + %v", name, dab, dac, dcb)
			}
		}
	}
}

func TestByName(t *testing.T) {
	for in, want := range map[string]string{"l1": NameL1, "": NameL1, " L2": NameL2, "hamming": NameHamming} {
		m, err := ByName[float64](in)
		if err != nil {
			t.Fatalf("ByName(%q): %v", in, err)
		}
		if m.Name() != want {
			t.Errorf("ByName(%q).Name() = %q, want %q", in, m.Name(), want)
		}
	}
	if _, err := ByName[float64]("cosine"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestFunc(t *testing.T) {
	m := Func[float64]{MetricName: "max", Fn: func(a, b []float64) float64 {
		var d float64
		for i := range a {
			d = math.Max(d, math.Abs(a[i]-b[i]))
		}
		return d
	}}
	d, err := m.Distance([]float64{1, 5}, []float64{2, 1})
	if err != nil || d != 4 {
		t.Errorf("Func distance = %v, %v", d, err)
	}
}
