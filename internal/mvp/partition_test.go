package mvp

import (
	"testing"
)

func TestComputeSplits(t *testing.T) {
	cases := []struct {
		name   string
		sorted []float64
		bf     int
		want   []float64
	}{
		{"median even", []float64{1, 2, 3, 4}, 2, []float64{3}},
		{"median odd", []float64{1, 2, 3}, 2, []float64{2.5}},
		{"quartiles", []float64{0, 1, 2, 3, 4, 5, 6, 7}, 4, []float64{2, 4, 6}},
		{"single sample", []float64{5}, 3, []float64{5, 5}},
		{"high clamp", []float64{1, 9}, 3, []float64{5, 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := make([]float64, tc.bf-1)
			computeSplits(tc.sorted, tc.bf, out)
			for i := range out {
				if out[i] != tc.want[i] {
					t.Fatalf("splits = %v, want %v", out, tc.want)
				}
			}
		})
	}
}

func TestBucketOf(t *testing.T) {
	seg := []float64{1, 3, 3, 5}
	cases := map[float64]int{0: 0, 1: 0, 1.5: 1, 3: 1, 4: 3, 5: 3, 5.1: 4}
	for d, want := range cases {
		if got := bucketOf(d, seg); got != want {
			t.Errorf("bucketOf(%v) = %d, want %d", d, got, want)
		}
	}
}

func TestPruningTolerance(t *testing.T) {
	if !within(1.0000000001, 1) {
		t.Error("within should absorb rounding")
	}
	if within(1.1, 1) {
		t.Error("within should reject a clear excess")
	}
	if !exceeds(0.9999999999, 1) {
		t.Error("exceeds should absorb rounding")
	}
	if exceeds(0.9, 1) {
		t.Error("exceeds should reject a clear shortfall")
	}
	if !admits([]float64{1, 2}, []float64{1.5, 2}, 0.5) {
		t.Error("admits should accept a path within radius")
	}
	if admits([]float64{1, 2}, []float64{1.5, 3}, 0.5) {
		t.Error("admits should reject a path outside radius")
	}
}
