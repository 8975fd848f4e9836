package latency

import (
	"testing"

	"github.com/edgecheck/edgecheck/pkg/types"
)

func TestMedian(t *testing.T) {
	if m, ok := Median([]float64{10, 20, 30}); !ok || m != 20 {
		t.Fatalf("expected 20 got %v (%v)", m, ok)
	}
	if m, ok := Median([]float64{40, 10, 30, 20}); !ok || m != 25 {
		t.Fatalf("expected 25 got %v (%v)", m, ok)
	}
	if _, ok := Median(nil); ok {
		t.Fatalf("median of empty set must be undefined")
	}
	if MedianPtr([]float64{}) != nil {
		t.Fatalf("expected nil median pointer")
	}
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	samples := []float64{30, 10, 20}
	Median(samples)
	if samples[0] != 30 || samples[1] != 10 || samples[2] != 20 {
		t.Fatalf("input reordered: %v", samples)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		median float64
		want   types.Verdict
	}{
		{0, types.VerdictExcellent},
		{19.9, types.VerdictExcellent},
		{20, types.VerdictVeryGood},
		{50, types.VerdictVeryGood},
		{50.1, types.VerdictAcceptable},
		{80, types.VerdictAcceptable},
		{80.1, types.VerdictPoor},
		{450, types.VerdictPoor},
	}
	for _, tc := range cases {
		if got := Classify(tc.median); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.median, got, tc.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	if got := FormatMs(12.345); got != "12.3 ms" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatMs(123.6); got != "124 ms" {
		t.Fatalf("unexpected %q", got)
	}
}
