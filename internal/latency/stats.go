package latency

import (
	"fmt"
	"math"
	"sort"

	"github.com/edgecheck/edgecheck/pkg/types"
)

// Median returns the middle value of samples, or the mean of the two middle
// values for an even count. It reports false for an empty set. samples is not
// modified.
func Median(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// MedianPtr is Median with nil standing for "undefined".
func MedianPtr(samples []float64) *float64 {
	m, ok := Median(samples)
	if !ok {
		return nil
	}
	return &m
}

// Classify maps a median RTT in milliseconds to a verdict. 20 and 50 both fall
// in the very-good band, 80 is still acceptable.
func Classify(medianMs float64) types.Verdict {
	switch {
	case medianMs < 20:
		return types.VerdictExcellent
	case medianMs <= 50:
		return types.VerdictVeryGood
	case medianMs <= 80:
		return types.VerdictAcceptable
	default:
		return types.VerdictPoor
	}
}

// FormatMs renders sub-100ms values with one decimal and larger ones rounded.
func FormatMs(ms float64) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return ""
	}
	if ms < 100 {
		return fmt.Sprintf("%.1f ms", ms)
	}
	return fmt.Sprintf("%d ms", int64(math.Round(ms)))
}

// Describe returns a short human description of a verdict.
func Describe(v types.Verdict) string {
	switch v {
	case types.VerdictExcellent:
		return "Excellent: optimal conditions for streaming"
	case types.VerdictVeryGood:
		return "Very good: very good conditions for streaming"
	case types.VerdictAcceptable:
		return "Acceptable: occasional buffering possible"
	case types.VerdictPoor:
		return "Poor: high latency, buffering expected"
	default:
		return ""
	}
}
