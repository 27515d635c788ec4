package oracle

import (
	"math"
	"sort"
)

const (
	singleSourceConfidence = 0.7
	minConfidence          = 0.1
	dispersionWeight       = 10.0
)

// aggregate reduces surviving source prices per the feed's method.
// weighted_average is an alias for mean: the configuration schema
// carries no per-source weights.
func aggregate(values []float64, method string) float64 {
	switch method {
	case "median":
		return median(values)
	case "mean", "weighted_average":
		return mean(values)
	default:
		return median(values)
	}
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}

	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// confidence scores agreement between sources: a single source gets a
// fixed 0.7; multiple sources are scored by coefficient of variation,
// clamped to [0.1, 1].
func confidence(values []float64) float64 {
	if len(values) <= 1 {
		return singleSourceConfidence
	}

	avg := mean(values)
	if avg == 0 {
		return minConfidence
	}

	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(values))

	cv := math.Sqrt(variance) / math.Abs(avg)

	score := 1 - dispersionWeight*cv
	if score < minConfidence {
		return minConfidence
	}

	if score > 1 {
		return 1
	}

	return score
}

// pctChange is the absolute percentage move from prev to next.
func pctChange(prev, next float64) float64 {
	if prev == 0 {
		return math.Inf(1)
	}

	return math.Abs(next-prev) / math.Abs(prev) * 100
}
