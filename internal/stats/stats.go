// Package stats computes summary statistics for benchmark samples.
// Pure functions, no side effects.
package stats

import "math"

// Mean returns the arithmetic mean of samples, 0 for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Variance returns the sample variance (n-1 denominator) of samples.
// Fewer than two samples have zero variance.
func Variance(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := Mean(samples)
	var sum float64
	for _, s := range samples {
		d := s - mean
		sum += d * d
	}
	return sum / float64(len(samples)-1)
}

// Stdev returns the sample standard deviation of samples.
func Stdev(samples []float64) float64 {
	return math.Sqrt(Variance(samples))
}
