package utils

import "math"

// ClampFloat64 clamps a float64 value between min and max
func ClampFloat64(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// SnapToStep rounds value onto the grid lower + k*step. A non-positive step
// leaves the value unchanged.
func SnapToStep(value, lower, step float64) float64 {
	if step <= 0 {
		return value
	}
	k := math.Round((value - lower) / step)
	return lower + k*step
}

// PercentChange returns the signed percentage change from baseline to value,
// (value - baseline) / |baseline| * 100. A zero baseline yields zero.
func PercentChange(baseline, value float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (value - baseline) / math.Abs(baseline) * 100
}

// Mean calculates the mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance calculates the variance of a slice of float64 values
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Round rounds a float64 to the specified number of decimal places
func Round(value float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(value*multiplier) / multiplier
}
