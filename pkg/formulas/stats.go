package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (n-1 denominator).
// Fewer than two samples have no spread; returns 0.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// WinRate returns the fraction of values strictly greater than zero
func WinRate(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	wins := 0
	for _, v := range data {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(data))
}
