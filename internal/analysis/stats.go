// Package analysis provides the summary statistics computed over experiment
// sweeps (error moments, theory-vs-measured correlation, decay fits).
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean of xs (0 for an empty slice).
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Variance returns the population variance of xs.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	// stat.Variance is the sample variance; the experiments report the
	// population variance of the gradient samples.
	mean := stat.Mean(xs, nil)
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// RMS returns the root mean square of xs.
func RMS(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// MaxAbs returns the maximum absolute value in xs.
func MaxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// Correlation returns the Pearson correlation coefficient of x and y.
// A single point correlates perfectly by convention (the hardware runner
// reports r=1 for one measurement).
func Correlation(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("correlation: length mismatch %d vs %d", len(x), len(y))
	}
	if len(x) == 0 {
		return 0, fmt.Errorf("correlation: empty input")
	}
	if len(x) == 1 {
		return 1, nil
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, fmt.Errorf("correlation: undefined (zero variance input)")
	}
	return r, nil
}

// ErrorMoments summarizes the deviation between measured and theory values.
type ErrorMoments struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Max  float64 `json:"max"`
}

// Errors computes moments of (measured - theory).
func Errors(theory, measured []float64) (ErrorMoments, error) {
	if len(theory) != len(measured) {
		return ErrorMoments{}, fmt.Errorf("errors: length mismatch %d vs %d", len(theory), len(measured))
	}
	diffs := make([]float64, len(theory))
	for i := range theory {
		diffs[i] = measured[i] - theory[i]
	}
	return ErrorMoments{
		Mean: Mean(diffs),
		Std:  StdDev(diffs),
		Max:  MaxAbs(diffs),
	}, nil
}

// DecayFit is an exponential decay y = A * exp(-k * x) fitted in log space.
type DecayFit struct {
	Amplitude float64 `json:"amplitude"`
	Rate      float64 `json:"rate"`
	R2        float64 `json:"r_squared"`
}

// FitExponentialDecay fits y = A*exp(-k*x) by linear regression on ln(y).
// Non-positive y values are rejected: the fit targets gradient variances,
// which are positive by construction.
func FitExponentialDecay(x, y []float64) (DecayFit, error) {
	if len(x) != len(y) {
		return DecayFit{}, fmt.Errorf("decay fit: length mismatch %d vs %d", len(x), len(y))
	}
	if len(x) < 2 {
		return DecayFit{}, fmt.Errorf("decay fit: need at least 2 points, got %d", len(x))
	}

	logy := make([]float64, len(y))
	for i, v := range y {
		if v <= 0 {
			return DecayFit{}, fmt.Errorf("decay fit: non-positive value %v at index %d", v, i)
		}
		logy[i] = math.Log(v)
	}

	intercept, slope := stat.LinearRegression(x, logy, nil, false)
	r2 := stat.RSquared(x, logy, nil, intercept, slope)

	return DecayFit{
		Amplitude: math.Exp(intercept),
		Rate:      -slope,
		R2:        r2,
	}, nil
}
