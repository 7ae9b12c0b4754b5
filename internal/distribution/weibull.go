// Package distribution implements the time-to-event laws used to sample
// failure initiation.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrNoFit is returned by Fit when the observations cannot support a regression.
var ErrNoFit = errors.New("insufficient failures for weibull fit")

// Weibull is a three parameter Weibull distribution. Alpha is the scale,
// Beta the shape and Gamma the location.
type Weibull struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// New validates the parameters and returns the distribution.
func New(alpha, beta, gamma float64) (Weibull, error) {
	d := Weibull{Alpha: alpha, Beta: beta, Gamma: gamma}
	if err := d.Validate(); err != nil {
		return Weibull{}, err
	}
	return d, nil
}

// Validate checks that scale and shape are finite and positive.
func (d Weibull) Validate() error {
	if math.IsNaN(d.Alpha) || math.IsInf(d.Alpha, 0) || d.Alpha <= 0 {
		return fmt.Errorf("weibull alpha must be finite and positive, got %v", d.Alpha)
	}
	if math.IsNaN(d.Beta) || math.IsInf(d.Beta, 0) || d.Beta <= 0 {
		return fmt.Errorf("weibull beta must be finite and positive, got %v", d.Beta)
	}
	if math.IsNaN(d.Gamma) || math.IsInf(d.Gamma, 0) {
		return fmt.Errorf("weibull gamma must be finite, got %v", d.Gamma)
	}
	return nil
}

// Sample draws one time to event. The result is never negative.
func (d Weibull) Sample(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	t := d.Gamma + d.Alpha*math.Pow(-math.Log(u), 1/d.Beta)
	if t < 0 {
		return 0
	}
	return t
}

// SF is the survival function S(t).
func (d Weibull) SF(t float64) float64 {
	if t <= d.Gamma {
		return 1
	}
	return math.Exp(-math.Pow((t-d.Gamma)/d.Alpha, d.Beta))
}

// CDF is 1 - S(t).
func (d Weibull) CDF(t float64) float64 {
	return 1 - d.SF(t)
}

// Survival evaluates S(t) for every integer t in [tStart, tEnd].
func (d Weibull) Survival(tStart, tEnd int) []float64 {
	if tEnd < tStart {
		return nil
	}
	out := make([]float64, tEnd-tStart+1)
	for i := range out {
		out[i] = d.SF(float64(tStart + i))
	}
	return out
}

// ConditionalFailureProbability is the probability of failing in
// (tNow, tNext] given survival to tNow.
func (d Weibull) ConditionalFailureProbability(tNow, tNext float64) float64 {
	s := d.SF(tNow)
	if s == 0 {
		return 1
	}
	return (s - d.SF(tNext)) / s
}

// Shift returns a copy with the location moved earlier by delta.
func (d Weibull) Shift(delta float64) Weibull {
	return Weibull{Alpha: d.Alpha, Beta: d.Beta, Gamma: d.Gamma - delta}
}

// Fit estimates a two parameter Weibull from failure times observed over n
// trials using median rank regression. Trials without a failure count as
// suspensions beyond the last failure.
func Fit(failures []float64, n int) (Weibull, error) {
	if len(failures) < 2 || n < len(failures) {
		return Weibull{}, ErrNoFit
	}
	times := append([]float64(nil), failures...)
	sort.Float64s(times)
	if times[0] == times[len(times)-1] {
		return Weibull{}, ErrNoFit
	}

	x := make([]float64, len(times))
	y := make([]float64, len(times))
	for i, t := range times {
		// failures at t=0 would put ln(t) at -Inf
		if t < 0.5 {
			t = 0.5
		}
		f := (float64(i+1) - 0.3) / (float64(n) + 0.4)
		x[i] = math.Log(t)
		y[i] = math.Log(-math.Log(1 - f))
	}

	intercept, slope := stat.LinearRegression(x, y, nil, false)
	if slope <= 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return Weibull{}, ErrNoFit
	}
	return New(math.Exp(-intercept/slope), slope, 0)
}
