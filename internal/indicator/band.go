package indicator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoTimelines is returned when a band is requested over an empty ensemble.
var ErrNoTimelines = errors.New("no saved timelines")

// Band is a per-time-step confidence band.
type Band struct {
	Mean  []float64 `json:"mean"`
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
	Std   []float64 `json:"std"`
}

// ZScore returns the two-sided normal quantile for a confidence level.
func ZScore(confidence float64) (float64, error) {
	if !(confidence > 0 && confidence < 1) {
		return 0, fmt.Errorf("confidence must be in (0, 1), got %v", confidence)
	}
	return distuv.UnitNormal.Quantile(1 - (1-confidence)/2), nil
}

// ExpectedCondition reduces saved per-iteration timelines into a mean and
// a normal confidence band clipped to the indicator's limits.
func ExpectedCondition(ind Indicator, timelines [][]float64, confidence float64) (Band, error) {
	if len(timelines) == 0 {
		return Band{}, ErrNoTimelines
	}
	z, err := ZScore(confidence)
	if err != nil {
		return Band{}, err
	}
	lo := math.Min(ind.Perfect(), ind.Failed())
	hi := math.Max(ind.Perfect(), ind.Failed())

	n := 0
	for _, tl := range timelines {
		if len(tl) > n {
			n = len(tl)
		}
	}
	band := Band{
		Mean:  make([]float64, n),
		Lower: make([]float64, n),
		Upper: make([]float64, n),
		Std:   make([]float64, n),
	}
	column := make([]float64, 0, len(timelines))
	for t := 0; t < n; t++ {
		column = column[:0]
		for _, tl := range timelines {
			if t < len(tl) {
				column = append(column, tl[t])
			}
		}
		mean, std := stat.MeanStdDev(column, nil)
		if math.IsNaN(std) || std <= 0 {
			std = 0
		}
		band.Mean[t] = mean
		band.Std[t] = std
		band.Lower[t] = clamp(mean-z*std, lo, hi)
		band.Upper[t] = clamp(mean+z*std, lo, hi)
	}
	return band, nil
}
