package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/miradorstack/mirador-pof/internal/distribution"
	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/units"
)

// ErrNoIterations is returned by reports before any iteration completed.
var ErrNoIterations = errors.New("no completed iterations")

func (c *Component) completed() (*Ensemble, []Iteration, error) {
	ens := c.Ensemble()
	if ens == nil {
		return nil, nil, ErrNoIterations
	}
	its := ens.Completed()
	if len(its) == 0 {
		return nil, nil, ErrNoIterations
	}
	return ens, its, nil
}

// ExpectedLife is the mean time in service over the latest ensemble, in
// the component's unit.
func (c *Component) ExpectedLife() (float64, error) {
	_, its, err := c.completed()
	if err != nil {
		return 0, err
	}
	return expectedLife(its), nil
}

func expectedLife(its []Iteration) float64 {
	sum := 0
	for _, it := range its {
		sum += it.TimeInService
	}
	return float64(sum) / float64(len(its))
}

func (c *Component) lifeYears(its []Iteration) float64 {
	years, err := units.Convert(expectedLife(its), c.unit, units.Years)
	if err != nil {
		return 0
	}
	return years
}

// ExpectedPOF returns the maintained probability of failure per failure
// mode and for the series system of active failure modes. Each active
// mode's first failures are fitted to a Weibull; when no fit exists the
// empirical distribution is used.
func (c *Component) ExpectedPOF() ([]models.POFRow, error) {
	ens, its, err := c.completed()
	if err != nil {
		return nil, err
	}
	tEnd := ens.TEnd
	all := ones(tEnd + 1)
	var rows []models.POFRow
	for _, fm := range c.fms {
		sf := ones(tEnd + 1)
		if fm.Active() {
			var times []float64
			for _, it := range its {
				if t := it.FailureModes[fm.Name()].FirstFailure(); t >= 0 {
					times = append(times, float64(t))
				}
			}
			sf = maintainedSurvival(times, len(its), tEnd)
			for t := range all {
				all[t] *= sf[t]
			}
		}
		rows = c.appendPOF(rows, models.POFMaintained, fm.Name(), fm.Active(), sf)
	}
	return c.appendPOF(rows, models.POFMaintained, models.AllFailureModes, true, all), nil
}

func maintainedSurvival(times []float64, n, tEnd int) []float64 {
	if d, err := distribution.Fit(times, n); err == nil {
		return d.Survival(0, tEnd)
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	sf := make([]float64, tEnd+1)
	j := 0
	for t := range sf {
		for j < len(sorted) && sorted[j] <= float64(t) {
			j++
		}
		sf[t] = 1 - float64(j)/float64(n)
	}
	return sf
}

// ExpectedUntreated returns the probability of failure without maintenance
// over [0, tEnd]. Inactive failure modes get rows but are left out of the
// series system.
func (c *Component) ExpectedUntreated(tEnd int) ([]models.POFRow, error) {
	if tEnd < 0 {
		return nil, fmt.Errorf("%w: t_end %d", ErrInvalidRun, tEnd)
	}
	all := ones(tEnd + 1)
	var rows []models.POFRow
	for _, fm := range c.fms {
		sf := fm.Untreated().Survival(0, tEnd)
		if fm.Active() {
			for t := range all {
				all[t] *= sf[t]
			}
		}
		rows = c.appendPOF(rows, models.POFUntreated, fm.Name(), fm.Active(), sf)
	}
	return c.appendPOF(rows, models.POFUntreated, models.AllFailureModes, true, all), nil
}

func (c *Component) appendPOF(rows []models.POFRow, src models.POFSource, fm string, active bool, sf []float64) []models.POFRow {
	for t, s := range sf {
		rows = append(rows, models.POFRow{
			Source:      src,
			FailureMode: fm,
			Active:      active,
			Time:        t,
			Unit:        string(c.unit),
			POF:         1 - s,
		})
	}
	return rows
}

// ExpectedRiskCost returns the expected quantity and cost of every task per
// time step, plus a risk row pricing failures at the failure mode's
// consequence cost. Annual and lifecycle columns divide by the expected
// life in years.
func (c *Component) ExpectedRiskCost() ([]models.CostRow, error) {
	ens, its, err := c.completed()
	if err != nil {
		return nil, err
	}
	life := c.lifeYears(its)
	var rows []models.CostRow
	for _, fm := range c.fms {
		for _, tk := range fm.Tasks() {
			q := make([]float64, ens.TEnd+1)
			for _, it := range its {
				for _, t := range it.FailureModes[fm.Name()].Tasks[tk.Name()] {
					if t >= 0 && t <= ens.TEnd {
						q[t]++
					}
				}
			}
			rows = c.appendCost(rows, fm.Name(), tk.Name(), fm.Active(), q, len(its), tk.Cost(), life)
		}

		q := make([]float64, ens.TEnd+1)
		for _, it := range its {
			for _, t := range it.FailureModes[fm.Name()].Failures {
				if t >= 0 && t <= ens.TEnd {
					q[t]++
				}
			}
		}
		rows = c.appendCost(rows, fm.Name(), models.RiskTask, fm.Active(), q, len(its), fm.COF(), life)
	}
	return rows, nil
}

func (c *Component) appendCost(rows []models.CostRow, fm, task string, active bool, counts []float64, n int, unitCost, life float64) []models.CostRow {
	var cumQ, cumC float64
	for t, k := range counts {
		q := k / float64(n)
		cost := q * unitCost
		cumQ += q
		cumC += cost
		row := models.CostRow{
			FailureMode: fm,
			Task:        task,
			Active:      active,
			Time:        t,
			Unit:        string(c.unit),
			CostMetrics: models.CostMetrics{
				Quantity:           q,
				Cost:               cost,
				QuantityCumulative: cumQ,
				CostCumulative:     cumC,
			},
		}
		if life > 0 {
			row.QuantityAnnual = q / life
			row.CostAnnual = cost / life
			row.QuantityLifecycle = cumQ / life
			row.CostLifecycle = cumC / life
		}
		rows = append(rows, row)
	}
	return rows
}

// ExpectedCondition returns confidence bands for every indicator used by an
// active failure mode.
func (c *Component) ExpectedCondition(confidence float64) (map[string]indicator.Band, error) {
	_, its, err := c.completed()
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for _, fm := range c.ActiveFailureModes() {
		for _, ind := range fm.Indicators() {
			used[ind.Name()] = true
		}
	}
	out := make(map[string]indicator.Band, len(used))
	for _, ind := range c.indicators {
		if !used[ind.Name()] {
			continue
		}
		var timelines [][]float64
		for _, it := range its {
			if tl := it.Indicators[ind.Name()]; len(tl) > 0 {
				timelines = append(timelines, tl)
			}
		}
		if len(timelines) == 0 {
			continue
		}
		band, err := indicator.ExpectedCondition(ind, timelines, confidence)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", ind.Name(), err)
		}
		out[ind.Name()] = band
	}
	return out, nil
}

// ConditionRows flattens bands into report rows ordered by indicator name.
func (c *Component) ConditionRows(bands map[string]indicator.Band) []models.ConditionRow {
	names := make([]string, 0, len(bands))
	for name := range bands {
		names = append(names, name)
	}
	sort.Strings(names)
	var rows []models.ConditionRow
	for _, name := range names {
		b := bands[name]
		for t := range b.Mean {
			rows = append(rows, models.ConditionRow{
				Indicator: name,
				Time:      t,
				Unit:      string(c.unit),
				Mean:      b.Mean[t],
				Lower:     b.Lower[t],
				Upper:     b.Upper[t],
			})
		}
	}
	return rows
}

// CalcSummary counts outcomes per failure mode and for the component. With
// a cohort, counts are scaled to annual numbers in the population with a
// normal confidence interval.
func (c *Component) CalcSummary(cohort *models.Cohort, confidence float64) ([]models.SummaryRow, error) {
	_, its, err := c.completed()
	if err != nil {
		return nil, err
	}
	var z float64
	if cohort != nil {
		if cohort.Population <= 0 {
			return nil, fmt.Errorf("cohort population must be positive, got %v", cohort.Population)
		}
		if z, err = indicator.ZScore(confidence); err != nil {
			return nil, err
		}
	}
	n := len(its)
	life := c.lifeYears(its)

	var rows []models.SummaryRow
	ieTotal, ieSeen := 1.0, false
	for _, fm := range c.fms {
		counts := map[Outcome]int{}
		inspections, detections := 0, 0
		for _, it := range its {
			rec := it.FailureModes[fm.Name()]
			counts[rec.Outcome.Outcome]++
			inspections += rec.Inspections
			detections += rec.Detections
		}
		row := summaryRow(fm.Name(), fm.Active(), counts, n)
		if inspections > 0 {
			row.InspectionEffective = float64(detections) / float64(inspections)
			if fm.Active() {
				ieTotal *= row.InspectionEffective
				ieSeen = true
			}
		}
		scaleToCohort(&row, cohort, n, life, z)
		rows = append(rows, row)
	}

	total := map[Outcome]int{}
	for _, it := range its {
		total[it.Outcome.Outcome]++
	}
	row := summaryRow(models.AllFailureModes, true, total, n)
	if ieSeen {
		row.InspectionEffective = ieTotal
	}
	scaleToCohort(&row, cohort, n, life, z)
	return append(rows, row), nil
}

func summaryRow(name string, active bool, counts map[Outcome]int, n int) models.SummaryRow {
	cf := counts[OutcomeConditionalFailure]
	ff := counts[OutcomeFunctionalFailure]
	row := models.SummaryRow{
		FailureMode:         name,
		Active:              active,
		InService:           n - cf - ff,
		ConditionalFailures: cf,
		FunctionalFailures:  ff,
	}
	if cf+ff > 0 {
		row.Prevented = float64(cf) / float64(cf+ff)
	}
	return row
}

func scaleToCohort(row *models.SummaryRow, cohort *models.Cohort, n int, life, z float64) {
	if cohort == nil || life <= 0 {
		return
	}
	row.ConditionalAnnual, row.ConditionalAnnualLower, row.ConditionalAnnualUpper =
		annualInterval(row.ConditionalFailures, n, life, cohort.Population, z)
	row.FunctionalAnnual, row.FunctionalAnnualLower, row.FunctionalAnnualUpper =
		annualInterval(row.FunctionalFailures, n, life, cohort.Population, z)
}

// annualInterval scales count/n events per life to the population per year
// and puts a binomial normal interval around it.
func annualInterval(count, n int, life, pop, z float64) (mean, lower, upper float64) {
	mean = float64(count) / float64(n) * pop / life
	p := math.Min(math.Max(mean/pop, 0), 1)
	se := math.Sqrt(p * (1 - p) / pop)
	lower = math.Max(0, p-z*se) * pop
	upper = (p + z*se) * pop
	return mean, lower, upper
}

// TaskForecast projects expected task volumes for a population with the
// given age profile over the next years. Ages are converted to years and
// simulation steps to years before joining.
func (c *Component) TaskForecast(profile models.AgeProfile, years int) ([]models.ForecastRow, error) {
	if years <= 0 {
		return nil, fmt.Errorf("forecast years must be positive, got %d", years)
	}
	ageUnit := units.Years
	if profile.Unit != "" {
		u, err := units.Parse(profile.Unit)
		if err != nil {
			return nil, fmt.Errorf("age profile: %w", err)
		}
		ageUnit = u
	}
	stepYears, err := units.Factor(c.unit, units.Years)
	if err != nil {
		return nil, err
	}
	costs, err := c.ExpectedRiskCost()
	if err != nil {
		return nil, err
	}

	type key struct{ fm, task string }
	series := map[key][]models.CostRow{}
	var order []key
	for _, r := range costs {
		if !r.Active {
			continue
		}
		k := key{r.FailureMode, r.Task}
		if _, ok := series[k]; !ok {
			order = append(order, k)
		}
		series[k] = append(series[k], r)
	}

	var rows []models.ForecastRow
	for y := 0; y < years; y++ {
		for _, k := range order {
			s := series[k]
			row := models.ForecastRow{Year: y, FailureMode: k.fm, Task: k.task}
			for _, b := range profile.Buckets {
				age, err := units.Convert(b.Age, ageUnit, units.Years)
				if err != nil {
					return nil, err
				}
				from := stepAt(age+float64(y), stepYears)
				to := stepAt(age+float64(y)+1, stepYears) - 1
				for t := from; t <= to && t < len(s); t++ {
					row.Quantity += b.Count * s[t].Quantity
					row.Cost += b.Count * s[t].Cost
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// stepAt is the first simulation step at or after the given age in years.
func stepAt(years, stepYears float64) int {
	return int(math.Ceil(years/stepYears - 1e-9))
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
