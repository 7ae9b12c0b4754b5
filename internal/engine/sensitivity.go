package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// TotalTask labels sensitivity rows summed over all active tasks.
const TotalTask = "total"

// Sweep varies one parameter over a list of values.
type Sweep struct {
	Path   UpdatePath `json:"path"`
	Values []float64  `json:"values"`
}

// Cancelled reports whether the last run was cancelled.
func (c *Component) Cancelled() bool { return !c.ctl.upToDate.Load() }

// ExpectedSensitivity runs one ensemble per sweep value on a clone and
// summarises each cost table. Cancellation is checked between points and
// the rows of finished points are returned.
func (c *Component) ExpectedSensitivity(ctx context.Context, sweep Sweep, tEnd, n int) ([]models.SensitivityRow, error) {
	return c.SensitivityChain(ctx, []Sweep{sweep}, tEnd, n)
}

// SensitivityChain sweeps the cartesian product of several parameters. The
// last sweep varies fastest; rows carry the outer values in Context.
func (c *Component) SensitivityChain(ctx context.Context, sweeps []Sweep, tEnd, n int) ([]models.SensitivityRow, error) {
	if len(sweeps) == 0 {
		return nil, errors.New("sensitivity: no sweeps")
	}
	points := int64(1)
	for _, s := range sweeps {
		if len(s.Values) == 0 {
			return nil, fmt.Errorf("sensitivity %s: no values", s.Path)
		}
		if err := c.check(s.Path); err != nil {
			return nil, fmt.Errorf("sensitivity: %w", err)
		}
		points *= int64(len(s.Values))
	}
	ctx, span := utils.StartSpan(ctx, "engine.sensitivity",
		attribute.String("component", c.name),
		attribute.Int("variables", len(sweeps)),
		attribute.Int64("points", points),
	)
	defer span.End()

	c.ctl.start()
	c.ctl.sensDone.Store(0)
	c.ctl.sensTotal.Store(points)
	rows, err := c.chain(ctx, sweeps, nil, tEnd, n)
	if err != nil {
		span.RecordError(err)
	}
	return rows, err
}

func (c *Component) chain(ctx context.Context, sweeps []Sweep, outer map[string]float64, tEnd, n int) ([]models.SensitivityRow, error) {
	sweep := sweeps[0]
	var rows []models.SensitivityRow
	for _, v := range sweep.Values {
		if !c.ctl.upToDate.Load() || ctx.Err() != nil {
			break
		}
		point := c.cloneShared()
		if err := point.Update(sweep.Path, v); err != nil {
			return rows, fmt.Errorf("sensitivity %s=%v: %w", sweep.Path, v, err)
		}

		if len(sweeps) > 1 {
			inner := maps.Clone(outer)
			if inner == nil {
				inner = map[string]float64{}
			}
			inner[sweep.Path.String()] = v
			sub, err := point.chain(ctx, sweeps[1:], inner, tEnd, n)
			rows = append(rows, sub...)
			if err != nil {
				return rows, err
			}
			continue
		}

		ens, err := point.simulate(ctx, tEnd, n)
		if err != nil {
			return rows, fmt.Errorf("sensitivity %s=%v: %w", sweep.Path, v, err)
		}
		if ens.Status == StatusCancelled {
			break
		}
		costs, err := point.ExpectedRiskCost()
		if err != nil {
			return rows, fmt.Errorf("sensitivity %s=%v: %w", sweep.Path, v, err)
		}
		rows = append(rows, summariseCosts(costs, sweep.Path.String(), v, outer)...)
		c.ctl.sensDone.Add(1)
	}
	return rows, nil
}

// summariseCosts sums cost rows over failure modes per task and time, then
// keeps the maximum of every column over time.
func summariseCosts(costs []models.CostRow, variable string, value float64, outer map[string]float64) []models.SensitivityRow {
	type key struct {
		task   string
		active bool
	}
	perTime := map[key]map[int]models.CostMetrics{}
	add := func(k key, t int, m models.CostMetrics) {
		if perTime[k] == nil {
			perTime[k] = map[int]models.CostMetrics{}
		}
		perTime[k][t] = sumMetrics(perTime[k][t], m)
	}
	for _, r := range costs {
		add(key{r.Task, r.Active}, r.Time, r.CostMetrics)
		if r.Active {
			add(key{TotalTask, true}, r.Time, r.CostMetrics)
		}
	}

	keys := make([]key, 0, len(perTime))
	for k := range perTime {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].task != keys[j].task {
			return keys[i].task < keys[j].task
		}
		return keys[i].active && !keys[j].active
	})

	rows := make([]models.SensitivityRow, 0, len(keys))
	for _, k := range keys {
		var peak models.CostMetrics
		first := true
		for _, m := range perTime[k] {
			if first {
				peak, first = m, false
				continue
			}
			peak = maxMetrics(peak, m)
		}
		rows = append(rows, models.SensitivityRow{
			Context:     outer,
			Variable:    variable,
			Value:       value,
			Task:        k.task,
			Active:      k.active,
			CostMetrics: peak,
		})
	}
	return rows
}

func sumMetrics(a, b models.CostMetrics) models.CostMetrics {
	return models.CostMetrics{
		Quantity:           a.Quantity + b.Quantity,
		Cost:               a.Cost + b.Cost,
		QuantityCumulative: a.QuantityCumulative + b.QuantityCumulative,
		CostCumulative:     a.CostCumulative + b.CostCumulative,
		QuantityAnnual:     a.QuantityAnnual + b.QuantityAnnual,
		CostAnnual:         a.CostAnnual + b.CostAnnual,
		QuantityLifecycle:  a.QuantityLifecycle + b.QuantityLifecycle,
		CostLifecycle:      a.CostLifecycle + b.CostLifecycle,
	}
}

func maxMetrics(a, b models.CostMetrics) models.CostMetrics {
	return models.CostMetrics{
		Quantity:           max(a.Quantity, b.Quantity),
		Cost:               max(a.Cost, b.Cost),
		QuantityCumulative: max(a.QuantityCumulative, b.QuantityCumulative),
		CostCumulative:     max(a.CostCumulative, b.CostCumulative),
		QuantityAnnual:     max(a.QuantityAnnual, b.QuantityAnnual),
		CostAnnual:         max(a.CostAnnual, b.CostAnnual),
		QuantityLifecycle:  max(a.QuantityLifecycle, b.QuantityLifecycle),
		CostLifecycle:      max(a.CostLifecycle, b.CostLifecycle),
	}
}
