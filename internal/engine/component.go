package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/units"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// ComponentParams describes a component.
type ComponentParams struct {
	Name   string
	Active bool
	Unit   units.Unit
	Policy Policy
}

// Options tunes ensemble execution. Zero values select defaults.
type Options struct {
	// Workers bounds concurrent iterations; defaults to GOMAXPROCS.
	Workers int
	// Seed is combined with the iteration index to seed each iteration.
	Seed   uint64
	Logger *slog.Logger
}

// Component aggregates failure modes that share indicators and runs the
// Monte Carlo ensemble over them.
type Component struct {
	name   string
	active bool
	unit   units.Unit
	policy Policy

	fms        []*FailureMode
	indicators []indicator.Indicator
	indByName  map[string]indicator.Indicator

	workers int
	seed    uint64
	logger  *slog.Logger

	ctl *control

	mu       sync.RWMutex
	ensemble *Ensemble
}

// NewComponent links failure modes and indicators into a component.
// Derived indicators are bound to their siblings here.
func NewComponent(p ComponentParams, indicators []indicator.Indicator, fms []*FailureMode, opts Options) (*Component, error) {
	entity := "component " + p.Name
	if p.Name == "" {
		return nil, utils.ConfigError("component", "name", "required")
	}
	if p.Unit == "" {
		p.Unit = units.Years
	}
	if !p.Unit.Valid() {
		return nil, utils.ConfigError(entity, "unit", "unknown unit %q", p.Unit)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	c := &Component{
		name:       p.Name,
		active:     p.Active,
		unit:       p.Unit,
		policy:     p.Policy,
		fms:        fms,
		indicators: indicators,
		indByName:  make(map[string]indicator.Indicator, len(indicators)),
		workers:    opts.Workers,
		seed:       opts.Seed,
		logger:     opts.Logger,
		ctl:        &control{},
	}
	for _, ind := range indicators {
		if _, dup := c.indByName[ind.Name()]; dup {
			return nil, utils.ConfigError(entity, "indicators", "duplicate indicator %s", ind.Name())
		}
		c.indByName[ind.Name()] = ind
	}
	seen := map[string]struct{}{}
	for _, fm := range fms {
		if _, dup := seen[fm.Name()]; dup {
			return nil, utils.ConfigError(entity, "failure_modes", "duplicate failure mode %s", fm.Name())
		}
		seen[fm.Name()] = struct{}{}
		for _, ind := range fm.Indicators() {
			if c.indByName[ind.Name()] != ind {
				return nil, utils.ConfigError(entity, "failure mode "+fm.Name(), "indicator %s is not owned by the component", ind.Name())
			}
		}
	}
	if err := c.bind(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Component) bind() error {
	for _, ind := range c.indicators {
		if err := ind.Bind(c); err != nil {
			return fmt.Errorf("component %s: %w", c.name, err)
		}
	}
	return nil
}

func (c *Component) Name() string { return c.name }
func (c *Component) Active() bool { return c.active }
func (c *Component) Unit() units.Unit { return c.unit }
func (c *Component) Policy() Policy { return c.policy }
func (c *Component) FailureModes() []*FailureMode { return c.fms }
func (c *Component) Indicators() []indicator.Indicator { return c.indicators }

// SetPolicy replaces the renewal policy. Running ensembles keep the policy
// they started with.
func (c *Component) SetPolicy(p Policy) { c.policy = p }

// Indicator implements indicator.Lookup.
func (c *Component) Indicator(name string) (indicator.Indicator, bool) {
	ind, ok := c.indByName[name]
	return ind, ok
}

// FailureMode returns the named failure mode.
func (c *Component) FailureMode(name string) (*FailureMode, bool) {
	for _, fm := range c.fms {
		if fm.Name() == name {
			return fm, true
		}
	}
	return nil, false
}

// ActiveFailureModes lists failure modes that take part in simulation.
func (c *Component) ActiveFailureModes() []*FailureMode {
	out := make([]*FailureMode, 0, len(c.fms))
	for _, fm := range c.fms {
		if fm.Active() {
			out = append(out, fm)
		}
	}
	return out
}

// SimTimeline runs one iteration over [tStart, tEnd] on the receiver. State
// from the previous iteration is cleared first so the result can be
// inspected afterwards.
func (c *Component) SimTimeline(rng *rand.Rand, tStart, tEnd int) (Iteration, error) {
	c.resetForNextSim()
	if !c.active {
		return Iteration{
			Completed:     true,
			Outcome:       Event{Outcome: OutcomeInService, Time: tEnd},
			TimeInService: tEnd,
			FailureModes:  c.records(nil),
		}, nil
	}
	s := scheduler{fms: c.fms, indicators: c.indicators, policy: c.policy}
	res, err := s.run(rng, tStart, tEnd)
	if err != nil {
		return Iteration{}, fmt.Errorf("component %s: %w", c.name, err)
	}

	it := Iteration{
		Completed:     true,
		Outcome:       res.outcome(),
		TimeInService: res.tOut,
		FailureModes:  c.records(res.fmEvents),
		Indicators:    make(map[string][]float64, len(c.indicators)),
	}
	for _, ind := range c.indicators {
		agg := ind.AggTimeline()
		if len(agg) == 0 {
			continue
		}
		if n := res.tOut + 1; n < len(agg) {
			agg = agg[:n]
		}
		it.Indicators[ind.Name()] = agg
	}
	return it, nil
}

func (c *Component) records(events map[string]Event) map[string]FailureModeRecord {
	out := make(map[string]FailureModeRecord, len(c.fms))
	for _, fm := range c.fms {
		rec := FailureModeRecord{
			Active:      fm.Active(),
			Outcome:     Event{Outcome: OutcomeInService},
			Failures:    append([]int(nil), fm.onsets...),
			Tasks:       make(map[string][]int, len(fm.tasks)),
			Inspections: fm.inspections,
			Detections:  fm.detections,
		}
		if ev, ok := events[fm.Name()]; ok {
			rec.Outcome = ev
		}
		for _, tk := range fm.tasks {
			if times := tk.Times(); len(times) > 0 {
				rec.Tasks[tk.Name()] = append([]int(nil), times...)
			}
		}
		out[fm.Name()] = rec
	}
	return out
}

func (c *Component) resetForNextSim() {
	for _, ind := range c.indicators {
		ind.ResetForNextSim()
	}
	for _, fm := range c.fms {
		fm.ResetForNextSim()
	}
}

// Reset returns the component to its configured state and drops the last
// ensemble.
func (c *Component) Reset() {
	for _, ind := range c.indicators {
		ind.Reset()
	}
	for _, fm := range c.fms {
		fm.Reset()
	}
	c.mu.Lock()
	c.ensemble = nil
	c.mu.Unlock()
}

// Clone returns an independent copy with its own cancellation state.
// Indicator sharing between failure modes is preserved.
func (c *Component) Clone() *Component {
	cp := c.clone()
	cp.ctl = &control{}
	return cp
}

// cloneShared returns a copy that shares cancellation and progress with c.
func (c *Component) cloneShared() *Component {
	cp := c.clone()
	cp.ctl = c.ctl
	return cp
}

func (c *Component) clone() *Component {
	shared := make(map[indicator.Indicator]indicator.Indicator, len(c.indicators))
	cp := &Component{
		name:      c.name,
		active:    c.active,
		unit:      c.unit,
		policy:    c.policy,
		indByName: make(map[string]indicator.Indicator, len(c.indicators)),
		workers:   c.workers,
		seed:      c.seed,
		logger:    c.logger,
	}
	for _, ind := range c.indicators {
		ic := ind.Clone()
		shared[ind] = ic
		cp.indicators = append(cp.indicators, ic)
		cp.indByName[ic.Name()] = ic
	}
	for _, fm := range c.fms {
		cp.fms = append(cp.fms, fm.clone(shared))
	}
	// c bound the same names when it was built
	if err := cp.bind(); err != nil {
		panic(err)
	}
	return cp
}

// Ensemble returns the most recent ensemble, or nil before the first run.
func (c *Component) Ensemble() *Ensemble {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ensemble
}

func (c *Component) setEnsemble(e *Ensemble) {
	c.mu.Lock()
	c.ensemble = e
	c.mu.Unlock()
}
