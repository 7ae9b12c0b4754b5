package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/miradorstack/mirador-pof/internal/distribution"
	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/task"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// Timeline holds the per-step state series of a failure mode for one
// iteration. Index t is absolute time t.
type Timeline struct {
	Initiation []bool               `json:"initiation"`
	Detection  []bool               `json:"detection"`
	Failure    []bool               `json:"failure"`
	Conditions map[string][]float64 `json:"conditions"`
	Tasks      map[string][]bool    `json:"tasks"`
}

// Len is the number of simulated steps.
func (tl Timeline) Len() int { return len(tl.Failure) }

func (tl *Timeline) truncate(n int) {
	if n > tl.Len() {
		return
	}
	tl.Initiation = tl.Initiation[:n]
	tl.Detection = tl.Detection[:n]
	tl.Failure = tl.Failure[:n]
	for name, v := range tl.Conditions {
		if n <= len(v) {
			tl.Conditions[name] = v[:n]
		}
	}
	for name, v := range tl.Tasks {
		tl.Tasks[name] = v[:n]
	}
}

// FailureModeParams describes a failure mode.
type FailureModeParams struct {
	Name         string
	Active       bool
	Distribution distribution.Weibull
	COF          float64
}

// FailureMode is a degradation process: an untreated lifetime distribution,
// the indicators that reveal it and the tasks that manage it.
type FailureMode struct {
	name       string
	active     bool
	cof        float64
	untreated  distribution.Weibull
	initiation distribution.Weibull

	indicators []indicator.Indicator
	byName     map[string]indicator.Indicator
	tasks      []*task.Task

	initiated bool
	detected  bool
	failed    bool

	tEnd     int
	tInit    int
	tRef     int
	timeline Timeline

	// per-iteration records
	onsets      []int
	wasFailed   bool
	inspections int
	detections  int
}

// NewFailureMode validates p and links the indicators and tasks. Indicators
// may be shared with other failure modes of the same component.
func NewFailureMode(p FailureModeParams, indicators []indicator.Indicator, tasks []*task.Task) (*FailureMode, error) {
	entity := "failure mode " + p.Name
	if p.Name == "" {
		return nil, utils.ConfigError("failure mode", "name", "required")
	}
	if err := p.Distribution.Validate(); err != nil {
		return nil, utils.NewAppError(entity, "distribution", err)
	}
	if p.COF < 0 {
		return nil, utils.ConfigError(entity, "cof", "must not be negative, got %v", p.COF)
	}

	fm := &FailureMode{
		name:      p.Name,
		active:    p.Active,
		cof:       p.COF,
		untreated: p.Distribution,
		byName:    make(map[string]indicator.Indicator, len(indicators)),
		tasks:     tasks,
	}
	// derived indicators read their siblings, so conditions go first
	for _, kind := range []indicator.Kind{indicator.KindCondition, indicator.KindSafetyFactor} {
		for _, ind := range indicators {
			if ind.Kind() == kind {
				fm.indicators = append(fm.indicators, ind)
			}
		}
	}
	for _, ind := range indicators {
		if _, dup := fm.byName[ind.Name()]; dup {
			return nil, utils.ConfigError(entity, "indicators", "duplicate indicator %s", ind.Name())
		}
		fm.byName[ind.Name()] = ind
	}
	seen := map[string]struct{}{}
	for _, tk := range tasks {
		if _, dup := seen[tk.Name()]; dup {
			return nil, utils.ConfigError(entity, "tasks", "duplicate task %s", tk.Name())
		}
		seen[tk.Name()] = struct{}{}
		for _, name := range tk.Indicators() {
			if _, ok := fm.byName[name]; !ok {
				return nil, utils.ConfigError(entity, "task "+tk.Name(), "unknown indicator %s", name)
			}
		}
	}
	fm.deriveInitiation()
	return fm, nil
}

// deriveInitiation shifts the untreated distribution earlier by the longest
// P-F interval so that failure follows initiation by that interval.
func (fm *FailureMode) deriveInitiation() {
	pf := 0
	for _, ind := range fm.indicators {
		if ind.PFInterval() > pf {
			pf = ind.PFInterval()
		}
	}
	fm.initiation = fm.untreated.Shift(float64(pf))
}

func (fm *FailureMode) Name() string { return fm.name }
func (fm *FailureMode) Active() bool { return fm.active }
func (fm *FailureMode) COF() float64 { return fm.cof }
func (fm *FailureMode) Untreated() distribution.Weibull { return fm.untreated }
func (fm *FailureMode) InitiationDist() distribution.Weibull { return fm.initiation }
func (fm *FailureMode) Tasks() []*task.Task { return fm.tasks }
func (fm *FailureMode) Indicators() []indicator.Indicator { return fm.indicators }
func (fm *FailureMode) Timeline() Timeline { return fm.timeline }
func (fm *FailureMode) Failed() bool { return fm.failed }

// SetActive toggles the failure mode.
func (fm *FailureMode) SetActive(active bool) { fm.active = active }

// SetDistribution replaces the untreated distribution and re-derives the
// initiation distribution.
func (fm *FailureMode) SetDistribution(d distribution.Weibull) error {
	if err := d.Validate(); err != nil {
		return utils.NewAppError("failure mode "+fm.name, "distribution", err)
	}
	fm.untreated = d
	fm.deriveInitiation()
	return nil
}

// Task returns the named task.
func (fm *FailureMode) Task(name string) (*task.Task, bool) {
	for _, tk := range fm.tasks {
		if tk.Name() == name {
			return tk, true
		}
	}
	return nil, false
}

// ConditionAt implements task.View.
func (fm *FailureMode) ConditionAt(name string, t int) (float64, bool) {
	tl, ok := fm.timeline.Conditions[name]
	if !ok || t < 0 || t >= len(tl) {
		return 0, false
	}
	return tl[t], true
}

// StateAt implements task.View.
func (fm *FailureMode) StateAt(s task.State, t int) bool {
	var series []bool
	switch s {
	case task.StateInitiation:
		series = fm.timeline.Initiation
	case task.StateDetection:
		series = fm.timeline.Detection
	case task.StateFailure:
		series = fm.timeline.Failure
	}
	return t >= 0 && t < len(series) && series[t]
}

// SetState implements task.Target.
func (fm *FailureMode) SetState(s task.State, v bool) {
	switch s {
	case task.StateInitiation:
		fm.initiated = v
	case task.StateDetection:
		fm.detected = v
	case task.StateFailure:
		fm.failed = v
	}
}

// Initiated implements task.Target.
func (fm *FailureMode) Initiated() bool { return fm.initiated }

// Detectable implements task.Target: any indicator past its detection
// threshold at t.
func (fm *FailureMode) Detectable(t int) bool {
	for _, ind := range fm.indicators {
		if v, ok := fm.ConditionAt(ind.Name(), t); ok && ind.IsDetectable(v) {
			return true
		}
	}
	return false
}

// Indicator implements task.Target and indicator.Lookup.
func (fm *FailureMode) Indicator(name string) (indicator.Indicator, bool) {
	ind, ok := fm.byName[name]
	return ind, ok
}

// conditionUpdate selects how simulate treats indicator timelines.
type conditionUpdate int

const (
	keepConditions conditionUpdate = iota
	// resumeConditions continues the sampled profiles from the accumulated
	// loss, keeping the initiation time.
	resumeConditions
	// freshConditions samples new profiles from the current initiation time.
	freshConditions
)

// InitTimeline starts a fresh timeline over [tStart, tEnd]. The initiation
// time is sampled unless the failure mode is already initiated.
func (fm *FailureMode) InitTimeline(rng *rand.Rand, tStart, tEnd int) {
	n := tEnd + 1
	fm.tEnd = tEnd
	fm.tRef = tStart
	fm.timeline = Timeline{
		Initiation: make([]bool, n),
		Detection:  make([]bool, n),
		Failure:    make([]bool, n),
		Conditions: make(map[string][]float64, len(fm.indicators)),
		Tasks:      make(map[string][]bool, len(fm.tasks)),
	}
	for _, tk := range fm.tasks {
		fm.timeline.Tasks[tk.Name()] = make([]bool, n)
	}
	fm.sampleInitiation(rng, tStart)
	fm.simulate(rng, tStart, freshConditions)
}

func (fm *FailureMode) sampleInitiation(rng *rand.Rand, tStart int) {
	if fm.initiated {
		fm.tInit = tStart
		return
	}
	fm.tInit = tStart + int(fm.initiation.Sample(rng))
}

// simulate recomputes the timeline from tStart on.
func (fm *FailureMode) simulate(rng *rand.Rand, tStart int, conditions conditionUpdate) {
	if tStart > fm.tEnd || tStart >= fm.timeline.Len() {
		return
	}
	for _, ind := range fm.indicators {
		from, to := tStart-fm.tInit, fm.tEnd-fm.tInit
		switch conditions {
		case freshConditions:
			ind.SimTimeline(rng, from, to, fm.name, tStart)
		case resumeConditions:
			ind.Resume(from, to, fm.name, tStart)
		default:
			continue
		}
		fm.timeline.Conditions[ind.Name()] = ind.Timeline(fm.name)
	}

	failed := fm.failed
	for t := tStart; t < fm.timeline.Len(); t++ {
		if !failed && len(fm.indicators) == 0 {
			// without indicators the mode fails when it initiates
			failed = t >= fm.tInit
		}
		if !failed {
			for _, ind := range fm.indicators {
				if v, ok := fm.ConditionAt(ind.Name(), t); ok && ind.IsFailed(v) {
					failed = true
					break
				}
			}
		}
		fm.timeline.Failure[t] = failed
		fm.timeline.Initiation[t] = fm.initiated || t >= fm.tInit || failed
		fm.timeline.Detection[t] = fm.detected
	}
	for _, tk := range fm.tasks {
		due := fm.timeline.Tasks[tk.Name()]
		copy(due[tStart:], tk.TriggerTimeline(fm, tStart, len(due)-1, fm.tRef))
	}
}

// sync loads the state variables from the timeline at t.
func (fm *FailureMode) sync(t int) {
	if t < 0 || t >= fm.timeline.Len() {
		return
	}
	fm.initiated = fm.timeline.Initiation[t]
	fm.detected = fm.timeline.Detection[t]
	fm.failed = fm.timeline.Failure[t]
}

// Snapshot folds the indicator values at t into this failure mode's
// accumulated loss so a restart continues from them.
func (fm *FailureMode) Snapshot(t int) {
	for _, ind := range fm.indicators {
		ind.SnapshotAt(t, fm.name)
	}
}

// NextTasks returns the earliest time at or after tStart when any task is
// due, with all tasks due then. Without any, it returns the end time.
func (fm *FailureMode) NextTasks(tStart int) (int, []*task.Task) {
	if tStart < 0 {
		tStart = 0
	}
	for t := tStart; t <= fm.tEnd && t < fm.timeline.Len(); t++ {
		var due []*task.Task
		for _, tk := range fm.tasks {
			if fm.timeline.Tasks[tk.Name()][t] {
				due = append(due, tk)
			}
		}
		if len(due) > 0 {
			return t, due
		}
	}
	return fm.tEnd, nil
}

// Completion summarises the tasks completed by a failure mode at one time.
type Completion struct {
	Impacts Impacts
	// Prevented is set when a replacement completed on an initiated failure
	// mode before functional failure.
	Prevented bool
	// Restored lists the indicators whose condition was restored.
	Restored []indicator.Indicator
}

// Impacts aliases task.Impacts for callers of the engine.
type Impacts = task.Impacts

// CompleteTasks completes tasks at t and applies their impacts. The
// timeline is not updated; call UpdateTimeline afterwards.
func (fm *FailureMode) CompleteTasks(rng *rand.Rand, t int, tasks []*task.Task) (Completion, error) {
	fm.sync(t)
	wasFailed := fm.failed
	var out Completion
	for _, tk := range tasks {
		initiated, detected := fm.initiated, fm.detected
		impacts, err := tk.Complete(t, fm, rng)
		if err != nil {
			return out, fmt.Errorf("failure mode %s: %w", fm.name, err)
		}
		if tk.IsInspection() && initiated {
			fm.inspections++
			if !detected && fm.detected {
				fm.detections++
			}
		}
		if !wasFailed && initiated && replaces(tk, impacts) {
			out.Prevented = true
		}
		if impacts.Has(task.ImpactIndicator) {
			for name := range tk.Impact().Condition {
				if ind, ok := fm.byName[name]; ok {
					out.Restored = append(out.Restored, ind)
				}
			}
		}
		out.Impacts |= impacts
	}
	return out, nil
}

// replaces reports whether an effective completion replaced the asset.
// Repairs restore condition but never end the failure mode's life.
func replaces(tk *task.Task, impacts Impacts) bool {
	if impacts == 0 {
		return false
	}
	switch tk.Kind() {
	case task.KindOnConditionReplacement, task.KindScheduledReplacement:
		return true
	case task.KindOnConditionRepair:
		return false
	}
	return impacts.Renewal()
}

// dependsOn reports whether any indicator of the failure mode is in
// restored by name, directly or as the source of a derived indicator.
func (fm *FailureMode) dependsOn(restored map[string]struct{}) bool {
	for _, ind := range fm.indicators {
		if _, ok := restored[ind.Name()]; ok {
			return true
		}
		if d, ok := ind.(interface{ Siblings() []string }); ok {
			for _, name := range d.Siblings() {
				if _, ok := restored[name]; ok {
					return true
				}
			}
		}
	}
	return false
}

// UpdateTimeline re-simulates from tStart after tasks completed at
// tStart-1. Indicator impacts continue degradation from the restored
// condition; a cleared initiation starts a new degradation.
func (fm *FailureMode) UpdateTimeline(rng *rand.Rand, tStart int, impacts Impacts) {
	if tStart > fm.tEnd {
		return
	}
	conditions := keepConditions
	switch {
	case !fm.initiated && fm.tInit < tStart:
		fm.sampleInitiation(rng, tStart)
		conditions = freshConditions
	case !impacts.Has(task.ImpactIndicator):
	case fm.initiated && fm.tInit >= tStart:
		// initiated by a task ahead of the sampled time
		fm.tInit = tStart - 1
		conditions = freshConditions
	default:
		conditions = resumeConditions
	}
	fm.simulate(rng, tStart, conditions)
}

// Renew replaces the asset at t: states and indicators are renewed and a
// new life starts at t+1.
func (fm *FailureMode) Renew(rng *rand.Rand, t int) {
	fm.initiated, fm.detected, fm.failed = false, false, false
	for _, ind := range fm.indicators {
		ind.Renew()
	}
	fm.tRef = t + 1
	fm.sampleInitiation(rng, t+1)
	fm.simulate(rng, t+1, freshConditions)
}

// Fail forces the terminal failed state at t and ends the timeline there.
func (fm *FailureMode) Fail(t int) {
	fm.initiated, fm.failed = true, true
	if t < 0 || t >= fm.timeline.Len() {
		return
	}
	fm.timeline.Initiation[t] = true
	fm.timeline.Failure[t] = true
	fm.timeline.truncate(t + 1)
}

// trackFailures records failure onsets in [from, to].
func (fm *FailureMode) trackFailures(from, to int) []int {
	var onsets []int
	for t := from; t <= to && t < fm.timeline.Len(); t++ {
		f := fm.timeline.Failure[t]
		if f && !fm.wasFailed {
			onsets = append(onsets, t)
		}
		fm.wasFailed = f
	}
	fm.onsets = append(fm.onsets, onsets...)
	return onsets
}

// SimTimeline runs this failure mode alone from tStart to tEnd and returns
// the time it left service.
func (fm *FailureMode) SimTimeline(rng *rand.Rand, tStart, tEnd int, policy Policy) (int, error) {
	s := scheduler{fms: []*FailureMode{fm}, indicators: fm.indicators, policy: policy}
	res, err := s.run(rng, tStart, tEnd)
	if err != nil {
		return 0, err
	}
	return res.tOut, nil
}

// ResetForNextSim clears per-iteration state. Shared indicators are reset
// by the component.
func (fm *FailureMode) ResetForNextSim() {
	fm.initiated, fm.detected, fm.failed = false, false, false
	fm.onsets = fm.onsets[:0]
	fm.wasFailed = false
	fm.inspections, fm.detections = 0, 0
	fm.timeline = Timeline{}
	for _, tk := range fm.tasks {
		tk.Reset()
	}
}

// Reset returns the failure mode and its indicators to their configured
// state.
func (fm *FailureMode) Reset() {
	fm.ResetForNextSim()
	for _, ind := range fm.indicators {
		ind.Reset()
	}
}

// clone copies the failure mode, mapping indicators through shared so
// clones of a component keep indicator sharing.
func (fm *FailureMode) clone(shared map[indicator.Indicator]indicator.Indicator) *FailureMode {
	cp := &FailureMode{
		name:       fm.name,
		active:     fm.active,
		cof:        fm.cof,
		untreated:  fm.untreated,
		initiation: fm.initiation,
		byName:     make(map[string]indicator.Indicator, len(fm.byName)),
		tasks:      make([]*task.Task, len(fm.tasks)),
	}
	for _, ind := range fm.indicators {
		c, ok := shared[ind]
		if !ok {
			c = ind.Clone()
			shared[ind] = c
		}
		cp.indicators = append(cp.indicators, c)
		cp.byName[c.Name()] = c
	}
	for i, tk := range fm.tasks {
		cp.tasks[i] = tk.Clone()
	}
	return cp
}
