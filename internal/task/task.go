// Package task models maintenance actions: when they trigger and what they
// change when completed.
package task

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// Kind classifies a task for reporting and inspection semantics.
type Kind string

const (
	KindInspection             Kind = "inspection"
	KindOnConditionReplacement Kind = "on_condition_replacement"
	KindOnConditionRepair      Kind = "on_condition_repair"
	KindScheduledReplacement   Kind = "scheduled_replacement"
	KindCorrectiveMaintenance  Kind = "corrective_maintenance"
	KindGeneric                Kind = "generic"
)

// Kinds lists every accepted kind.
var Kinds = []Kind{
	KindInspection,
	KindOnConditionReplacement,
	KindOnConditionRepair,
	KindScheduledReplacement,
	KindCorrectiveMaintenance,
	KindGeneric,
}

// State names a failure mode state a task can require or assign.
type State string

const (
	StateInitiation State = "initiation"
	StateDetection  State = "detection"
	StateFailure    State = "failure"
)

// Level is the reach of a task's impact.
type Level string

const (
	LevelFailureMode Level = "failure_mode"
	LevelComponent   Level = "component"
	LevelSystem      Level = "system"
)

// Impacts is the set of impact categories produced by completing tasks.
type Impacts uint8

const (
	ImpactState Impacts = 1 << iota
	ImpactIndicator
	ImpactComponent
	ImpactSystem
)

// Has reports whether any of the flags in o are set.
func (i Impacts) Has(o Impacts) bool { return i&o != 0 }

// Renewal reports whether the impacts ask the component to act.
func (i Impacts) Renewal() bool { return i.Has(ImpactComponent | ImpactSystem) }

func (i Impacts) String() string {
	var parts []string
	for _, f := range []struct {
		flag Impacts
		name string
	}{
		{ImpactState, "state"},
		{ImpactIndicator, "indicator"},
		{ImpactComponent, "component"},
		{ImpactSystem, "system"},
	} {
		if i.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

// Band is an acceptable condition range. A condition trigger fires when the
// indicator leaves it.
type Band struct {
	Lower float64
	Upper float64
}

// TimeTrigger fires first at Delay after the reference time and then every
// Interval. A non-positive Interval fires once.
type TimeTrigger struct {
	Delay    int
	Interval int
}

// Trigger combines trigger families; every configured family must hold.
type Trigger struct {
	Time      *TimeTrigger
	Condition map[string]Band
	State     map[State]bool
}

// Restoration is a condition impact applied through indicator.ResetAny.
type Restoration struct {
	Target float64
	Method indicator.Method
	Axis   indicator.Axis
}

// Impact describes what completing a task changes.
type Impact struct {
	State     map[State]bool
	Condition map[string]Restoration
	Level     Level
}

// View exposes the timeline values a trigger reads.
type View interface {
	ConditionAt(indicator string, t int) (float64, bool)
	StateAt(s State, t int) bool
}

// Target receives a task's impacts.
type Target interface {
	SetState(s State, v bool)
	Initiated() bool
	Detectable(t int) bool
	Indicator(name string) (indicator.Indicator, bool)
}

// Params describes a task.
type Params struct {
	Name       string
	Kind       Kind
	Group      string
	Active     bool
	Cost       float64
	PEffective float64
	Trigger    Trigger
	Impact     Impact
}

// Task is a maintenance action owned by a failure mode.
type Task struct {
	name       string
	kind       Kind
	group      string
	active     bool
	cost       float64
	pEffective float64
	trigger    Trigger
	impact     Impact

	times []int
}

// New validates p and builds a Task.
func New(p Params) (*Task, error) {
	entity := "task " + p.Name
	if p.Name == "" {
		return nil, utils.ConfigError("task", "name", "required")
	}
	if !validKind(p.Kind) {
		return nil, utils.ConfigError(entity, "kind", "unknown kind %q", p.Kind)
	}
	if p.Cost < 0 || math.IsNaN(p.Cost) {
		return nil, utils.ConfigError(entity, "cost", "must not be negative, got %v", p.Cost)
	}
	if p.PEffective < 0 || p.PEffective > 1 {
		return nil, utils.ConfigError(entity, "p_effective", "must be in [0, 1], got %v", p.PEffective)
	}
	if tt := p.Trigger.Time; tt != nil && (tt.Delay < 0 || tt.Interval < 0) {
		return nil, utils.ConfigError(entity, "trigger.time", "delay and interval must not be negative")
	}
	for name, b := range p.Trigger.Condition {
		if b.Lower > b.Upper {
			return nil, utils.ConfigError(entity, "trigger.condition."+name, "lower %v above upper %v", b.Lower, b.Upper)
		}
	}
	for name, r := range p.Impact.Condition {
		switch r.Method {
		case indicator.MethodReductionFactor, indicator.MethodReverse, indicator.MethodSet:
		default:
			return nil, utils.ConfigError(entity, "impact.condition."+name, "unknown method %q", r.Method)
		}
		switch r.Axis {
		case indicator.AxisCondition, indicator.AxisTime:
		default:
			return nil, utils.ConfigError(entity, "impact.condition."+name, "unknown axis %q", r.Axis)
		}
	}
	switch p.Impact.Level {
	case "", LevelFailureMode, LevelComponent, LevelSystem:
	default:
		return nil, utils.ConfigError(entity, "impact.level", "unknown level %q", p.Impact.Level)
	}
	return &Task{
		name:       p.Name,
		kind:       p.Kind,
		group:      p.Group,
		active:     p.Active,
		cost:       p.Cost,
		pEffective: p.PEffective,
		trigger:    p.Trigger,
		impact:     p.Impact,
	}, nil
}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (t *Task) Name() string { return t.name }
func (t *Task) Kind() Kind { return t.kind }
func (t *Task) Group() string { return t.group }
func (t *Task) Active() bool { return t.active }
func (t *Task) Cost() float64 { return t.cost }
func (t *Task) Impact() Impact { return t.impact }
func (t *Task) Trigger() Trigger { return t.trigger }
func (t *Task) IsInspection() bool { return t.kind == KindInspection }

// SetActive toggles the task.
func (t *Task) SetActive(active bool) { t.active = active }

// Indicators lists indicators the task reads or restores.
func (t *Task) Indicators() []string {
	seen := map[string]struct{}{}
	for name := range t.trigger.Condition {
		seen[name] = struct{}{}
	}
	for name := range t.impact.Condition {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CheckTrigger reports whether the task is due at t. tRef is the time the
// schedule was last started, usually the last renewal.
func (t *Task) CheckTrigger(view View, at, tRef int) bool {
	if !t.active {
		return false
	}
	tr := t.trigger
	if tr.Time == nil && len(tr.Condition) == 0 && len(tr.State) == 0 {
		return false
	}

	if tt := tr.Time; tt != nil {
		elapsed := at - tRef
		if elapsed < tt.Delay {
			return false
		}
		if tt.Interval <= 0 {
			if elapsed != tt.Delay {
				return false
			}
		} else if (elapsed-tt.Delay)%tt.Interval != 0 {
			return false
		}
	}

	if len(tr.Condition) > 0 {
		outside := false
		for name, band := range tr.Condition {
			v, ok := view.ConditionAt(name, at)
			if ok && (v < band.Lower || v > band.Upper) {
				outside = true
				break
			}
		}
		if !outside {
			return false
		}
	}

	for s, want := range tr.State {
		if view.StateAt(s, at) != want {
			return false
		}
	}
	return true
}

// TriggerTimeline evaluates CheckTrigger for every t in [tStart, tEnd].
func (t *Task) TriggerTimeline(view View, tStart, tEnd, tRef int) []bool {
	if tEnd < tStart {
		return nil
	}
	out := make([]bool, tEnd-tStart+1)
	for i := range out {
		out[i] = t.CheckTrigger(view, tStart+i, tRef)
	}
	return out
}

// Complete records the completion at t and applies the impact to target.
// An ineffective completion is recorded but changes nothing.
func (t *Task) Complete(at int, target Target, rng *rand.Rand) (Impacts, error) {
	t.times = append(t.times, at)
	if t.pEffective < 1 && (rng == nil || rng.Float64() >= t.pEffective) {
		return 0, nil
	}

	var impacts Impacts
	for _, s := range sortedStates(t.impact.State) {
		v := t.impact.State[s]
		if t.IsInspection() && s == StateDetection && v {
			if !target.Initiated() || !target.Detectable(at) {
				continue
			}
		}
		target.SetState(s, v)
		impacts |= ImpactState
	}

	names := make([]string, 0, len(t.impact.Condition))
	for name := range t.impact.Condition {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := t.impact.Condition[name]
		ind, ok := target.Indicator(name)
		if !ok {
			return impacts, fmt.Errorf("task %s: indicator %s not found", t.name, name)
		}
		if err := ind.ResetAny(r.Target, r.Method, r.Axis); err != nil {
			return impacts, fmt.Errorf("task %s: %w", t.name, err)
		}
		impacts |= ImpactIndicator
	}

	switch t.impact.Level {
	case LevelComponent:
		impacts |= ImpactComponent
	case LevelSystem:
		impacts |= ImpactSystem
	}
	return impacts, nil
}

func sortedStates(m map[State]bool) []State {
	out := make([]State, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Times returns the completion times recorded since the last Reset.
func (t *Task) Times() []int { return t.times }

// Reset clears recorded completions.
func (t *Task) Reset() { t.times = t.times[:0] }

// Update sets a numeric parameter by name.
func (t *Task) Update(field string, value float64) error {
	entity := "task " + t.name
	switch field {
	case "active":
		t.active = value != 0
	case "cost":
		if value < 0 {
			return utils.ConfigError(entity, field, "must not be negative, got %v", value)
		}
		t.cost = value
	case "p_effective":
		if value < 0 || value > 1 {
			return utils.ConfigError(entity, field, "must be in [0, 1], got %v", value)
		}
		t.pEffective = value
	case "t_delay", "t_interval":
		if value < 0 {
			return utils.ConfigError(entity, field, "must not be negative, got %v", value)
		}
		tt := TimeTrigger{}
		if t.trigger.Time != nil {
			tt = *t.trigger.Time
		}
		if field == "t_delay" {
			tt.Delay = int(value)
		} else {
			tt.Interval = int(value)
		}
		t.trigger.Time = &tt
	default:
		return utils.ConfigError(entity, field, "unknown field")
	}
	return nil
}

// Clone returns an independent copy without recorded completions.
func (t *Task) Clone() *Task {
	cp := *t
	cp.times = nil
	if t.trigger.Time != nil {
		tt := *t.trigger.Time
		cp.trigger.Time = &tt
	}
	// trigger and impact maps are read-only after construction
	return &cp
}
