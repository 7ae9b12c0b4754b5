package engine

import (
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/miradorstack/mirador-pof/internal/distribution"
	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/task"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWall(t *testing.T, pf int) *indicator.ConditionIndicator {
	t.Helper()
	ind, err := indicator.NewCondition(indicator.Params{
		Name:       "wall",
		Curve:      indicator.CurveLinear,
		Perfect:    100,
		Failed:     0,
		PFInterval: pf,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ind
}

func newTask(t *testing.T, p task.Params) *task.Task {
	t.Helper()
	if p.PEffective == 0 {
		p.PEffective = 1
	}
	p.Active = true
	tk, err := task.New(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tk
}

func inspection(t *testing.T, delay, interval int) *task.Task {
	return newTask(t, task.Params{
		Name:    "inspection",
		Kind:    task.KindInspection,
		Cost:    50,
		Trigger: task.Trigger{Time: &task.TimeTrigger{Delay: delay, Interval: interval}},
		Impact:  task.Impact{State: map[task.State]bool{task.StateDetection: true}},
	})
}

// replacement fires when the wall drops below lower.
func replacement(t *testing.T, lower float64) *task.Task {
	return newTask(t, task.Params{
		Name:    "replace",
		Kind:    task.KindOnConditionReplacement,
		Cost:    1000,
		Trigger: task.Trigger{Condition: map[string]task.Band{"wall": {Lower: lower, Upper: 1000}}},
		Impact: task.Impact{
			State: map[task.State]bool{task.StateInitiation: false, task.StateDetection: false, task.StateFailure: false},
			Condition: map[string]task.Restoration{
				"wall": {Target: 1, Method: indicator.MethodReductionFactor, Axis: indicator.AxisCondition},
			},
			Level: task.LevelSystem,
		},
	})
}

func newFM(t *testing.T, name string, active bool, d distribution.Weibull, inds []indicator.Indicator, tasks ...*task.Task) *FailureMode {
	t.Helper()
	fm, err := NewFailureMode(FailureModeParams{Name: name, Active: active, Distribution: d, COF: 5000}, inds, tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return fm
}

func newComponent(t *testing.T, policy Policy, inds []indicator.Indicator, fms ...*FailureMode) *Component {
	t.Helper()
	c, err := NewComponent(
		ComponentParams{Name: "pole", Active: true, Policy: policy},
		inds, fms,
		Options{Workers: 4, Seed: 42, Logger: discardLogger()},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

// poleComponent has a wall decay mode managed by inspection and on-condition
// replacement, plus an indicator-free mode with no tasks.
func poleComponent(t *testing.T, policy Policy) *Component {
	t.Helper()
	wall := newWall(t, 20)
	decay := newFM(t, "decay", true, distribution.Weibull{Alpha: 40, Beta: 3}, []indicator.Indicator{wall},
		inspection(t, 5, 5), replacement(t, 50))
	lightning := newFM(t, "lightning", true, distribution.Weibull{Alpha: 300, Beta: 1}, nil)
	return newComponent(t, policy, []indicator.Indicator{wall}, decay, lightning)
}
