package task

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

type fakeView struct {
	conditions map[string][]float64
	states     map[State][]bool
}

func (f fakeView) ConditionAt(name string, t int) (float64, bool) {
	tl, ok := f.conditions[name]
	if !ok || t < 0 || t >= len(tl) {
		return 0, false
	}
	return tl[t], true
}

func (f fakeView) StateAt(s State, t int) bool {
	tl := f.states[s]
	return t >= 0 && t < len(tl) && tl[t]
}

type fakeTarget struct {
	states     map[State]bool
	detectable bool
	indicators map[string]indicator.Indicator
}

func (f *fakeTarget) SetState(s State, v bool) { f.states[s] = v }
func (f *fakeTarget) Initiated() bool { return f.states[StateInitiation] }
func (f *fakeTarget) Detectable(int) bool { return f.detectable }
func (f *fakeTarget) Indicator(name string) (indicator.Indicator, bool) {
	ind, ok := f.indicators[name]
	return ind, ok
}

func mustTask(t *testing.T, p Params) *Task {
	t.Helper()
	tk, err := New(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tk
}

func TestTimeTrigger(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "inspection",
		Kind:       KindInspection,
		Active:     true,
		PEffective: 1,
		Trigger:    Trigger{Time: &TimeTrigger{Delay: 5, Interval: 10}},
	})
	var due []int
	for at := 0; at <= 30; at++ {
		if tk.CheckTrigger(fakeView{}, at, 0) {
			due = append(due, at)
		}
	}
	want := []int{5, 15, 25}
	if len(due) != len(want) {
		t.Fatalf("expected %v, got %v", want, due)
	}
	for i := range want {
		if due[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, due)
		}
	}

	// schedule restarts from the reference time
	if !tk.CheckTrigger(fakeView{}, 12, 7) {
		t.Fatalf("expected trigger at delay after reference")
	}
}

func TestConditionTriggerFiresOutsideBand(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "ocr",
		Kind:       KindOnConditionReplacement,
		Active:     true,
		PEffective: 1,
		Trigger:    Trigger{Condition: map[string]Band{"wall": {Lower: 60, Upper: 100}}},
	})
	view := fakeView{conditions: map[string][]float64{"wall": {100, 80, 60, 59}}}
	for at, want := range []bool{false, false, false, true} {
		if got := tk.CheckTrigger(view, at, 0); got != want {
			t.Fatalf("t=%d: expected %v, got %v", at, want, got)
		}
	}
}

func TestStateTriggerRequiresAllStates(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "cm",
		Kind:       KindCorrectiveMaintenance,
		Active:     true,
		PEffective: 1,
		Trigger:    Trigger{State: map[State]bool{StateFailure: true, StateDetection: true}},
	})
	view := fakeView{states: map[State][]bool{
		StateFailure:   {false, true, true},
		StateDetection: {true, false, true},
	}}
	for at, want := range []bool{false, false, true} {
		if got := tk.CheckTrigger(view, at, 0); got != want {
			t.Fatalf("t=%d: expected %v, got %v", at, want, got)
		}
	}
}

func TestInactiveOrUntriggeredNeverFires(t *testing.T) {
	tk := mustTask(t, Params{Name: "idle", Kind: KindGeneric, Active: true, PEffective: 1})
	if tk.CheckTrigger(fakeView{}, 0, 0) {
		t.Fatalf("task without triggers must not fire")
	}
	tk = mustTask(t, Params{Name: "off", Kind: KindGeneric, PEffective: 1, Trigger: Trigger{Time: &TimeTrigger{}}})
	if tk.CheckTrigger(fakeView{}, 0, 0) {
		t.Fatalf("inactive task must not fire")
	}
}

func TestInspectionDetectsOnlyWhenInitiated(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "inspection",
		Kind:       KindInspection,
		Active:     true,
		PEffective: 1,
		Impact:     Impact{State: map[State]bool{StateDetection: true}},
	})
	target := &fakeTarget{states: map[State]bool{}, detectable: true}
	impacts, err := tk.Complete(3, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if impacts != 0 || target.states[StateDetection] {
		t.Fatalf("expected no detection before initiation, got %v", impacts)
	}

	target.states[StateInitiation] = true
	impacts, err = tk.Complete(4, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !impacts.Has(ImpactState) || !target.states[StateDetection] {
		t.Fatalf("expected detection, got %v", impacts)
	}
	if got := tk.Times(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected completions [3 4], got %v", got)
	}
}

func TestCompleteRestoresIndicatorAndFlagsSystem(t *testing.T) {
	wall, err := indicator.NewCondition(indicator.Params{Name: "wall", Curve: indicator.CurveLinear, Perfect: 100, Failed: 0, PFInterval: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wall.SetCondition(40, "")

	tk := mustTask(t, Params{
		Name:       "replace",
		Kind:       KindOnConditionReplacement,
		Active:     true,
		PEffective: 1,
		Impact: Impact{
			State:     map[State]bool{StateInitiation: false, StateFailure: false},
			Condition: map[string]Restoration{"wall": {Target: 1, Method: indicator.MethodReductionFactor, Axis: indicator.AxisCondition}},
			Level:     LevelSystem,
		},
	})
	target := &fakeTarget{states: map[State]bool{StateInitiation: true}, indicators: map[string]indicator.Indicator{"wall": wall}}
	impacts, err := tk.Complete(10, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !impacts.Has(ImpactState) || !impacts.Has(ImpactIndicator) || !impacts.Renewal() {
		t.Fatalf("unexpected impacts %v", impacts)
	}
	if impacts.String() != "state,indicator,system" {
		t.Fatalf("unexpected impact string %q", impacts.String())
	}
	if wall.Condition() != 100 {
		t.Fatalf("expected restored wall, got %v", wall.Condition())
	}
	if target.states[StateInitiation] {
		t.Fatalf("expected initiation cleared")
	}
}

func TestIneffectiveCompletionChangesNothing(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "repair",
		Kind:       KindGeneric,
		Active:     true,
		PEffective: 0,
		Impact:     Impact{State: map[State]bool{StateFailure: false}, Level: LevelComponent},
	})
	target := &fakeTarget{states: map[State]bool{StateFailure: true}}
	impacts, err := tk.Complete(1, target, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if impacts != 0 || !target.states[StateFailure] {
		t.Fatalf("expected no impact, got %v", impacts)
	}
	if len(tk.Times()) != 1 {
		t.Fatalf("expected the attempt to be recorded")
	}
	tk.Reset()
	if len(tk.Times()) != 0 {
		t.Fatalf("expected reset to clear completions")
	}
}

func TestNewValidation(t *testing.T) {
	cases := []Params{
		{Name: "", Kind: KindGeneric},
		{Name: "x", Kind: "polish"},
		{Name: "x", Kind: KindGeneric, PEffective: 2},
		{Name: "x", Kind: KindGeneric, Cost: -1},
		{Name: "x", Kind: KindGeneric, Trigger: Trigger{Condition: map[string]Band{"w": {Lower: 10, Upper: 5}}}},
		{Name: "x", Kind: KindGeneric, Impact: Impact{Level: "planet"}},
		{Name: "x", Kind: KindGeneric, Impact: Impact{Condition: map[string]Restoration{"w": {Method: "polish", Axis: indicator.AxisCondition}}}},
	}
	for i, p := range cases {
		if _, err := New(p); !errors.Is(err, utils.ErrInvalidConfig) {
			t.Fatalf("case %d: expected invalid config, got %v", i, err)
		}
	}
}

func TestUpdateTimeFields(t *testing.T) {
	tk := mustTask(t, Params{Name: "insp", Kind: KindInspection, Active: true, PEffective: 1})
	if err := tk.Update("t_interval", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tk.Update("t_delay", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tk.CheckTrigger(fakeView{}, 6, 0) || tk.CheckTrigger(fakeView{}, 5, 0) {
		t.Fatalf("expected schedule 2, 6, 10")
	}
	if err := tk.Update("colour", 1); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	cp := tk.Clone()
	_ = cp.Update("t_interval", 100)
	if tk.Trigger().Time.Interval != 4 {
		t.Fatalf("clone update leaked into original")
	}
}

func TestTriggerTimeline(t *testing.T) {
	tk := mustTask(t, Params{
		Name:       "insp",
		Kind:       KindInspection,
		Active:     true,
		PEffective: 1,
		Trigger:    Trigger{Time: &TimeTrigger{Delay: 1, Interval: 2}},
	})
	got := tk.TriggerTimeline(fakeView{}, 2, 6, 0)
	want := []bool{false, true, false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if tk.TriggerTimeline(fakeView{}, 5, 4, 0) != nil {
		t.Fatalf("expected nil for empty range")
	}
}
