package indicator

import (
	"errors"
	"math"
	"testing"

	"github.com/miradorstack/mirador-pof/internal/utils"
)

func newTestCondition(t *testing.T, perfect, failed float64, interval int) *ConditionIndicator {
	t.Helper()
	c, err := NewCondition(Params{
		Name:       "wall_thickness",
		Curve:      CurveLinear,
		Perfect:    perfect,
		Failed:     failed,
		PFInterval: interval,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func full(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func assertSeries(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected length %d, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSimTimelineWindows(t *testing.T) {
	cases := []struct {
		name      string
		condition *float64
		start     int
		stop      int
		want      []float64
	}{
		{name: "pre-initiation hold", start: -10, stop: 10, want: concat(full(100, 10), linspace(100, 90, 11))},
		{name: "past failure", start: -10, stop: 100, want: concat(full(100, 10), linspace(100, 50, 51), full(50, 50))},
		{name: "to end", start: -10, stop: ToEnd, want: concat(full(100, 10), linspace(100, 50, 51))},
		{name: "inside profile", start: 5, stop: 10, want: linspace(95, 90, 6)},
		{name: "inside then failed", start: 5, stop: 100, want: concat(linspace(95, 50, 46), full(50, 50))},
		{name: "from zero", start: 0, stop: 10, want: linspace(100, 90, 11)},
		{name: "entirely before", start: -100, stop: -10, want: full(100, 91)},
		{name: "start after stop", start: 20, stop: 10, want: []float64{90}},
		{name: "after profile", start: 110, stop: 100, want: []float64{50}},
		{name: "start past end", start: 60, stop: ToEnd, want: []float64{50}},
		{name: "degraded hold", condition: ptr(90), start: -10, stop: 20, want: concat(full(90, 10), linspace(90, 70, 21))},
		{name: "degraded to end", condition: ptr(90), start: -10, stop: ToEnd, want: concat(full(90, 10), linspace(90, 50, 41), full(50, 10))},
		{name: "failed", condition: ptr(50), start: 60, stop: 100, want: full(50, 41)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCondition(t, 100, 50, 50)
			if tc.condition != nil {
				c.SetCondition(*tc.condition, "")
			}
			got := c.SimTimeline(nil, tc.start, tc.stop, "", 0)
			assertSeries(t, got, tc.want)
		})
	}
}

func ptr(v float64) *float64 { return &v }

func TestSimTimelineKeepsHistoryBeforeDelay(t *testing.T) {
	c := newTestCondition(t, 100, 50, 50)
	c.SimTimeline(nil, 0, 20, "fm", 0)
	first := append([]float64(nil), c.Timeline("fm")...)

	c.SetCondition(80, "fm")
	c.SimTimeline(nil, 0, 10, "fm", 10)
	tl := c.Timeline("fm")
	if len(tl) != 21 {
		t.Fatalf("expected 21 stored points, got %d", len(tl))
	}
	assertSeries(t, tl[:10], first[:10])
	assertSeries(t, tl[10:], linspace(80, 70, 11))
}

func TestSetConditionClamps(t *testing.T) {
	cases := []struct {
		perfect, failed float64
		set             float64
		condition       float64
		accumulated     float64
	}{
		{100, 50, 150, 100, 0},
		{100, 50, 0, 50, 50},
		{100, 50, 70, 70, 30},
		{50, 100, 150, 100, 50},
		{50, 100, 0, 50, 0},
		{50, 100, 70, 70, 20},
	}
	for _, tc := range cases {
		c := newTestCondition(t, tc.perfect, tc.failed, 10)
		c.SetCondition(tc.set, "")
		if got := c.Condition(); got != tc.condition {
			t.Fatalf("perfect %v failed %v set %v: expected condition %v, got %v", tc.perfect, tc.failed, tc.set, tc.condition, got)
		}
		if got := c.Accumulated(""); got != tc.accumulated {
			t.Fatalf("perfect %v failed %v set %v: expected accumulated %v, got %v", tc.perfect, tc.failed, tc.set, tc.accumulated, got)
		}
		lo, hi := math.Min(tc.perfect, tc.failed), math.Max(tc.perfect, tc.failed)
		if c.Condition() < lo || c.Condition() > hi {
			t.Fatalf("condition %v outside [%v, %v]", c.Condition(), lo, hi)
		}
	}
}

func TestProfileMonotone(t *testing.T) {
	dec := newTestCondition(t, 100, 0, 30)
	tl := dec.SimTimeline(nil, -5, 60, "", 0)
	for i := 1; i < len(tl); i++ {
		if tl[i] > tl[i-1] {
			t.Fatalf("decreasing indicator rose at %d: %v -> %v", i, tl[i-1], tl[i])
		}
	}

	inc := newTestCondition(t, 0, 100, 30)
	tl = inc.SimTimeline(nil, -5, 60, "", 0)
	for i := 1; i < len(tl); i++ {
		if tl[i] < tl[i-1] {
			t.Fatalf("increasing indicator fell at %d: %v -> %v", i, tl[i-1], tl[i])
		}
	}
}

func TestStepProfile(t *testing.T) {
	c, err := NewCondition(Params{Name: "step", Curve: CurveStep, Perfect: 1, Failed: 0, PFInterval: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.SimTimeline(nil, 0, 7, "", 0)
	assertSeries(t, got, []float64{1, 1, 1, 1, 1, 0, 0, 0})
}

func TestResumeKeepsStepPosition(t *testing.T) {
	c, err := NewCondition(Params{Name: "crack", Curve: CurveStep, Perfect: 1, Failed: 0, PFInterval: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SimTimeline(nil, 0, 10, "rot", 0)
	want := append([]float64(nil), c.Timeline("rot")...)

	c.SnapshotAt(2, "rot")
	c.Resume(3, 10, "rot", 3)
	assertSeries(t, c.Timeline("rot"), want)
}

func TestResumeContinuesRestoredCondition(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	c.SimTimeline(nil, 0, 10, "rot", 0)
	c.SnapshotAt(4, "rot")
	if err := c.ResetAny(0.5, MethodReductionFactor, AxisCondition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.Resume(5, 10, "rot", 5)
	assertSeries(t, got, linspace(70, 20, 6))
	assertSeries(t, c.Timeline("rot")[:5], linspace(100, 60, 5))
}

func TestResetAnyReductionFactor(t *testing.T) {
	cases := map[float64]float64{1: 100, 0.5: 75, 0: 50}
	for target, want := range cases {
		c := newTestCondition(t, 100, 0, 10)
		c.SetCondition(50, "")
		if err := c.ResetAny(target, MethodReductionFactor, AxisCondition); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := c.Condition(); got != want {
			t.Fatalf("target %v: expected %v, got %v", target, want, got)
		}
	}
}

func TestResetAnyReverseAndSet(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	c.SetCondition(40, "")
	if err := c.ResetAny(20, MethodReverse, AxisCondition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Condition(); got != 60 {
		t.Fatalf("expected 60 after reverse, got %v", got)
	}

	if err := c.ResetAny(90, MethodSet, AxisCondition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Condition(); got != 90 {
		t.Fatalf("expected 90 after set, got %v", got)
	}

	// 10 per unit time along the profile
	if err := c.ResetAny(3, MethodSet, AxisTime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Condition(); got != 70 {
		t.Fatalf("expected 70 after time set, got %v", got)
	}
}

func TestResetAnyRejectsUnknownMethod(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	err := c.ResetAny(1, Method("polish"), AxisCondition)
	if !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestResetRestoresInitial(t *testing.T) {
	c, err := NewCondition(Params{Name: "wt", Curve: CurveLinear, Perfect: 100, Failed: 0, PFInterval: 10, Initial: ptr(80)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Accumulated(""); got != 20 {
		t.Fatalf("expected initial accumulated 20, got %v", got)
	}
	c.SetCondition(10, "fm")
	c.Reset()
	if got := c.Accumulated(""); got != 20 {
		t.Fatalf("expected accumulated 20 after reset, got %v", got)
	}
}

func TestPermanentLossSurvivesNextSim(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	c.SetCondition(90, PermanentCause)
	c.SetCondition(50, "fm")
	c.ResetForNextSim()
	if got := c.Condition(); got != 90 {
		t.Fatalf("expected permanent loss kept, got condition %v", got)
	}
	c.Renew()
	if got := c.Accumulated("fm"); got != 10 {
		t.Fatalf("expected only permanent loss after renew, got %v", got)
	}
	c.Reset()
	if got := c.Condition(); got != 100 {
		t.Fatalf("expected full reset to perfect, got %v", got)
	}
}

func TestSnapshotAtAndAggregate(t *testing.T) {
	c := newTestCondition(t, 100, 0, 100)
	c.SimTimeline(nil, 0, 20, "a", 0)
	c.SimTimeline(nil, -10, 10, "b", 0)

	agg := c.AggTimeline()
	// a has lost 20 and b 10 by t=20
	if got := agg[20]; got != 70 {
		t.Fatalf("expected aggregate 70, got %v", got)
	}

	c.SnapshotAt(20, "a")
	if got := c.Accumulated("a"); got != 20 {
		t.Fatalf("expected snapshot loss 20, got %v", got)
	}
}

func TestThresholdValidation(t *testing.T) {
	_, err := NewCondition(Params{Name: "x", Curve: CurveLinear, Perfect: 100, Failed: 0, PFInterval: 10, ThresholdFailure: ptr(120)})
	if !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	_, err = NewCondition(Params{Name: "x", Curve: "exponential", Perfect: 100, Failed: 0, PFInterval: 10})
	if !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for curve, got %v", err)
	}
	_, err = New(Params{Name: "x", Kind: "mystery"})
	if !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for kind, got %v", err)
	}
}

func TestIsFailedHonoursDirection(t *testing.T) {
	dec := newTestCondition(t, 100, 50, 10)
	if !dec.IsFailed(50) || dec.IsFailed(51) {
		t.Fatalf("unexpected decreasing failure evaluation")
	}
	inc := newTestCondition(t, 50, 100, 10)
	if !inc.IsFailed(100) || inc.IsFailed(99) {
		t.Fatalf("unexpected increasing failure evaluation")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	c.SimTimeline(nil, 0, 5, "fm", 0)
	cp := c.Clone()
	cp.SetCondition(10, "fm")
	cp.SimTimeline(nil, 0, 5, "fm", 0)
	if c.Accumulated("fm") != 0 {
		t.Fatalf("clone mutated original accumulation")
	}
	if c.Timeline("fm")[0] != 100 {
		t.Fatalf("clone mutated original timeline")
	}
}
