package indicator

import (
	"errors"
	"math"
	"testing"
)

type mapLookup map[string]Indicator

func (m mapLookup) Indicator(name string) (Indicator, bool) {
	ind, ok := m[name]
	return ind, ok
}

func TestExpectedConditionZeroVarianceCollapses(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	timelines := [][]float64{{100, 90, 80}, {100, 90, 80}, {100, 90, 80}}
	band, err := ExpectedCondition(c, timelines, 0.95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range band.Mean {
		if math.IsNaN(band.Lower[i]) || math.IsNaN(band.Upper[i]) {
			t.Fatalf("NaN bound at %d", i)
		}
		if band.Lower[i] != band.Mean[i] || band.Upper[i] != band.Mean[i] {
			t.Fatalf("expected collapsed band at %d, got %v..%v around %v", i, band.Lower[i], band.Upper[i], band.Mean[i])
		}
	}
}

func TestExpectedConditionSingleTimeline(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	band, err := ExpectedCondition(c, [][]float64{{100, 50}}, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if band.Lower[1] != 50 || band.Upper[1] != 50 {
		t.Fatalf("expected collapsed band for single sample, got %v..%v", band.Lower[1], band.Upper[1])
	}
}

func TestExpectedConditionClipsToLimits(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	timelines := [][]float64{{100, 0}, {100, 100}, {100, 0}, {100, 100}}
	band, err := ExpectedCondition(c, timelines, 0.99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if band.Mean[1] != 50 {
		t.Fatalf("expected mean 50, got %v", band.Mean[1])
	}
	if band.Lower[1] != 0 || band.Upper[1] != 100 {
		t.Fatalf("expected band clipped to [0, 100], got %v..%v", band.Lower[1], band.Upper[1])
	}
}

func TestExpectedConditionErrors(t *testing.T) {
	c := newTestCondition(t, 100, 0, 10)
	if _, err := ExpectedCondition(c, nil, 0.9); !errors.Is(err, ErrNoTimelines) {
		t.Fatalf("expected ErrNoTimelines, got %v", err)
	}
	if _, err := ExpectedCondition(c, [][]float64{{1}}, 1.5); err == nil {
		t.Fatalf("expected error for confidence outside (0, 1)")
	}
}

func TestSafetyFactorFromSiblings(t *testing.T) {
	diameter, err := NewCondition(Params{Name: "external_diameter", Curve: CurveLinear, Perfect: 300, Failed: 250, PFInterval: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wall, err := NewCondition(Params{Name: "wall_thickness", Curve: CurveLinear, Perfect: 50, Failed: 0, PFInterval: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sf, err := NewSafetyFactor(Params{
		Name:          "safety_factor",
		Perfect:       4,
		Failed:        1,
		Diameter:      "external_diameter",
		WallThickness: "wall_thickness",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lookup := mapLookup{"external_diameter": diameter, "wall_thickness": wall}
	if err := sf.Bind(lookup); err != nil {
		t.Fatalf("unexpected bind error: %v", err)
	}

	diameter.SimTimeline(nil, 0, 60, "fm", 0)
	wall.SimTimeline(nil, 0, 60, "fm", 0)
	tl := sf.SimTimeline(nil, 0, 60, "fm", 0)
	if len(tl) != 61 {
		t.Fatalf("expected 61 points, got %d", len(tl))
	}
	want := sf.Calculate(300, 300, 50)
	if math.Abs(tl[0]-want) > 1e-12 {
		t.Fatalf("expected %v at t=0, got %v", want, tl[0])
	}
	for i := 1; i < len(tl); i++ {
		if tl[i] > tl[i-1]+1e-12 {
			t.Fatalf("safety factor rose at %d", i)
		}
	}
	if !sf.IsFailed(tl[60]) {
		t.Fatalf("expected failure once the wall is gone, got %v", tl[60])
	}
}

func TestSafetyFactorBindMissingSibling(t *testing.T) {
	sf, err := NewSafetyFactor(Params{Name: "sf", Perfect: 4, Failed: 1, Diameter: "d", WallThickness: "w"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sf.Bind(mapLookup{}); err == nil {
		t.Fatalf("expected error for missing siblings")
	}
}
