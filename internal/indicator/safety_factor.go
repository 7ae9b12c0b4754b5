package indicator

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/miradorstack/mirador-pof/internal/utils"
)

const defaultMargin = 4

// SafetyFactor derives a pole safety factor from a diameter indicator and a
// wall thickness indicator owned by the same component.
type SafetyFactor struct {
	base
	diameter      string
	wallThickness string
	margin        float64
	load          float64
	strength      float64

	lookup Lookup
}

// NewSafetyFactor builds a SafetyFactor. Siblings are resolved by Bind.
func NewSafetyFactor(p Params) (*SafetyFactor, error) {
	entity := "indicator " + p.Name
	if p.Diameter == "" {
		return nil, utils.ConfigError(entity, "diameter", "sibling indicator name required")
	}
	if p.WallThickness == "" {
		return nil, utils.ConfigError(entity, "wall_thickness", "sibling indicator name required")
	}
	if p.Margin < 0 || p.PoleLoad < 0 || p.PoleStrength < 0 {
		return nil, utils.ConfigError(entity, "margin", "margin, load and strength must not be negative")
	}
	b, err := newBase(p)
	if err != nil {
		return nil, err
	}
	margin := p.Margin
	if margin == 0 {
		margin = defaultMargin
	}
	return &SafetyFactor{
		base:          b,
		diameter:      p.Diameter,
		wallThickness: p.WallThickness,
		margin:        margin,
		load:          p.PoleLoad,
		strength:      p.PoleStrength,
	}, nil
}

func (s *SafetyFactor) Kind() Kind { return KindSafetyFactor }

// PFInterval is zero; the lead time comes from the sibling indicators.
func (s *SafetyFactor) PFInterval() int { return 0 }

// Siblings names the indicators the factor is derived from.
func (s *SafetyFactor) Siblings() []string { return []string{s.diameter, s.wallThickness} }

// Bind resolves the sibling indicators.
func (s *SafetyFactor) Bind(lookup Lookup) error {
	if lookup == nil {
		return fmt.Errorf("indicator %s: nil lookup", s.name)
	}
	for _, name := range []string{s.diameter, s.wallThickness} {
		if _, ok := lookup.Indicator(name); !ok {
			return utils.ConfigError("indicator "+s.name, "siblings", "indicator %q not found", name)
		}
	}
	s.lookup = lookup
	return nil
}

func (s *SafetyFactor) effectiveMargin() float64 {
	if s.load > 0 && s.strength > 0 {
		return s.strength / s.load
	}
	return s.margin
}

// Calculate applies margin*(czd^4-(czd-2wt)^4)/(agd^3*czd) where agd is the
// as-new diameter, czd the critical zone diameter and wt the wall thickness.
func (s *SafetyFactor) Calculate(agd, czd, wt float64) float64 {
	if agd <= 0 || czd <= 0 {
		return 0
	}
	inner := math.Max(czd-2*wt, 0)
	return s.effectiveMargin() * (math.Pow(czd, 4) - math.Pow(inner, 4)) / (math.Pow(agd, 3) * czd)
}

func (s *SafetyFactor) siblings() (Indicator, Indicator, bool) {
	if s.lookup == nil {
		return nil, nil, false
	}
	d, ok := s.lookup.Indicator(s.diameter)
	if !ok {
		return nil, nil, false
	}
	w, ok := s.lookup.Indicator(s.wallThickness)
	if !ok {
		return nil, nil, false
	}
	return d, w, true
}

func siblingTimeline(ind Indicator, cause string) []float64 {
	if tl := ind.Timeline(cause); len(tl) > 0 {
		return tl
	}
	return ind.AggTimeline()
}

// SimTimeline computes the factor over the absolute indices covered by the
// window starting at tDelay, reading the siblings' stored timelines.
func (s *SafetyFactor) SimTimeline(_ *rand.Rand, tStart, tStop int, cause string, tDelay int) []float64 {
	if tStop < tStart {
		tStop = tStart
	}
	out := make([]float64, tStop-tStart+1)
	d, w, ok := s.siblings()
	if !ok {
		for i := range out {
			out[i] = s.perfect
		}
		s.store(cause, tDelay, out)
		return out
	}
	agd := d.Perfect()
	czd := siblingTimeline(d, cause)
	wt := siblingTimeline(w, cause)
	for i := range out {
		t := tDelay + i
		cv, wv := d.Condition(), w.Condition()
		if t >= 0 && t < len(czd) {
			cv = czd[t]
		}
		if t >= 0 && t < len(wt) {
			wv = wt[t]
		}
		out[i] = s.Calculate(agd, cv, wv)
	}
	s.store(cause, tDelay, out)
	return out
}

// Resume recomputes the factor from the siblings' stored timelines.
func (s *SafetyFactor) Resume(tStart, tStop int, cause string, tDelay int) []float64 {
	return s.SimTimeline(nil, tStart, tStop, cause, tDelay)
}

// Condition is the factor at the siblings' current condition.
func (s *SafetyFactor) Condition() float64 {
	d, w, ok := s.siblings()
	if !ok {
		return s.perfect
	}
	return s.Calculate(d.Perfect(), d.Condition(), w.Condition())
}

// ResetAny restores the siblings, not the derived value.
func (s *SafetyFactor) ResetAny(target float64, method Method, axis Axis) error {
	return s.resetAny(target, method, axis, 0)
}

func (s *SafetyFactor) Update(field string, value float64) error {
	entity := "indicator " + s.name
	switch field {
	case "margin":
		if value <= 0 {
			return utils.ConfigError(entity, field, "must be positive, got %v", value)
		}
		s.margin = value
	case "pole_load":
		s.load = value
	case "pole_strength":
		s.strength = value
	default:
		ok, err := s.updateCommon(field, value)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ConfigError(entity, field, "unknown field")
		}
	}
	return nil
}

// Clone copies the indicator. The copy must be re-bound to its new owner.
func (s *SafetyFactor) Clone() Indicator {
	cp := *s
	cp.base = s.base.clone()
	cp.lookup = nil
	return &cp
}
