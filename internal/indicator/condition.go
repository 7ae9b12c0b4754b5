package indicator

import (
	"math"
	"math/rand/v2"

	"github.com/miradorstack/mirador-pof/internal/utils"
)

// ConditionIndicator degrades along a profile from perfect to failed over
// the pf interval.
type ConditionIndicator struct {
	base
	curve      Curve
	pfInterval int
	pfStd      float64

	profiles  map[int][]float64
	intervals map[string]int
}

// NewCondition builds a ConditionIndicator.
func NewCondition(p Params) (*ConditionIndicator, error) {
	entity := "indicator " + p.Name
	switch p.Curve {
	case CurveLinear, CurveStep:
	default:
		return nil, utils.ConfigError(entity, "pf_curve", "must be one of %q, %q; got %q", CurveLinear, CurveStep, p.Curve)
	}
	if p.PFInterval < 0 {
		return nil, utils.ConfigError(entity, "pf_interval", "must not be negative, got %d", p.PFInterval)
	}
	if p.PFStd < 0 || math.IsNaN(p.PFStd) {
		return nil, utils.ConfigError(entity, "pf_std", "must not be negative, got %v", p.PFStd)
	}
	b, err := newBase(p)
	if err != nil {
		return nil, err
	}
	return &ConditionIndicator{
		base:       b,
		curve:      p.Curve,
		pfInterval: p.PFInterval,
		pfStd:      p.PFStd,
		profiles:   map[int][]float64{},
		intervals:  map[string]int{},
	}, nil
}

func (c *ConditionIndicator) Kind() Kind { return KindCondition }

func (c *ConditionIndicator) PFInterval() int { return c.pfInterval }

// Curve reports the profile shape.
func (c *ConditionIndicator) Curve() Curve { return c.curve }

// Profile returns the cached condition profile for an interval.
func (c *ConditionIndicator) Profile(interval int) []float64 {
	if p, ok := c.profiles[interval]; ok {
		return p
	}
	var p []float64
	switch {
	case interval <= 0:
		p = []float64{c.failed}
	case c.curve == CurveStep:
		p = make([]float64, interval+1)
		for x := range p {
			p[x] = c.perfect
		}
		p[interval] = c.failed
	default:
		p = make([]float64, interval+1)
		m := (c.failed - c.perfect) / float64(interval)
		for x := range p {
			p[x] = c.perfect + m*float64(x)
		}
	}
	c.profiles[interval] = p
	return p
}

func (c *ConditionIndicator) sampleInterval(rng *rand.Rand) int {
	if c.pfStd <= 0 || rng == nil {
		return c.pfInterval
	}
	interval := int(math.Round(float64(c.pfInterval) + c.pfStd*rng.NormFloat64()))
	if interval < 0 {
		return 0
	}
	return interval
}

func (c *ConditionIndicator) SimTimeline(rng *rand.Rand, tStart, tStop int, cause string, tDelay int) []float64 {
	interval := c.sampleInterval(rng)
	c.intervals[cause] = interval
	profile := c.Profile(interval)
	out := c.accTimeline(profile, tStart, tStop, c.offset(cause))
	c.store(cause, tDelay, out)
	return out
}

// Resume continues the cause's last sampled profile from elapsed time
// tStart. The offset is re-derived so the value at tStart-1 equals the
// accumulated loss, which may have been restored since.
func (c *ConditionIndicator) Resume(tStart, tStop int, cause string, tDelay int) []float64 {
	interval, ok := c.intervals[cause]
	if !ok {
		interval = c.pfInterval
	}
	profile := c.Profile(interval)
	delta := c.offset(cause) - c.profileLoss(profile, tStart-1)
	out := c.accTimeline(profile, tStart, tStop, delta)
	c.store(cause, tDelay, out)
	return out
}

// profileLoss is the loss along profile at elapsed time x. The profile
// holds its first value before initiation. Past its end a linear profile
// keeps its slope so restored condition still degrades to failure.
func (c *ConditionIndicator) profileLoss(profile []float64, x int) float64 {
	switch {
	case x >= len(profile):
		if c.curve == CurveLinear && len(profile) > 1 {
			return c.lossRange() * float64(x) / float64(len(profile)-1)
		}
		return c.lossRange()
	case x < 0:
		x = 0
	}
	return c.lossOf(profile[x])
}

// accTimeline windows the profile to [tStart, tStop] and shifts it by
// delta loss. A negative delta is restored condition; the result stays
// within [failed, perfect].
func (c *ConditionIndicator) accTimeline(profile []float64, tStart, tStop int, delta float64) []float64 {
	tMax := len(profile) - 1
	if tStop == ToEnd {
		tStop = tMax
	}
	if tStart > tStop {
		tStart = tStop
	}
	if tStop < 0 {
		tStart -= tStop
		tStop = 0
	}

	out := make([]float64, tStop-tStart+1)
	for i := range out {
		out[i] = c.conditionOf(c.profileLoss(profile, tStart+i) + delta)
	}
	return out
}

func (c *ConditionIndicator) ResetAny(target float64, method Method, axis Axis) error {
	return c.resetAny(target, method, axis, c.slope())
}

// slope is the loss per unit time along the nominal profile.
func (c *ConditionIndicator) slope() float64 {
	if c.pfInterval <= 0 {
		return c.lossRange()
	}
	return c.lossRange() / float64(c.pfInterval)
}

func (c *ConditionIndicator) Reset() {
	c.base.Reset()
	c.profiles = map[int][]float64{}
	c.intervals = map[string]int{}
}

func (c *ConditionIndicator) Update(field string, value float64) error {
	entity := "indicator " + c.name
	switch field {
	case "pf_interval":
		if value < 0 {
			return utils.ConfigError(entity, field, "must not be negative, got %v", value)
		}
		c.pfInterval = int(value)
	case "pf_std":
		if value < 0 {
			return utils.ConfigError(entity, field, "must not be negative, got %v", value)
		}
		c.pfStd = value
	default:
		ok, err := c.updateCommon(field, value)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ConfigError(entity, field, "unknown field")
		}
	}
	c.profiles = map[int][]float64{}
	return nil
}

// Bind is a no-op; condition indicators have no siblings.
func (c *ConditionIndicator) Bind(Lookup) error { return nil }

func (c *ConditionIndicator) Clone() Indicator {
	cp := &ConditionIndicator{
		base:       c.base.clone(),
		curve:      c.curve,
		pfInterval: c.pfInterval,
		pfStd:      c.pfStd,
		profiles:   make(map[int][]float64, len(c.profiles)),
		intervals:  make(map[string]int, len(c.intervals)),
	}
	// profiles are never mutated after creation
	for k, v := range c.profiles {
		cp.profiles[k] = v
	}
	for k, v := range c.intervals {
		cp.intervals[k] = v
	}
	return cp
}
