// Package indicator models degrading health measures. A condition indicator
// follows a deterministic profile from initiation to failure and accumulates
// loss per cause; derived indicators compute their value from siblings.
package indicator

import (
	"math"
	"math/rand/v2"

	"github.com/miradorstack/mirador-pof/internal/utils"
)

// Kind selects the indicator implementation.
type Kind string

const (
	KindCondition    Kind = "condition"
	KindSafetyFactor Kind = "safety_factor"
)

// Curve is the shape of the condition profile.
type Curve string

const (
	CurveLinear Curve = "linear"
	CurveStep   Curve = "step"
)

// Method selects how ResetAny restores condition.
type Method string

const (
	MethodReductionFactor Method = "reduction_factor"
	MethodReverse         Method = "reverse"
	MethodSet             Method = "set"
)

// Axis selects the units of a restoration target.
type Axis string

const (
	AxisCondition Axis = "condition"
	AxisTime      Axis = "time"
)

// PermanentCause holds loss that survives renewal and next-sim resets.
const PermanentCause = "permanent"

// ToEnd as a stop time means the end of the profile.
const ToEnd = math.MaxInt32

// Lookup resolves sibling indicators owned by the same component.
type Lookup interface {
	Indicator(name string) (Indicator, bool)
}

// Indicator is a degrading health measure.
type Indicator interface {
	Name() string
	Kind() Kind
	Perfect() float64
	Failed() float64
	Decreasing() bool
	PFInterval() int

	// SimTimeline returns the condition for elapsed times tStart..tStop since
	// initiation and stores it for cause from absolute index tDelay on.
	SimTimeline(rng *rand.Rand, tStart, tStop int, cause string, tDelay int) []float64
	// Resume continues the profile last sampled for cause from elapsed time
	// tStart, starting from the cause's accumulated loss.
	Resume(tStart, tStop int, cause string, tDelay int) []float64
	Timeline(cause string) []float64
	AggTimeline() []float64
	FailureTimeline(cause string) []bool

	Condition() float64
	SetCondition(v float64, cause string)
	Accumulated(cause string) float64
	SnapshotAt(t int, cause string)

	IsFailed(v float64) bool
	IsDetectable(v float64) bool

	ResetAny(target float64, method Method, axis Axis) error
	Renew()
	ResetForNextSim()
	Reset()

	Update(field string, value float64) error
	Bind(lookup Lookup) error
	Clone() Indicator
}

// Params describes an indicator. Zero thresholds and initial values are
// replaced by perfect (detection, initial) and failed (failure).
type Params struct {
	Name               string
	Kind               Kind
	Curve              Curve
	Perfect            float64
	Failed             float64
	PFInterval         int
	PFStd              float64
	ThresholdDetection *float64
	ThresholdFailure   *float64
	Initial            *float64

	// safety factor inputs
	Diameter      string
	WallThickness string
	Margin        float64
	PoleLoad      float64
	PoleStrength  float64
}

// New builds the indicator variant selected by p.Kind.
func New(p Params) (Indicator, error) {
	switch p.Kind {
	case KindCondition, "":
		return NewCondition(p)
	case KindSafetyFactor:
		return NewSafetyFactor(p)
	default:
		return nil, utils.ConfigError("indicator "+p.Name, "kind", "unknown kind %q", p.Kind)
	}
}

// base holds limits, thresholds and per-cause accumulation shared by all
// variants.
type base struct {
	name               string
	perfect            float64
	failed             float64
	thresholdDetection float64
	thresholdFailure   float64
	initial            float64

	accumulated map[string]float64
	timelines   map[string][]float64
}

func newBase(p Params) (base, error) {
	entity := "indicator " + p.Name
	if p.Name == "" {
		return base{}, utils.ConfigError("indicator", "name", "required")
	}
	if p.Perfect == p.Failed {
		return base{}, utils.ConfigError(entity, "perfect", "must differ from failed (%v)", p.Failed)
	}
	b := base{
		name:               p.Name,
		perfect:            p.Perfect,
		failed:             p.Failed,
		thresholdDetection: p.Perfect,
		thresholdFailure:   p.Failed,
		initial:            p.Perfect,
	}
	if p.ThresholdFailure != nil {
		b.thresholdFailure = *p.ThresholdFailure
	}
	if p.ThresholdDetection != nil {
		b.thresholdDetection = *p.ThresholdDetection
	}
	if p.Initial != nil {
		b.initial = *p.Initial
	}
	if !b.between(b.thresholdFailure, b.perfect, b.failed) {
		return base{}, utils.ConfigError(entity, "threshold_failure", "%v outside [%v, %v]", b.thresholdFailure, b.perfect, b.failed)
	}
	if !b.between(b.thresholdDetection, b.perfect, b.thresholdFailure) {
		return base{}, utils.ConfigError(entity, "threshold_detection", "%v must lie between perfect %v and failure threshold %v", b.thresholdDetection, b.perfect, b.thresholdFailure)
	}
	b.Reset()
	return b, nil
}

func (b *base) between(v, x, y float64) bool {
	return v >= math.Min(x, y) && v <= math.Max(x, y)
}

func (b *base) Name() string { return b.name }

func (b *base) Perfect() float64 { return b.perfect }

func (b *base) Failed() float64 { return b.failed }

func (b *base) Decreasing() bool { return b.perfect > b.failed }

func (b *base) lossRange() float64 { return math.Abs(b.perfect - b.failed) }

// lossOf converts a condition value into clamped accumulated loss.
func (b *base) lossOf(v float64) float64 {
	loss := v - b.perfect
	if b.Decreasing() {
		loss = b.perfect - v
	}
	return clamp(loss, 0, b.lossRange())
}

func (b *base) conditionOf(loss float64) float64 {
	loss = clamp(loss, 0, b.lossRange())
	if b.Decreasing() {
		return b.perfect - loss
	}
	return b.perfect + loss
}

// offset is the loss applied to a cause timeline: its own loss plus the
// shared base and permanent loss.
func (b *base) offset(cause string) float64 {
	off := b.accumulated[""] + b.accumulated[PermanentCause]
	if cause != "" && cause != PermanentCause {
		off += b.accumulated[cause]
	}
	return clamp(off, 0, b.lossRange())
}

func (b *base) shared() float64 {
	return clamp(b.accumulated[""]+b.accumulated[PermanentCause], 0, b.lossRange())
}

func (b *base) total() float64 {
	sum := 0.0
	for _, v := range b.accumulated {
		sum += v
	}
	return clamp(sum, 0, b.lossRange())
}

func (b *base) Accumulated(cause string) float64 {
	return b.offset(cause)
}

func (b *base) Condition() float64 {
	return b.conditionOf(b.total())
}

func (b *base) SetCondition(v float64, cause string) {
	b.accumulated[cause] = b.lossOf(v)
}

func (b *base) Timeline(cause string) []float64 {
	return b.timelines[cause]
}

// SnapshotAt folds the stored timeline value at t into the cause's
// accumulated loss.
func (b *base) SnapshotAt(t int, cause string) {
	tl := b.timelines[cause]
	if t < 0 || t >= len(tl) {
		return
	}
	own := b.lossOf(tl[t])
	switch cause {
	case PermanentCause:
	case "":
		own -= b.accumulated[PermanentCause]
	default:
		own -= b.shared()
	}
	b.accumulated[cause] = clamp(own, 0, b.lossRange())
}

func (b *base) AggTimeline() []float64 {
	if len(b.timelines) == 0 {
		return nil
	}
	n := 0
	for _, tl := range b.timelines {
		if len(tl) > n {
			n = len(tl)
		}
	}
	shared := b.shared()
	out := make([]float64, n)
	for t := range out {
		loss := shared
		for _, tl := range b.timelines {
			if len(tl) == 0 {
				continue
			}
			v := tl[len(tl)-1]
			if t < len(tl) {
				v = tl[t]
			}
			loss += math.Max(0, b.lossOf(v)-shared)
		}
		out[t] = b.conditionOf(loss)
	}
	return out
}

func (b *base) FailureTimeline(cause string) []bool {
	tl := b.timelines[cause]
	out := make([]bool, len(tl))
	for i, v := range tl {
		out[i] = b.IsFailed(v)
	}
	return out
}

func (b *base) IsFailed(v float64) bool {
	if b.Decreasing() {
		return v <= b.thresholdFailure
	}
	return v >= b.thresholdFailure
}

func (b *base) IsDetectable(v float64) bool {
	if b.Decreasing() {
		return v <= b.thresholdDetection
	}
	return v >= b.thresholdDetection
}

// store writes values into the cause timeline from tDelay, keeping the
// history before it.
func (b *base) store(cause string, tDelay int, values []float64) {
	if tDelay < 0 {
		tDelay = 0
	}
	prev := b.timelines[cause]
	keep := tDelay
	if keep > len(prev) {
		keep = len(prev)
	}
	tl := make([]float64, 0, tDelay+len(values))
	tl = append(tl, prev[:keep]...)
	for len(tl) < tDelay && len(values) > 0 {
		tl = append(tl, values[0])
	}
	tl = append(tl, values...)
	b.timelines[cause] = tl
}

// restore adjusts non-permanent loss so that it totals newLoss, keeping the
// split between causes.
func (b *base) restore(newLoss float64) {
	current := 0.0
	for cause, v := range b.accumulated {
		if cause != PermanentCause {
			current += v
		}
	}
	newLoss = clamp(newLoss, 0, b.lossRange())
	if current <= 0 {
		b.accumulated[""] = newLoss
		return
	}
	scale := newLoss / current
	for cause, v := range b.accumulated {
		if cause != PermanentCause {
			b.accumulated[cause] = v * scale
		}
	}
}

func (b *base) resetAny(target float64, method Method, axis Axis, slope float64) error {
	entity := "indicator " + b.name
	if axis != AxisCondition && axis != AxisTime {
		return utils.ConfigError(entity, "axis", "unknown axis %q", axis)
	}
	current := 0.0
	for cause, v := range b.accumulated {
		if cause != PermanentCause {
			current += v
		}
	}

	switch method {
	case MethodReductionFactor:
		b.restore(current * (1 - clamp(target, 0, 1)))
	case MethodReverse:
		amount := math.Abs(target)
		if axis == AxisTime {
			amount = target * slope
		}
		b.restore(math.Max(0, current-amount))
	case MethodSet:
		loss := b.lossOf(target)
		if axis == AxisTime {
			loss = clamp(target*slope, 0, b.lossRange())
		}
		b.restore(math.Max(0, loss-b.accumulated[PermanentCause]))
	default:
		return utils.ConfigError(entity, "method", "unknown restoration method %q", method)
	}
	return nil
}

// Renew removes all non-permanent loss. Stored timelines are kept so the
// history before the renewal survives.
func (b *base) Renew() {
	permanent := b.accumulated[PermanentCause]
	b.accumulated = map[string]float64{}
	if permanent > 0 {
		b.accumulated[PermanentCause] = permanent
	}
}

// ResetForNextSim restores the initial loss, keeps permanent loss and
// drops stored timelines.
func (b *base) ResetForNextSim() {
	b.Renew()
	b.accumulated[""] = b.lossOf(b.initial)
	b.timelines = map[string][]float64{}
}

// Reset returns to the factory default.
func (b *base) Reset() {
	b.accumulated = map[string]float64{"": b.lossOf(b.initial)}
	b.timelines = map[string][]float64{}
}

func (b *base) updateCommon(field string, value float64) (bool, error) {
	entity := "indicator " + b.name
	switch field {
	case "perfect":
		if value == b.failed {
			return true, utils.ConfigError(entity, field, "must differ from failed")
		}
		b.perfect = value
	case "failed":
		if value == b.perfect {
			return true, utils.ConfigError(entity, field, "must differ from perfect")
		}
		b.failed = value
	case "threshold_failure":
		if !b.between(value, b.perfect, b.failed) {
			return true, utils.ConfigError(entity, field, "%v outside [%v, %v]", value, b.perfect, b.failed)
		}
		b.thresholdFailure = value
	case "threshold_detection":
		if !b.between(value, b.perfect, b.thresholdFailure) {
			return true, utils.ConfigError(entity, field, "%v outside [%v, %v]", value, b.perfect, b.thresholdFailure)
		}
		b.thresholdDetection = value
	case "initial":
		b.initial = value
		b.accumulated[""] = b.lossOf(value)
	default:
		return false, nil
	}
	return true, nil
}

func (b base) clone() base {
	c := b
	c.accumulated = make(map[string]float64, len(b.accumulated))
	for k, v := range b.accumulated {
		c.accumulated[k] = v
	}
	c.timelines = make(map[string][]float64, len(b.timelines))
	for k, v := range b.timelines {
		c.timelines[k] = append([]float64(nil), v...)
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
