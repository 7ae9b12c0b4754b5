package engine

import (
	"math/rand/v2"

	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/task"
)

// Policy controls how renewal impacts are handled. It is fixed for the
// duration of an ensemble.
type Policy struct {
	// RemainFailed leaves the asset failed and out of service instead of
	// renewing it.
	RemainFailed bool `json:"remain_failed" yaml:"remain_failed"`
	// AllowSystemImpact lets component and system level impacts act at all.
	AllowSystemImpact bool `json:"allow_system_impact" yaml:"allow_system_impact"`
}

// Outcome classifies how an iteration ended for a component or failure mode.
type Outcome string

const (
	OutcomeInService          Outcome = "in_service"
	OutcomeConditionalFailure Outcome = "conditional_failure"
	OutcomeFunctionalFailure  Outcome = "functional_failure"
)

// Event is the first end event of an iteration.
type Event struct {
	Outcome     Outcome `json:"outcome"`
	FailureMode string  `json:"failure_mode,omitempty"`
	Time        int     `json:"time"`
}

type runResult struct {
	tOut      int
	inService bool
	event     Event
	fmEvents  map[string]Event
}

// record keeps the earliest event. Failures are recorded before tasks at the
// same time so ties resolve to functional failure.
func (r *runResult) record(outcome Outcome, fm string, t int) {
	ev := Event{Outcome: outcome, FailureMode: fm, Time: t}
	if prev, ok := r.fmEvents[fm]; !ok || t < prev.Time {
		r.fmEvents[fm] = ev
	}
	if r.event.Outcome == "" || t < r.event.Time {
		r.event = ev
	}
}

func (r *runResult) outcome() Event {
	if r.event.Outcome == "" {
		return Event{Outcome: OutcomeInService, Time: r.tOut}
	}
	return r.event
}

type dueTasks struct {
	fm    *FailureMode
	tasks []*task.Task
}

// scheduler advances a set of failure modes sharing indicators from one task
// batch to the next.
type scheduler struct {
	fms        []*FailureMode
	indicators []indicator.Indicator
	policy     Policy
}

func (s *scheduler) active() []*FailureMode {
	out := make([]*FailureMode, 0, len(s.fms))
	for _, fm := range s.fms {
		if fm.Active() {
			out = append(out, fm)
		}
	}
	return out
}

func (s *scheduler) run(rng *rand.Rand, tStart, tEnd int) (runResult, error) {
	res := runResult{tOut: tEnd, inService: true, fmEvents: map[string]Event{}}
	active := s.active()
	for _, fm := range active {
		fm.InitTimeline(rng, tStart, tEnd)
	}

	tNow := tStart
	for tNow <= tEnd && res.inService {
		tNext := tEnd
		var batch []dueTasks
		for _, fm := range active {
			t, due := fm.NextTasks(tNow)
			if len(due) == 0 {
				continue
			}
			if t < tNext {
				tNext = t
				batch = batch[:0]
			}
			if t == tNext {
				batch = append(batch, dueTasks{fm: fm, tasks: due})
			}
		}

		for _, fm := range active {
			for _, t := range fm.trackFailures(tNow, tNext) {
				res.record(OutcomeFunctionalFailure, fm.Name(), t)
			}
		}
		if len(batch) == 0 {
			break
		}
		if err := s.complete(rng, tNext, active, batch, &res); err != nil {
			return res, err
		}
		tNow = tNext + 1
	}
	return res, nil
}

func (s *scheduler) complete(rng *rand.Rand, t int, active []*FailureMode, batch []dueTasks, res *runResult) error {
	for _, fm := range active {
		fm.Snapshot(t)
	}

	var impacts Impacts
	perFM := make(map[*FailureMode]Impacts, len(batch))
	restored := map[string]struct{}{}
	for _, d := range batch {
		c, err := d.fm.CompleteTasks(rng, t, d.tasks)
		if err != nil {
			return err
		}
		if c.Prevented {
			res.record(OutcomeConditionalFailure, d.fm.Name(), t)
		}
		for _, ind := range c.Restored {
			restored[ind.Name()] = struct{}{}
		}
		perFM[d.fm] = c.Impacts
		impacts |= c.Impacts
	}

	if impacts.Renewal() && s.policy.AllowSystemImpact {
		if s.policy.RemainFailed {
			for _, fm := range active {
				fm.Fail(t)
			}
			res.inService = false
			res.tOut = t
			return nil
		}
		for _, ind := range s.indicators {
			ind.Renew()
		}
		for _, fm := range active {
			fm.Renew(rng, t)
		}
		return nil
	}

	// only failure modes reading a restored indicator see the restoration
	for _, fm := range active {
		own, inBatch := perFM[fm]
		own &^= task.ImpactIndicator
		if fm.dependsOn(restored) {
			own |= task.ImpactIndicator
		} else if !inBatch {
			continue
		}
		if !inBatch {
			fm.sync(t)
		}
		fm.UpdateTimeline(rng, t+1, own)
	}
	return nil
}
