package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-pof/internal/indicator"
)

// ErrUnknownPath is returned for update paths that do not resolve.
var ErrUnknownPath = errors.New("unknown update path")

// Target selects the kind of entity an UpdatePath addresses.
type Target int

const (
	TargetComponent Target = iota
	TargetFailureMode
	TargetDistribution
	TargetIndicator
	TargetTask
	TargetTaskGroup
)

// UpdatePath is a parsed parameter address:
//
//	component/active
//	component/fm/<fm>/{active,cof}
//	component/fm/<fm>/distribution/{alpha,beta,gamma}
//	component/fm/<fm>/task/<task>/<field>
//	component/indicator/<indicator>/<field>
//	component/task_group/<group>/active
type UpdatePath struct {
	Target      Target
	FailureMode string
	Indicator   string
	Task        string
	Group       string
	Field       string
}

var (
	componentFields    = set("active")
	failureModeFields  = set("active", "cof")
	distributionFields = set("alpha", "beta", "gamma")
	taskFields         = set("active", "cost", "p_effective", "t_delay", "t_interval")
	groupFields        = set("active")
	indicatorFields    = map[indicator.Kind]map[string]struct{}{
		indicator.KindCondition:    set("perfect", "failed", "threshold_failure", "threshold_detection", "initial", "pf_interval", "pf_std"),
		indicator.KindSafetyFactor: set("perfect", "failed", "threshold_failure", "threshold_detection", "initial", "margin", "pole_load", "pole_strength"),
	}
)

func set(fields ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// ParsePath checks the shape of a path without looking at a component.
func ParsePath(s string) (UpdatePath, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	bad := fmt.Errorf("%w: %q", ErrUnknownPath, s)
	if len(parts) < 2 || parts[0] != "component" {
		return UpdatePath{}, bad
	}
	var p UpdatePath
	switch {
	case len(parts) == 2:
		p = UpdatePath{Target: TargetComponent, Field: parts[1]}
	case parts[1] == "fm" && len(parts) == 4:
		p = UpdatePath{Target: TargetFailureMode, FailureMode: parts[2], Field: parts[3]}
	case parts[1] == "fm" && len(parts) == 5 && parts[3] == "distribution":
		p = UpdatePath{Target: TargetDistribution, FailureMode: parts[2], Field: parts[4]}
	case parts[1] == "fm" && len(parts) == 6 && parts[3] == "task":
		p = UpdatePath{Target: TargetTask, FailureMode: parts[2], Task: parts[4], Field: parts[5]}
	case parts[1] == "indicator" && len(parts) == 4:
		p = UpdatePath{Target: TargetIndicator, Indicator: parts[2], Field: parts[3]}
	case parts[1] == "task_group" && len(parts) == 4:
		p = UpdatePath{Target: TargetTaskGroup, Group: parts[2], Field: parts[3]}
	default:
		return UpdatePath{}, bad
	}
	for _, part := range parts {
		if part == "" {
			return UpdatePath{}, bad
		}
	}

	var fields map[string]struct{}
	switch p.Target {
	case TargetComponent:
		fields = componentFields
	case TargetFailureMode:
		fields = failureModeFields
	case TargetDistribution:
		fields = distributionFields
	case TargetTask:
		fields = taskFields
	case TargetTaskGroup:
		fields = groupFields
	case TargetIndicator:
		// checked against the indicator kind in Resolve
		return p, nil
	}
	if _, ok := fields[p.Field]; !ok {
		return UpdatePath{}, fmt.Errorf("%w: %q: unknown field %s", ErrUnknownPath, s, p.Field)
	}
	return p, nil
}

func (p UpdatePath) String() string {
	switch p.Target {
	case TargetComponent:
		return "component/" + p.Field
	case TargetFailureMode:
		return "component/fm/" + p.FailureMode + "/" + p.Field
	case TargetDistribution:
		return "component/fm/" + p.FailureMode + "/distribution/" + p.Field
	case TargetTask:
		return "component/fm/" + p.FailureMode + "/task/" + p.Task + "/" + p.Field
	case TargetIndicator:
		return "component/indicator/" + p.Indicator + "/" + p.Field
	case TargetTaskGroup:
		return "component/task_group/" + p.Group + "/" + p.Field
	}
	return ""
}

// Resolve parses s and checks that every entity it names exists.
func (c *Component) Resolve(s string) (UpdatePath, error) {
	p, err := ParsePath(s)
	if err != nil {
		return UpdatePath{}, err
	}
	if err := c.check(p); err != nil {
		return UpdatePath{}, err
	}
	return p, nil
}

func (c *Component) check(p UpdatePath) error {
	switch p.Target {
	case TargetFailureMode, TargetDistribution, TargetTask:
		fm, ok := c.FailureMode(p.FailureMode)
		if !ok {
			return fmt.Errorf("%w: failure mode %s not found", ErrUnknownPath, p.FailureMode)
		}
		if p.Target == TargetTask {
			if _, ok := fm.Task(p.Task); !ok {
				return fmt.Errorf("%w: task %s not found in %s", ErrUnknownPath, p.Task, p.FailureMode)
			}
		}
	case TargetIndicator:
		ind, ok := c.Indicator(p.Indicator)
		if !ok {
			return fmt.Errorf("%w: indicator %s not found", ErrUnknownPath, p.Indicator)
		}
		if _, ok := indicatorFields[ind.Kind()][p.Field]; !ok {
			return fmt.Errorf("%w: indicator %s has no field %s", ErrUnknownPath, p.Indicator, p.Field)
		}
	case TargetTaskGroup:
		found := false
		for _, fm := range c.fms {
			for _, tk := range fm.Tasks() {
				found = found || tk.Group() == p.Group
			}
		}
		if !found {
			return fmt.Errorf("%w: task group %s not found", ErrUnknownPath, p.Group)
		}
	}
	return nil
}

// Update applies value at p and re-derives dependent state. Booleans are
// non-zero for true.
func (c *Component) Update(p UpdatePath, value float64) error {
	if err := c.check(p); err != nil {
		return err
	}
	switch p.Target {
	case TargetComponent:
		c.active = value != 0
	case TargetFailureMode:
		fm, _ := c.FailureMode(p.FailureMode)
		switch p.Field {
		case "active":
			fm.SetActive(value != 0)
		case "cof":
			if value < 0 {
				return fmt.Errorf("%s: must not be negative, got %v", p, value)
			}
			fm.cof = value
		}
	case TargetDistribution:
		fm, _ := c.FailureMode(p.FailureMode)
		d := fm.Untreated()
		switch p.Field {
		case "alpha":
			d.Alpha = value
		case "beta":
			d.Beta = value
		case "gamma":
			d.Gamma = value
		}
		return fm.SetDistribution(d)
	case TargetTask:
		fm, _ := c.FailureMode(p.FailureMode)
		tk, _ := fm.Task(p.Task)
		return tk.Update(p.Field, value)
	case TargetTaskGroup:
		for _, fm := range c.fms {
			for _, tk := range fm.Tasks() {
				if tk.Group() == p.Group {
					tk.SetActive(value != 0)
				}
			}
		}
	case TargetIndicator:
		ind, _ := c.Indicator(p.Indicator)
		if err := ind.Update(p.Field, value); err != nil {
			return err
		}
		if p.Field == "pf_interval" {
			for _, fm := range c.fms {
				if _, ok := fm.Indicator(p.Indicator); ok {
					fm.deriveInitiation()
				}
			}
		}
	}
	return nil
}

// UpdateString resolves s and applies value.
func (c *Component) UpdateString(s string, value float64) error {
	p, err := c.Resolve(s)
	if err != nil {
		return err
	}
	return c.Update(p, value)
}
