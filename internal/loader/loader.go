// Package loader turns YAML or JSON model records into engine components.
package loader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-pof/internal/distribution"
	"github.com/miradorstack/mirador-pof/internal/engine"
	"github.com/miradorstack/mirador-pof/internal/indicator"
	"github.com/miradorstack/mirador-pof/internal/models"
	"github.com/miradorstack/mirador-pof/internal/task"
	"github.com/miradorstack/mirador-pof/internal/units"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

// validate is shared by every Loader. Custom tags are registered in init.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		_, err := units.Parse(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("curve", oneOf(indicator.CurveLinear, indicator.CurveStep))
	_ = validate.RegisterValidation("task_kind", oneOf(task.Kinds...))
	_ = validate.RegisterValidation("method", oneOf(indicator.MethodReductionFactor, indicator.MethodReverse, indicator.MethodSet))
	_ = validate.RegisterValidation("axis", oneOf(indicator.AxisCondition, indicator.AxisTime))
	_ = validate.RegisterValidation("state", oneOf(task.StateInitiation, task.StateDetection, task.StateFailure))
}

func oneOf[T ~string](allowed ...T) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := T(fl.Field().String())
		for _, a := range allowed {
			if v == a {
				return true
			}
		}
		return false
	}
}

// Defaults substituted for invalid entities when UseDefaults is set.
var (
	DefaultDistribution = models.DistributionSpec{Alpha: 50, Beta: 1.5}
	DefaultIndicator    = models.IndicatorSpec{Kind: string(indicator.KindCondition), Curve: string(indicator.CurveLinear), Perfect: 100, Failed: 0, PFInterval: 5}
)

// Options configures a Loader.
type Options struct {
	// UseDefaults replaces invalid entities with defaults instead of failing.
	UseDefaults bool
	Logger      *slog.Logger
	// Engine is passed to every component built.
	Engine engine.Options
}

// Loader decodes and builds components.
type Loader struct {
	useDefaults bool
	logger      *slog.Logger
	engineOpts  engine.Options
}

// New constructs a Loader.
func New(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	return &Loader{useDefaults: opts.UseDefaults, logger: opts.Logger, engineOpts: opts.Engine}
}

// Decode reads one component record. JSON is accepted as a subset of YAML.
// Unknown fields are rejected.
func Decode(r io.Reader) (*models.ComponentSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var spec models.ComponentSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, utils.ConfigError("component", "document", "empty")
		}
		return nil, fmt.Errorf("decode component: %w", err)
	}
	return &spec, nil
}

// LoadFile decodes and builds the component stored at path.
func (l *Loader) LoadFile(path string) (*engine.Component, error) {
	spec, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return l.Build(spec)
}

// Validate checks spec against its struct tags.
func Validate(spec *models.ComponentSpec) error {
	return fieldErrors("component "+spec.Name, validate.Struct(spec))
}

// ValidateStruct checks any tagged struct with the shared validator and
// reports failures against entity.
func ValidateStruct(entity string, v any) error {
	return fieldErrors(entity, validate.Struct(v))
}

// LoadDir decodes every .yaml, .yml and .json model in dir, keyed by
// component name.
func LoadDir(dir string) (map[string]*models.ComponentSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read models dir %s: %w", dir, err)
	}
	out := make(map[string]*models.ComponentSpec)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		path := filepath.Join(dir, e.Name())
		spec, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		if _, dup := out[spec.Name]; dup {
			return nil, utils.ConfigError("component "+spec.Name, "name", "defined twice in %s", dir)
		}
		out[spec.Name] = spec
	}
	return out, nil
}

func decodeFile(path string) (*models.ComponentSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer f.Close()
	spec, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Build validates spec and links its indicators, failure modes and tasks
// into a component. Indicators are shared by name between failure modes.
func (l *Loader) Build(spec *models.ComponentSpec) (*engine.Component, error) {
	entity := "component " + spec.Name
	if err := fieldErrors(entity, validate.StructPartial(spec, "Name", "Unit")); err != nil {
		if !l.useDefaults || spec.Name == "" {
			return nil, err
		}
		l.substituted(entity, err)
		spec.Unit = string(units.Years)
	}

	inds := make([]indicator.Indicator, 0, len(spec.Indicators))
	for _, is := range spec.Indicators {
		ind, err := l.buildIndicator(is)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entity, err)
		}
		inds = append(inds, ind)
	}
	byName := make(map[string]indicator.Indicator, len(inds))
	for _, ind := range inds {
		byName[ind.Name()] = ind
	}

	if len(spec.FailureModes) == 0 {
		return nil, utils.ConfigError(entity, "failure_modes", "at least one failure mode required")
	}
	fms := make([]*engine.FailureMode, 0, len(spec.FailureModes))
	for _, fs := range spec.FailureModes {
		fm, err := l.buildFailureMode(fs, byName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entity, err)
		}
		fms = append(fms, fm)
	}

	allow := true
	if spec.Policy.AllowSystemImpact != nil {
		allow = *spec.Policy.AllowSystemImpact
	}
	return engine.NewComponent(engine.ComponentParams{
		Name:   spec.Name,
		Active: boolOr(spec.Active, true),
		Unit:   units.Unit(spec.Unit),
		Policy: engine.Policy{RemainFailed: spec.Policy.RemainFailed, AllowSystemImpact: allow},
	}, inds, fms, l.engineOpts)
}

func (l *Loader) buildIndicator(s models.IndicatorSpec) (indicator.Indicator, error) {
	entity := "indicator " + s.Name
	err := fieldErrors(entity, validate.Struct(s))
	var ind indicator.Indicator
	if err == nil {
		ind, err = indicator.New(indicatorParams(s))
	}
	if err == nil {
		return ind, nil
	}
	if !l.useDefaults || s.Name == "" {
		return nil, err
	}
	l.substituted(entity, err)
	d := DefaultIndicator
	d.Name = s.Name
	return indicator.New(indicatorParams(d))
}

func indicatorParams(s models.IndicatorSpec) indicator.Params {
	return indicator.Params{
		Name:               s.Name,
		Kind:               indicator.Kind(s.Kind),
		Curve:              indicator.Curve(s.Curve),
		Perfect:            s.Perfect,
		Failed:             s.Failed,
		PFInterval:         s.PFInterval,
		PFStd:              s.PFStd,
		ThresholdDetection: s.ThresholdDetection,
		ThresholdFailure:   s.ThresholdFailure,
		Initial:            s.Initial,
		Diameter:           s.Diameter,
		WallThickness:      s.WallThickness,
		Margin:             s.Margin,
		PoleLoad:           s.PoleLoad,
		PoleStrength:       s.PoleStrength,
	}
}

func (l *Loader) buildFailureMode(s models.FailureModeSpec, byName map[string]indicator.Indicator) (*engine.FailureMode, error) {
	entity := "failure mode " + s.Name
	if s.Name == "" {
		return nil, utils.ConfigError("failure mode", "name", "required")
	}
	if err := fieldErrors(entity, validate.StructExcept(s, "Tasks")); err != nil {
		if !l.useDefaults {
			return nil, err
		}
		l.substituted(entity, err)
		s.Distribution = DefaultDistribution
		s.COF = 0
	}

	inds := make([]indicator.Indicator, 0, len(s.Indicators))
	for _, name := range s.Indicators {
		ind, ok := byName[name]
		if !ok {
			return nil, utils.ConfigError(entity, "indicators", "unknown indicator %s", name)
		}
		inds = append(inds, ind)
	}

	tasks := make([]*task.Task, 0, len(s.Tasks))
	for _, ts := range s.Tasks {
		tk, err := l.buildTask(ts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entity, err)
		}
		tasks = append(tasks, tk)
	}

	return engine.NewFailureMode(engine.FailureModeParams{
		Name:   s.Name,
		Active: boolOr(s.Active, true),
		Distribution: distribution.Weibull{
			Alpha: s.Distribution.Alpha,
			Beta:  s.Distribution.Beta,
			Gamma: s.Distribution.Gamma,
		},
		COF: s.COF,
	}, inds, tasks)
}

func (l *Loader) buildTask(s models.TaskSpec) (*task.Task, error) {
	entity := "task " + s.Name
	err := fieldErrors(entity, validate.Struct(s))
	var tk *task.Task
	if err == nil {
		tk, err = task.New(taskParams(s))
	}
	if err == nil {
		return tk, nil
	}
	if !l.useDefaults || s.Name == "" {
		return nil, err
	}
	// a default task never triggers
	l.substituted(entity, err)
	return task.New(task.Params{Name: s.Name, Kind: task.KindGeneric, Group: s.Group, PEffective: 1})
}

func taskParams(s models.TaskSpec) task.Params {
	p := task.Params{
		Name:       s.Name,
		Kind:       task.Kind(s.Kind),
		Group:      s.Group,
		Active:     boolOr(s.Active, true),
		Cost:       s.Cost,
		PEffective: 1,
	}
	if s.PEffective != nil {
		p.PEffective = *s.PEffective
	}
	if t := s.Trigger.Time; t != nil {
		p.Trigger.Time = &task.TimeTrigger{Delay: t.Delay, Interval: t.Interval}
	}
	if len(s.Trigger.Condition) > 0 {
		p.Trigger.Condition = make(map[string]task.Band, len(s.Trigger.Condition))
		for name, b := range s.Trigger.Condition {
			p.Trigger.Condition[name] = task.Band{Lower: b.Lower, Upper: b.Upper}
		}
	}
	p.Trigger.State = states(s.Trigger.State)
	p.Impact.State = states(s.Impact.State)
	if len(s.Impact.Condition) > 0 {
		p.Impact.Condition = make(map[string]task.Restoration, len(s.Impact.Condition))
		for name, r := range s.Impact.Condition {
			axis := indicator.Axis(r.Axis)
			if axis == "" {
				axis = indicator.AxisCondition
			}
			p.Impact.Condition[name] = task.Restoration{Target: r.Target, Method: indicator.Method(r.Method), Axis: axis}
		}
	}
	p.Impact.Level = task.Level(s.Impact.Level)
	return p
}

func states(in map[string]bool) map[task.State]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[task.State]bool, len(in))
	for k, v := range in {
		out[task.State(k)] = v
	}
	return out
}

func (l *Loader) substituted(entity string, err error) {
	l.logger.Warn("invalid model entity, using defaults",
		slog.String("entity", entity),
		slog.String("error", err.Error()),
	)
}

// fieldErrors converts validator output into a configuration error naming
// the entity and every failing field.
func fieldErrors(entity string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return utils.NewAppError(entity, "validation", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s (%s=%s)", ns, fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s (%s)", ns, fe.Tag()))
		}
	}
	return utils.ConfigError(entity, strings.Join(fields, ", "), "invalid")
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
