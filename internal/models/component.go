package models

// ComponentSpec is the model record for one asset type: failure modes with
// their distributions, tasks and the indicators they share.
type ComponentSpec struct {
	Name         string            `yaml:"name" json:"name" validate:"required"`
	Active       *bool             `yaml:"active,omitempty" json:"active,omitempty"`
	Unit         string            `yaml:"unit,omitempty" json:"unit,omitempty" validate:"omitempty,unit"`
	Policy       PolicySpec        `yaml:"policy" json:"policy"`
	Indicators   []IndicatorSpec   `yaml:"indicators" json:"indicators" validate:"dive"`
	FailureModes []FailureModeSpec `yaml:"failure_modes" json:"failure_modes" validate:"required,min=1,dive"`
}

// PolicySpec selects the renewal strategy.
type PolicySpec struct {
	RemainFailed      bool  `yaml:"remain_failed" json:"remain_failed"`
	AllowSystemImpact *bool `yaml:"allow_system_impact,omitempty" json:"allow_system_impact,omitempty"`
}

// IndicatorSpec describes a condition or derived indicator.
type IndicatorSpec struct {
	Name               string   `yaml:"name" json:"name" validate:"required"`
	Kind               string   `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=condition safety_factor"`
	Curve              string   `yaml:"curve,omitempty" json:"curve,omitempty" validate:"omitempty,curve"`
	Perfect            float64  `yaml:"perfect" json:"perfect"`
	Failed             float64  `yaml:"failed" json:"failed"`
	PFInterval         int      `yaml:"pf_interval" json:"pf_interval" validate:"gte=0"`
	PFStd              float64  `yaml:"pf_std,omitempty" json:"pf_std,omitempty" validate:"gte=0"`
	ThresholdDetection *float64 `yaml:"threshold_detection,omitempty" json:"threshold_detection,omitempty"`
	ThresholdFailure   *float64 `yaml:"threshold_failure,omitempty" json:"threshold_failure,omitempty"`
	Initial            *float64 `yaml:"initial,omitempty" json:"initial,omitempty"`

	Diameter      string  `yaml:"diameter,omitempty" json:"diameter,omitempty" validate:"required_if=Kind safety_factor"`
	WallThickness string  `yaml:"wall_thickness,omitempty" json:"wall_thickness,omitempty" validate:"required_if=Kind safety_factor"`
	Margin        float64 `yaml:"margin,omitempty" json:"margin,omitempty" validate:"gte=0"`
	PoleLoad      float64 `yaml:"pole_load,omitempty" json:"pole_load,omitempty" validate:"gte=0"`
	PoleStrength  float64 `yaml:"pole_strength,omitempty" json:"pole_strength,omitempty" validate:"gte=0"`
}

// DistributionSpec holds Weibull parameters.
type DistributionSpec struct {
	Alpha float64 `yaml:"alpha" json:"alpha" validate:"gt=0"`
	Beta  float64 `yaml:"beta" json:"beta" validate:"gt=0"`
	Gamma float64 `yaml:"gamma" json:"gamma"`
}

// FailureModeSpec describes one degradation process. Indicators are names
// of component indicators; listing the same name in several failure modes
// links them.
type FailureModeSpec struct {
	Name         string           `yaml:"name" json:"name" validate:"required"`
	Active       *bool            `yaml:"active,omitempty" json:"active,omitempty"`
	Distribution DistributionSpec `yaml:"distribution" json:"distribution"`
	COF          float64          `yaml:"cof,omitempty" json:"cof,omitempty" validate:"gte=0"`
	Indicators   []string         `yaml:"indicators,omitempty" json:"indicators,omitempty"`
	Tasks        []TaskSpec       `yaml:"tasks,omitempty" json:"tasks,omitempty" validate:"dive"`
}

// TaskSpec describes a maintenance task.
type TaskSpec struct {
	Name       string      `yaml:"name" json:"name" validate:"required"`
	Kind       string      `yaml:"kind" json:"kind" validate:"required,task_kind"`
	Group      string      `yaml:"group,omitempty" json:"group,omitempty"`
	Active     *bool       `yaml:"active,omitempty" json:"active,omitempty"`
	Cost       float64     `yaml:"cost,omitempty" json:"cost,omitempty" validate:"gte=0"`
	PEffective *float64    `yaml:"p_effective,omitempty" json:"p_effective,omitempty" validate:"omitempty,gte=0,lte=1"`
	Trigger    TriggerSpec `yaml:"trigger" json:"trigger"`
	Impact     ImpactSpec  `yaml:"impact" json:"impact"`
}

// TriggerSpec combines trigger families; all configured families must hold.
type TriggerSpec struct {
	Time      *TimeTriggerSpec    `yaml:"time,omitempty" json:"time,omitempty"`
	Condition map[string]BandSpec `yaml:"condition,omitempty" json:"condition,omitempty" validate:"dive"`
	State     map[string]bool     `yaml:"state,omitempty" json:"state,omitempty" validate:"dive,keys,state,endkeys"`
}

// TimeTriggerSpec fires at Delay after the last renewal and every Interval.
type TimeTriggerSpec struct {
	Delay    int `yaml:"delay" json:"delay" validate:"gte=0"`
	Interval int `yaml:"interval" json:"interval" validate:"gte=0"`
}

// BandSpec is the acceptable range of an indicator.
type BandSpec struct {
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper" validate:"gtefield=Lower"`
}

// ImpactSpec lists what a task changes.
type ImpactSpec struct {
	State     map[string]bool            `yaml:"state,omitempty" json:"state,omitempty" validate:"dive,keys,state,endkeys"`
	Condition map[string]RestorationSpec `yaml:"condition,omitempty" json:"condition,omitempty" validate:"dive"`
	Level     string                     `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,oneof=failure_mode component system"`
}

// RestorationSpec restores an indicator.
type RestorationSpec struct {
	Target float64 `yaml:"target" json:"target"`
	Method string  `yaml:"method" json:"method" validate:"required,method"`
	Axis   string  `yaml:"axis,omitempty" json:"axis,omitempty" validate:"omitempty,axis"`
}
