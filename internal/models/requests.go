package models

import "time"

// RunKind distinguishes plain ensembles from sensitivity sweeps.
type RunKind string

const (
	RunSimulate    RunKind = "simulate"
	RunSensitivity RunKind = "sensitivity"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunComplete  RunState = "complete"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// ReportKind selects a report computed from a finished run.
type ReportKind string

const (
	ReportPOF         ReportKind = "pof"
	ReportUntreated   ReportKind = "untreated"
	ReportRiskCost    ReportKind = "risk_cost"
	ReportCondition   ReportKind = "condition"
	ReportSummary     ReportKind = "summary"
	ReportForecast    ReportKind = "forecast"
	ReportSensitivity ReportKind = "sensitivity"
)

// ModelRef names a preloaded model or carries one inline. Exactly one of
// the two must be set.
type ModelRef struct {
	Model string         `json:"model,omitempty"`
	Spec  *ComponentSpec `json:"spec,omitempty" validate:"-"`
}

// Update sets one model parameter before a run.
type Update struct {
	Path  string  `json:"path" validate:"required"`
	Value float64 `json:"value"`
}

// SimulateRequest starts an ensemble. Zero values take service defaults.
type SimulateRequest struct {
	ModelRef
	Iterations int      `json:"iterations,omitempty" validate:"gte=0"`
	TEnd       int      `json:"t_end,omitempty" validate:"gte=0"`
	Seed       *uint64  `json:"seed,omitempty"`
	Updates    []Update `json:"updates,omitempty" validate:"dive"`
	// Wait blocks until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// SweepSpec varies one parameter path over values.
type SweepSpec struct {
	Path   string    `json:"path" validate:"required"`
	Values []float64 `json:"values" validate:"required,min=1"`
}

// SensitivityRequest starts a chained sensitivity sweep.
type SensitivityRequest struct {
	ModelRef
	Sweeps     []SweepSpec `json:"sweeps" validate:"required,min=1,dive"`
	Iterations int         `json:"iterations,omitempty" validate:"gte=0"`
	TEnd       int         `json:"t_end,omitempty" validate:"gte=0"`
	Seed       *uint64     `json:"seed,omitempty"`
	Updates    []Update    `json:"updates,omitempty" validate:"dive"`
	Wait       bool        `json:"wait,omitempty"`
}

// RunRequest addresses an existing run.
type RunRequest struct {
	RunID string `json:"run_id" validate:"required,uuid"`
}

// ReportRequest asks for one report of a finished run.
type ReportRequest struct {
	RunID      string      `json:"run_id" validate:"required,uuid"`
	Kind       ReportKind  `json:"kind" validate:"required"`
	Confidence float64     `json:"confidence,omitempty" validate:"gte=0,lt=1"`
	Cohort     *Cohort     `json:"cohort,omitempty"`
	Profile    *AgeProfile `json:"profile,omitempty"`
	Years      int         `json:"years,omitempty" validate:"gte=0"`
	// TEnd bounds the untreated curve; defaults to the run's t_end.
	TEnd int `json:"t_end,omitempty" validate:"gte=0"`
}

// RunInfo is the externally visible state of a run.
type RunInfo struct {
	ID         string         `json:"run_id"`
	Kind       RunKind        `json:"kind"`
	Component  string         `json:"component"`
	State      RunState       `json:"state"`
	Progress   float64        `json:"progress"`
	Iterations int            `json:"iterations"`
	Completed  int            `json:"completed"`
	TEnd       int            `json:"t_end"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
	Life       float64        `json:"expected_life,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Report wraps the rows of one report kind.
type Report struct {
	RunID string     `json:"run_id"`
	Kind  ReportKind `json:"kind"`
	Rows  any        `json:"rows"`
}

// Health reports service readiness and recent run timings.
type Health struct {
	Status      string        `json:"status"`
	Models      []string      `json:"models"`
	RunsActive  int           `json:"runs_active"`
	RunsTracked int           `json:"runs_tracked"`
	RunP50      time.Duration `json:"run_p50_ns"`
	RunP95      time.Duration `json:"run_p95_ns"`
}
