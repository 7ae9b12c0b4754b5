package models

// POFSource distinguishes maintained from untreated curves.
type POFSource string

const (
	POFMaintained POFSource = "maintained"
	POFUntreated  POFSource = "untreated"
)

// AllFailureModes labels rows aggregated over every active failure mode.
const AllFailureModes = "all"

// RiskTask labels cost rows that price failures by their consequence.
const RiskTask = "risk"

// POFRow is one point of a probability of failure curve.
type POFRow struct {
	Source      POFSource `json:"source"`
	FailureMode string    `json:"failure_mode"`
	Active      bool      `json:"active"`
	Time        int       `json:"time"`
	Unit        string    `json:"unit"`
	POF         float64   `json:"pof"`
}

// CostMetrics are the quantity and cost columns shared by cost and
// sensitivity tables.
type CostMetrics struct {
	Quantity           float64 `json:"quantity"`
	Cost               float64 `json:"cost"`
	QuantityCumulative float64 `json:"quantity_cumulative"`
	CostCumulative     float64 `json:"cost_cumulative"`
	QuantityAnnual     float64 `json:"quantity_annual"`
	CostAnnual         float64 `json:"cost_annual"`
	QuantityLifecycle  float64 `json:"quantity_lifecycle"`
	CostLifecycle      float64 `json:"cost_lifecycle"`
}

// CostRow is the expected quantity and cost of a task at one time step.
type CostRow struct {
	FailureMode string `json:"failure_mode"`
	Task        string `json:"task"`
	Active      bool   `json:"active"`
	Time        int    `json:"time"`
	Unit        string `json:"unit"`
	CostMetrics
}

// ConditionRow is one point of an indicator confidence band.
type ConditionRow struct {
	Indicator string  `json:"indicator"`
	Time      int     `json:"time"`
	Unit      string  `json:"unit"`
	Mean      float64 `json:"mean"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
}

// Cohort scales ensemble rates to a population of assets.
type Cohort struct {
	Population float64 `json:"population" yaml:"population" validate:"gt=0"`
}

// SummaryRow reports outcome counts for a failure mode, or for the whole
// component when FailureMode is AllFailureModes.
type SummaryRow struct {
	FailureMode            string  `json:"failure_mode"`
	Active                 bool    `json:"active"`
	InspectionEffective    float64 `json:"inspection_effectiveness"`
	InService              int     `json:"in_service"`
	ConditionalFailures    int     `json:"conditional_failures"`
	FunctionalFailures     int     `json:"functional_failures"`
	Prevented              float64 `json:"prevented"`
	ConditionalAnnual      float64 `json:"conditional_annual,omitempty"`
	ConditionalAnnualLower float64 `json:"conditional_annual_lower,omitempty"`
	ConditionalAnnualUpper float64 `json:"conditional_annual_upper,omitempty"`
	FunctionalAnnual       float64 `json:"functional_annual,omitempty"`
	FunctionalAnnualLower  float64 `json:"functional_annual_lower,omitempty"`
	FunctionalAnnualUpper  float64 `json:"functional_annual_upper,omitempty"`
}

// AgeBucket counts assets of one age.
type AgeBucket struct {
	Age   float64 `json:"age" yaml:"age" validate:"gte=0"`
	Count float64 `json:"count" yaml:"count" validate:"gte=0"`
}

// AgeProfile is the age distribution of an asset population. Ages are in
// Unit, usually years.
type AgeProfile struct {
	Unit    string      `json:"unit" yaml:"unit"`
	Buckets []AgeBucket `json:"buckets" yaml:"buckets" validate:"dive"`
}

// ForecastRow is the expected task volume for a population in one year.
type ForecastRow struct {
	Year        int     `json:"year"`
	FailureMode string  `json:"failure_mode"`
	Task        string  `json:"task"`
	Quantity    float64 `json:"quantity"`
	Cost        float64 `json:"cost"`
}

// SensitivityRow summarises the cost table of one sweep point. Context
// holds the values of outer variables in a chained sweep.
type SensitivityRow struct {
	Context  map[string]float64 `json:"context,omitempty"`
	Variable string             `json:"variable"`
	Value    float64            `json:"value"`
	Task     string             `json:"task"`
	Active   bool               `json:"active"`
	CostMetrics
}
