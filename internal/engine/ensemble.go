package engine

// Status reports how an ensemble run ended.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
)

// FailureModeRecord is what one iteration observed for a failure mode.
type FailureModeRecord struct {
	Active      bool             `json:"active"`
	Outcome     Event            `json:"outcome"`
	Failures    []int            `json:"failures,omitempty"`
	Tasks       map[string][]int `json:"tasks,omitempty"`
	Inspections int              `json:"inspections"`
	Detections  int              `json:"detections"`
}

// FirstFailure is the first failure onset, or -1.
func (r FailureModeRecord) FirstFailure() int {
	if len(r.Failures) == 0 {
		return -1
	}
	return r.Failures[0]
}

// Iteration is the saved result of one Monte Carlo iteration.
type Iteration struct {
	Completed     bool                         `json:"completed"`
	Outcome       Event                        `json:"outcome"`
	TimeInService int                          `json:"time_in_service"`
	FailureModes  map[string]FailureModeRecord `json:"failure_modes"`
	Indicators    map[string][]float64         `json:"indicators,omitempty"`
}

// Ensemble holds one slot per requested iteration. Cancelled runs leave
// trailing slots incomplete.
type Ensemble struct {
	TEnd       int         `json:"t_end"`
	Requested  int         `json:"requested"`
	Policy     Policy      `json:"policy"`
	Status     Status      `json:"status"`
	Iterations []Iteration `json:"iterations"`
}

func newEnsemble(tEnd, n int, policy Policy) *Ensemble {
	return &Ensemble{
		TEnd:       tEnd,
		Requested:  n,
		Policy:     policy,
		Status:     StatusComplete,
		Iterations: make([]Iteration, n),
	}
}

// Completed returns the completed iterations in index order.
func (e *Ensemble) Completed() []Iteration {
	out := make([]Iteration, 0, len(e.Iterations))
	for _, it := range e.Iterations {
		if it.Completed {
			out = append(out, it)
		}
	}
	return out
}

// N is the number of completed iterations.
func (e *Ensemble) N() int {
	n := 0
	for _, it := range e.Iterations {
		if it.Completed {
			n++
		}
	}
	return n
}

// OutcomeCounts tallies component outcomes over completed iterations.
func (e *Ensemble) OutcomeCounts() map[Outcome]int {
	out := map[Outcome]int{
		OutcomeInService:          0,
		OutcomeConditionalFailure: 0,
		OutcomeFunctionalFailure:  0,
	}
	for _, it := range e.Iterations {
		if it.Completed {
			out[it.Outcome.Outcome]++
		}
	}
	return out
}
