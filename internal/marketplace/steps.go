package marketplace

// StepStatus is the outcome of one best-effort extraction step.
type StepStatus string

// Step outcomes.
const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded"
	StepSkipped  StepStatus = "skipped"
	StepFailed   StepStatus = "failed"
)

// StepResult records what happened in a single extraction step.
type StepResult struct {
	Name   string
	Status StepStatus
	Detail string
	Err    error
}

// ExtractionReport lists step results in execution order.
type ExtractionReport struct {
	Steps []StepResult
}

// Record appends a step result.
func (r *ExtractionReport) Record(name string, status StepStatus, detail string, err error) {
	r.Steps = append(r.Steps, StepResult{Name: name, Status: status, Detail: detail, Err: err})
}

// Step returns the last result recorded under name.
func (r ExtractionReport) Step(name string) (StepResult, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Name == name {
			return r.Steps[i], true
		}
	}
	return StepResult{}, false
}

// Degraded reports whether any step degraded or failed.
func (r ExtractionReport) Degraded() bool {
	for _, s := range r.Steps {
		if s.Status == StepDegraded || s.Status == StepFailed {
			return true
		}
	}
	return false
}
