package runner

// State is a step of the job loop.
type State int

// Job loop states.
const (
	StateIdle State = iota
	StateJobRequested
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJobRequested:
		return "job_requested"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
