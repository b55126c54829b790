// Package progress defines the events the job runner emits while it works.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart       Stage = "JOB_START"
	StageJobDone        Stage = "JOB_DONE"
	StageJobError       Stage = "JOB_ERROR"
	StageLinksCollected Stage = "LINKS_COLLECTED"
	StageItemDone       Stage = "ITEM_DONE"
	StageBreak          Stage = "BREAK"
	StageBrowserRestart Stage = "BROWSER_RESTART"
)

// Outcome classifies one processed item.
type Outcome string

// Item outcomes.
const (
	OutcomeWritten   Outcome = "written"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Event captures a single step of worker progress.
type Event struct {
	// RunID tags one attempt at a job; it is unique even when a job is retried.
	RunID string
	// JobID is the job identifier handed out by the job source.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	City  string
	// ItemID is the marketplace listing id for item events.
	ItemID  string
	Outcome Outcome
	// Count carries links collected, or listings found on JOB_DONE.
	Count int
	Dur   time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageLinksCollected, StageBreak:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Stage)
		}
	case StageItemDone:
		if e.JobID == "" || e.ItemID == "" {
			return errors.New("item done requires job and item id")
		}
		switch e.Outcome {
		case OutcomeWritten, OutcomeDuplicate, OutcomeFailed:
		default:
			return fmt.Errorf("unknown outcome %q", e.Outcome)
		}
	case StageBrowserRestart:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}
