package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-scraper/internal/progress"
)

// JobStatus summarises the job currently (or last) handled by the worker.
type JobStatus struct {
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id,omitempty"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Links      int       `json:"links_collected"`
	Written    int       `json:"new_listings"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Breaks     int       `json:"breaks"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot is the worker status exposed over HTTP.
type Snapshot struct {
	Current         *JobStatus `json:"current,omitempty"`
	Last            *JobStatus `json:"last,omitempty"`
	JobsCompleted   int        `json:"jobs_completed"`
	JobsFailed      int        `json:"jobs_failed"`
	ItemsProcessed  int        `json:"items_processed"`
	BrowserRestarts int        `json:"browser_restarts"`
	LastEventAt     time.Time  `json:"last_event_at,omitzero"`
}

// StatusSink folds progress events into a Snapshot.
type StatusSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusSink creates an empty tracker.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume applies each event to the snapshot.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	if evt.TS.After(s.snap.LastEventAt) {
		s.snap.LastEventAt = evt.TS
	}
	switch evt.Stage {
	case progress.StageJobStart:
		s.snap.Current = &JobStatus{JobID: evt.JobID, RunID: evt.RunID, City: evt.City, State: evt.Note, StartedAt: evt.TS}
	case progress.StageLinksCollected:
		if cur := s.current(evt); cur != nil {
			cur.Links = evt.Count
		}
	case progress.StageItemDone:
		s.snap.ItemsProcessed++
		cur := s.current(evt)
		if cur == nil {
			return
		}
		switch evt.Outcome {
		case progress.OutcomeWritten:
			cur.Written++
		case progress.OutcomeDuplicate:
			cur.Duplicates++
		case progress.OutcomeFailed:
			cur.Failed++
		}
	case progress.StageBreak:
		if cur := s.current(evt); cur != nil {
			cur.Breaks++
		}
	case progress.StageJobDone, progress.StageJobError:
		cur := s.current(evt)
		if cur == nil {
			cur = &JobStatus{JobID: evt.JobID, RunID: evt.RunID, City: evt.City}
		}
		cur.FinishedAt = evt.TS
		if evt.Stage == progress.StageJobError {
			cur.Error = evt.Note
			s.snap.JobsFailed++
		} else {
			s.snap.JobsCompleted++
		}
		s.snap.Last = cur
		s.snap.Current = nil
	case progress.StageBrowserRestart:
		s.snap.BrowserRestarts++
	}
}

func (s *StatusSink) current(evt progress.Event) *JobStatus {
	if s.snap.Current == nil || s.snap.Current.JobID != evt.JobID {
		return nil
	}
	return s.snap.Current
}

// Snapshot returns a copy of the current status.
func (s *StatusSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	if s.snap.Current != nil {
		cur := *s.snap.Current
		out.Current = &cur
	}
	if s.snap.Last != nil {
		last := *s.snap.Last
		out.Last = &last
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
