package taskgen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/queue/memory"
)

// CSVSource replays the rows of a task file as jobs, re-reading the file
// at the start of every cycle. After the last row of a cycle it reports
// no job once so the runner idles before starting over.
type CSVSource struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	queue     *memory.Queue
	cycle     int
	cycleDone bool
	results   map[string]marketplace.JobResult
	failures  map[string]string
}

// NewCSVSource creates a source over the task file at path.
func NewCSVSource(path string, logger *zap.Logger) *CSVSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{
		path:     path,
		logger:   logger,
		queue:    memory.NewQueue(0),
		results:  map[string]marketplace.JobResult{},
		failures: map[string]string{},
	}
}

// NextJob returns the next row of the current cycle.
func (s *CSVSource) NextJob(ctx context.Context) (marketplace.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		if s.cycleDone {
			s.cycleDone = false
			s.logger.Info("task file cycle finished", zap.Int("cycle", s.cycle))
			return marketplace.Job{}, false, nil
		}
		if err := s.refill(ctx); err != nil {
			return marketplace.Job{}, false, err
		}
		if s.queue.Len() == 0 {
			return marketplace.Job{}, false, nil
		}
	}
	job, err := s.queue.Dequeue(ctx)
	if err != nil {
		return marketplace.Job{}, false, fmt.Errorf("next task: %w", err)
	}
	if s.queue.Len() == 0 {
		s.cycleDone = true
	}
	return job, true, nil
}

func (s *CSVSource) refill(ctx context.Context) error {
	rows, err := ReadCSVFile(s.path, s.logger)
	if err != nil {
		return err
	}
	s.cycle++
	q := memory.NewQueue(len(rows))
	for i, row := range rows {
		job := marketplace.Job{
			JobID:     fmt.Sprintf("csv-%d-%d", s.cycle, i+1),
			City:      row.City,
			State:     row.State,
			IsNewJob:  true,
			Threshold: row.Threshold,
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	s.queue.Close()
	s.queue = q
	s.logger.Info("task file loaded", zap.String("path", s.path), zap.Int("cycle", s.cycle), zap.Int("rows", len(rows)))
	return nil
}

// ReportInProgress logs the start of a row.
func (s *CSVSource) ReportInProgress(_ context.Context, job marketplace.Job) error {
	s.logger.Info("task started", zap.String("job_id", job.JobID), zap.String("city", job.City))
	return nil
}

// ReportCompleted records the per-row summary.
func (s *CSVSource) ReportCompleted(_ context.Context, job marketplace.Job, result marketplace.JobResult) error {
	s.mu.Lock()
	s.results[job.JobID] = result
	s.mu.Unlock()

	processed := result.NewListingsAdded + result.DuplicatesSkipped + result.Failed
	rate := 0.0
	if processed > 0 {
		rate = float64(result.NewListingsAdded+result.DuplicatesSkipped) / float64(processed) * 100
	}
	s.logger.Info("task summary",
		zap.String("job_id", job.JobID),
		zap.String("city", job.City),
		zap.Int("processed", processed),
		zap.Int("new", result.NewListingsAdded),
		zap.Int("duplicates", result.DuplicatesSkipped),
		zap.Int("failed", result.Failed),
		zap.Float64("success_rate", rate),
	)
	return nil
}

// ReportFailed records the failure message.
func (s *CSVSource) ReportFailed(_ context.Context, job marketplace.Job, message string) error {
	if job.JobID == "" {
		return errors.New("report failed: empty job id")
	}
	s.mu.Lock()
	s.failures[job.JobID] = message
	s.mu.Unlock()
	s.logger.Error("task failed", zap.String("job_id", job.JobID), zap.String("city", job.City), zap.String("error", message))
	return nil
}

// Result returns the recorded result for a job.
func (s *CSVSource) Result(jobID string) (marketplace.JobResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[jobID]
	return r, ok
}

// Failure returns the recorded failure message for a job.
func (s *CSVSource) Failure(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.failures[jobID]
	return m, ok
}

var _ marketplace.JobSource = (*CSVSource)(nil)
