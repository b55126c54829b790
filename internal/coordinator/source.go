package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// ErrNoCurrentJob means a status report was attempted with no job assigned.
var ErrNoCurrentJob = errors.New("no current coordinator job")

// Source adapts a Client to marketplace.JobSource and remembers the job it
// handed out until a terminal status is accepted.
type Source struct {
	client    *Client
	threshold int
	logger    *zap.Logger

	mu      sync.Mutex
	current *marketplace.Job
}

// NewSource creates a Source. threshold is stamped on every assigned job.
func NewSource(client *Client, threshold int, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{client: client, threshold: threshold, logger: logger}
}

// Current returns the job awaiting a terminal report.
func (s *Source) Current() (marketplace.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return marketplace.Job{}, false
	}
	return *s.current, true
}

// NextJob implements marketplace.JobSource. An unsuccessful envelope is an error.
func (s *Source) NextJob(ctx context.Context) (marketplace.Job, bool, error) {
	resp := s.client.GetJob(ctx)
	if !resp.Success {
		return marketplace.Job{}, false, fmt.Errorf("get job: %s", orUnknown(resp.Error))
	}
	if resp.Job == nil {
		s.logger.Info("no jobs available", zap.String("message", resp.Message))
		return marketplace.Job{}, false, nil
	}
	job := *resp.Job
	job.Threshold = s.threshold
	s.mu.Lock()
	s.current = &job
	s.mu.Unlock()
	s.logger.Info("job assigned",
		zap.String("job_id", job.JobID),
		zap.String("city", job.City),
		zap.String("state", job.State),
		zap.Bool("is_new", job.IsNewJob),
	)
	return job, true, nil
}

// ReportInProgress implements marketplace.JobSource.
func (s *Source) ReportInProgress(ctx context.Context, job marketplace.Job) error {
	return s.report(ctx, job, StatusReport{Status: marketplace.JobStatusInProgress}, false)
}

// ReportCompleted implements marketplace.JobSource.
func (s *Source) ReportCompleted(ctx context.Context, job marketplace.Job, result marketplace.JobResult) error {
	return s.report(ctx, job, StatusReport{
		Status:            marketplace.JobStatusCompleted,
		ListingsFound:     IntPtr(result.ListingsFound),
		NewListingsAdded:  IntPtr(result.NewListingsAdded),
		DuplicatesSkipped: IntPtr(result.DuplicatesSkipped),
		ScrapeDuration:    IntPtr(int(math.Floor(result.DurationSeconds()))),
	}, true)
}

// ReportFailed implements marketplace.JobSource.
func (s *Source) ReportFailed(ctx context.Context, job marketplace.Job, message string) error {
	return s.report(ctx, job, StatusReport{
		Status:       marketplace.JobStatusFailed,
		ErrorMessage: message,
	}, true)
}

func (s *Source) report(ctx context.Context, job marketplace.Job, report StatusReport, terminal bool) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		s.logger.Warn("status report without a current job", zap.String("status", string(report.Status)))
		return ErrNoCurrentJob
	}
	if job.JobID == "" {
		job = *current
	}
	report.JobID = job.JobID
	resp := s.client.ReportStatus(ctx, report)
	if !resp.Success {
		return fmt.Errorf("report %s for job %s: %s", report.Status, job.JobID, orUnknown(resp.Error))
	}
	s.logger.Info("job status reported", zap.String("job_id", job.JobID), zap.String("status", string(report.Status)))
	if terminal {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
	return nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}

var _ marketplace.JobSource = (*Source)(nil)
