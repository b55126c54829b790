// Package runner drives the worker's job loop: request a job, collect links,
// extract and upload each listing, report the result, repeat.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/dedup"
	"github.com/JakeFAU/marketplace-scraper/internal/extractor"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-scraper/internal/progress"
)

// ErrFatal ends the worker; the browser can no longer be driven.
var ErrFatal = errors.New("fatal worker failure")

const (
	tracerName    = "github.com/JakeFAU/marketplace-scraper/internal/runner"
	reportTimeout = 30 * time.Second
)

// LinkCollector gathers listing links for a region.
type LinkCollector interface {
	Collect(ctx context.Context, sess marketplace.Session, marketplaceURL string, threshold int) (*marketplace.LinkTable, error)
}

// ListingExtractor reads one listing.
type ListingExtractor interface {
	Extract(ctx context.Context, sess marketplace.Session, req extractor.Request) (marketplace.ListingRecord, marketplace.ExtractionReport, error)
}

// Uploader stores a listing unless it already exists.
type Uploader interface {
	Upload(ctx context.Context, rec marketplace.ListingRecord) (dedup.Outcome, error)
}

// Config paces the job loop.
type Config struct {
	// Once stops the loop after the first job, or when no job is available.
	Once bool
	// Drain keeps a single-shot run going until the source has no more jobs.
	Drain bool
	// MarketplaceURL is a template with one %s for the job's city code.
	MarketplaceURL string
	// Threshold is the link target when the job does not carry one.
	Threshold       int
	DownloadImages  bool
	ItemDelay       time.Duration
	PostJobPause    time.Duration
	FailureBackoff  time.Duration
	NoJobBackoff    time.Duration
	BreakEvery      int
	BreakChunks     int
	BreakChunkPause time.Duration
	ActivitiesMin   int
	ActivitiesMax   int
	// ActivityPauseMin and ActivityPauseMax bound the pause after each activity.
	ActivityPauseMin time.Duration
	ActivityPauseMax time.Duration
}

// Deps are the runner's collaborators. Notifier, Progress, IDs and Rand are optional.
type Deps struct {
	Source     marketplace.JobSource
	Browser    marketplace.SessionProvider
	Collector  LinkCollector
	Extractor  ListingExtractor
	Uploader   Uploader
	Notifier   marketplace.Notifier
	Clock      marketplace.Clock
	IDs        marketplace.IDGenerator
	Progress   progress.Emitter
	Activities []Activity
	Rand       *rand.Rand
	Logger     *zap.Logger
}

// Runner owns the job loop. It is not safe for concurrent Run calls.
type Runner struct {
	cfg    Config
	deps   Deps
	pacer  *Pacer
	tracer trace.Tracer
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// New validates deps and builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("runner: job source is required")
	case deps.Browser == nil:
		return nil, errors.New("runner: browser is required")
	case deps.Collector == nil || deps.Extractor == nil || deps.Uploader == nil:
		return nil, errors.New("runner: collector, extractor and uploader are required")
	case deps.Clock == nil:
		return nil, errors.New("runner: clock is required")
	}
	if cfg.Threshold <= 0 {
		return nil, errors.New("runner: threshold must be > 0")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Activities == nil {
		deps.Activities = DefaultActivities("https://www.facebook.com")
	}
	if cfg.ActivitiesMax < cfg.ActivitiesMin {
		cfg.ActivitiesMax = cfg.ActivitiesMin
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		pacer:  &Pacer{clock: deps.Clock, rng: deps.Rand},
		tracer: otel.Tracer(tracerName),
		logger: deps.Logger,
		state:  StateIdle,
	}, nil
}

// State returns the current loop state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State, fields ...zap.Field) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	r.logger.Debug("runner state", append(fields, zap.Stringer("from", prev), zap.Stringer("to", s))...)
}

// Run loops until ctx ends, the source runs dry in single-shot mode, or the
// browser dies. A dead browser yields an error wrapping ErrFatal.
func (r *Runner) Run(ctx context.Context) error {
	for {
		r.setState(StateIdle)
		if err := ctx.Err(); err != nil {
			return err
		}

		r.setState(StateJobRequested)
		job, ok, err := r.deps.Source.NextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("job request failed", zap.Error(err))
			ok = false
		}
		if !ok {
			if r.cfg.Once {
				r.logger.Info("no job available, exiting")
				return err
			}
			r.logger.Info("no job available", zap.Duration("retry_in", r.cfg.NoJobBackoff))
			if err := r.deps.Clock.Sleep(ctx, r.cfg.NoJobBackoff); err != nil {
				return err
			}
			continue
		}

		jobErr := r.handleJob(ctx, job)
		switch {
		case errors.Is(jobErr, ErrFatal):
			return jobErr
		case ctx.Err() != nil:
			return ctx.Err()
		case jobErr != nil:
			if r.cfg.Once && !r.cfg.Drain {
				return jobErr
			}
			if err := r.deps.Clock.Sleep(ctx, r.cfg.FailureBackoff); err != nil {
				return err
			}
		default:
			if r.cfg.Once && !r.cfg.Drain {
				return nil
			}
			if err := r.deps.Clock.Sleep(ctx, r.cfg.PostJobPause); err != nil {
				return err
			}
		}
	}
}

// handleJob runs one job and reports its outcome to the source.
func (r *Runner) handleJob(ctx context.Context, job marketplace.Job) error {
	runID := ""
	if r.deps.IDs != nil {
		if id, err := r.deps.IDs.NewID(); err == nil {
			runID = id
		}
	}
	logger := r.logger.With(
		zap.String("job_id", job.JobID),
		zap.String("run_id", runID),
		zap.String("city", job.City),
	)
	ctx, span := r.tracer.Start(ctx, "runner.job", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.city", job.City),
	))
	defer span.End()

	r.setState(StateInProgress, zap.String("job_id", job.JobID))
	metrics.SetActiveJob(true)
	defer metrics.SetActiveJob(false)
	r.emit(progress.Event{Stage: progress.StageJobStart, JobID: job.JobID, RunID: runID, City: job.City, Note: job.State})
	logger.Info("job started", zap.String("state", job.State), zap.Bool("is_new", job.IsNewJob))

	if err := r.deps.Source.ReportInProgress(ctx, job); err != nil {
		logger.Warn("in-progress report failed", zap.Error(err))
	}

	start := r.deps.Clock.Now()
	result, err := r.runJob(ctx, job, logger)
	if err != nil {
		elapsed := r.deps.Clock.Now().Sub(start)
		r.setState(StateFailed, zap.String("job_id", job.JobID))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveJob(string(marketplace.JobStatusFailed), elapsed)
		r.emit(progress.Event{Stage: progress.StageJobError, JobID: job.JobID, RunID: runID, City: job.City, Dur: elapsed, Note: err.Error()})

		reportCtx, cancel := detached(ctx)
		defer cancel()
		if rerr := r.deps.Source.ReportFailed(reportCtx, job, err.Error()); rerr != nil {
			logger.Warn("failure report failed", zap.Error(rerr))
		}
		if ctx.Err() != nil {
			logger.Info("job interrupted", zap.Error(err))
			return ctx.Err()
		}
		if marketplace.IsFatal(err) {
			logger.Error("critical: browser session lost, worker stopping", zap.Error(err))
			r.alert(reportCtx, fmt.Sprintf("worker stopped during job %s (%s)", job.JobID, job.City), err)
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		logger.Error("job failed", zap.Error(err), zap.Duration("after", elapsed))
		r.alert(reportCtx, fmt.Sprintf("job %s (%s) failed", job.JobID, job.City), err)
		return err
	}

	r.setState(StateCompleted, zap.String("job_id", job.JobID))
	metrics.ObserveJob(string(marketplace.JobStatusCompleted), result.Duration)
	r.emit(progress.Event{Stage: progress.StageJobDone, JobID: job.JobID, RunID: runID, City: job.City, Count: result.ListingsFound, Dur: result.Duration})
	span.SetAttributes(
		attribute.Int("job.listings_found", result.ListingsFound),
		attribute.Int("job.new_listings", result.NewListingsAdded),
		attribute.Int("job.duplicates", result.DuplicatesSkipped),
		attribute.Int("job.failed", result.Failed),
	)
	if err := r.deps.Source.ReportCompleted(ctx, job, result); err != nil {
		logger.Warn("completion report failed", zap.Error(err))
	}
	logger.Info("job completed",
		zap.Int("listings_found", result.ListingsFound),
		zap.Int("new_listings", result.NewListingsAdded),
		zap.Int("duplicates", result.DuplicatesSkipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return nil
}

// runJob collects and processes the links for job.
func (r *Runner) runJob(ctx context.Context, job marketplace.Job, logger *zap.Logger) (marketplace.JobResult, error) {
	if err := r.restartIfDue(ctx, job); err != nil {
		return marketplace.JobResult{}, err
	}
	start := r.deps.Clock.Now()

	threshold := r.cfg.Threshold
	if job.Threshold > 0 {
		threshold = job.Threshold
	}
	url := fmt.Sprintf(r.cfg.MarketplaceURL, job.City)
	table, err := r.deps.Collector.Collect(ctx, r.deps.Browser.Session(), url, threshold)
	if err != nil {
		return marketplace.JobResult{}, fmt.Errorf("collect links: %w", err)
	}
	links := table.Links()
	r.emit(progress.Event{Stage: progress.StageLinksCollected, JobID: job.JobID, City: job.City, Count: len(links)})
	logger.Info("links collected", zap.Int("links", len(links)), zap.Int("threshold", threshold))

	result, err := r.processLinks(ctx, job, links, logger)
	result.ListingsFound = len(links)
	result.Duration = r.deps.Clock.Now().Sub(start)
	return result, err
}

// processLinks extracts and uploads links in order. Item failures are
// counted; only session errors and cancellation stop the batch.
func (r *Runner) processLinks(ctx context.Context, job marketplace.Job, links []marketplace.Link, logger *zap.Logger) (marketplace.JobResult, error) {
	var result marketplace.JobResult
	sess := r.deps.Browser.Session()
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := r.processItem(ctx, sess, job, link, logger)
		if err != nil {
			return result, err
		}
		switch outcome {
		case progress.OutcomeWritten:
			result.NewListingsAdded++
		case progress.OutcomeDuplicate:
			result.DuplicatesSkipped++
		default:
			result.Failed++
		}
		r.emit(progress.Event{Stage: progress.StageItemDone, JobID: job.JobID, City: job.City, ItemID: link.ID, Outcome: outcome})

		if err := r.deps.Clock.Sleep(ctx, r.cfg.ItemDelay); err != nil {
			return result, err
		}
		processed := i + 1
		if r.cfg.BreakEvery > 0 && processed%r.cfg.BreakEvery == 0 && processed < len(links) {
			logger.Info("taking a break", zap.Int("processed", processed), zap.Int("remaining", len(links)-processed))
			if err := r.takeBreak(ctx, sess, job); err != nil {
				return result, err
			}
			if r.deps.Browser.RestartDue() {
				if err := r.restart(ctx, job); err != nil {
					return result, err
				}
			}
			sess = r.deps.Browser.Session()
		}
	}
	return result, nil
}

func (r *Runner) processItem(
	ctx context.Context,
	sess marketplace.Session,
	job marketplace.Job,
	link marketplace.Link,
	logger *zap.Logger,
) (progress.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "runner.item", trace.WithAttributes(attribute.String("item.id", link.ID)))
	defer span.End()
	logger = logger.With(zap.String("item_id", link.ID))

	rec, report, err := r.deps.Extractor.Extract(ctx, sess, extractor.Request{
		ItemID:         link.ID,
		DetailURL:      link.URL,
		RegionCode:     job.City,
		DownloadImages: r.cfg.DownloadImages,
	})
	if err != nil {
		span.RecordError(err)
		if marketplace.IsSessionError(err) || ctx.Err() != nil {
			return "", err
		}
		logger.Warn("listing extraction failed", zap.Error(err))
		return progress.OutcomeFailed, nil
	}
	if report.Degraded() {
		logger.Debug("listing extracted with gaps", zap.Any("steps", report.Steps))
	}

	outcome, err := r.deps.Uploader.Upload(ctx, rec)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn("listing upload failed", zap.Error(err))
		return progress.OutcomeFailed, nil
	}
	if !outcome.Written {
		return progress.OutcomeDuplicate, nil
	}
	return progress.OutcomeWritten, nil
}

// takeBreak runs BreakChunks rounds of random activities.
func (r *Runner) takeBreak(ctx context.Context, sess marketplace.Session, job marketplace.Job) error {
	start := r.deps.Clock.Now()
	for chunk := 1; chunk <= r.cfg.BreakChunks; chunk++ {
		if err := r.browseRandomly(ctx, sess); err != nil {
			return err
		}
		if err := r.deps.Clock.Sleep(ctx, r.cfg.BreakChunkPause); err != nil {
			return err
		}
	}
	r.emit(progress.Event{Stage: progress.StageBreak, JobID: job.JobID, City: job.City, Dur: r.deps.Clock.Now().Sub(start)})
	return nil
}

// browseRandomly performs ActivitiesMin..ActivitiesMax random activities,
// pausing after each. Activity errors other than session loss are logged.
func (r *Runner) browseRandomly(ctx context.Context, sess marketplace.Session) error {
	if len(r.deps.Activities) == 0 {
		return nil
	}
	n := r.pacer.intBetween(r.cfg.ActivitiesMin, r.cfg.ActivitiesMax)
	for range n {
		act := r.deps.Activities[r.pacer.pick(len(r.deps.Activities))]
		r.logger.Debug("break activity", zap.String("activity", act.Name))
		if err := act.Do(ctx, sess, r.pacer); err != nil {
			if marketplace.IsSessionError(err) || ctx.Err() != nil {
				return err
			}
			r.logger.Warn("break activity failed", zap.String("activity", act.Name), zap.Error(err))
		}
		if err := r.pacer.Between(ctx, r.cfg.ActivityPauseMin, r.cfg.ActivityPauseMax); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) restartIfDue(ctx context.Context, job marketplace.Job) error {
	if !r.deps.Browser.RestartDue() {
		return nil
	}
	return r.restart(ctx, job)
}

func (r *Runner) restart(ctx context.Context, job marketplace.Job) error {
	r.logger.Info("scheduled browser restart", zap.String("job_id", job.JobID))
	if err := r.deps.Browser.Restart(ctx); err != nil {
		return fmt.Errorf("browser restart: %w", err)
	}
	r.emit(progress.Event{Stage: progress.StageBrowserRestart, JobID: job.JobID})
	return nil
}

func (r *Runner) alert(ctx context.Context, summary string, err error) {
	if r.deps.Notifier == nil {
		return
	}
	if aerr := r.deps.Notifier.Alert(ctx, summary, err); aerr != nil {
		r.logger.Warn("alert failed", zap.Error(aerr))
	}
}

func (r *Runner) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = r.deps.Clock.Now()
	}
	r.deps.Progress.Emit(evt)
}

// detached returns a context that survives cancellation of ctx, for final reports.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
}
