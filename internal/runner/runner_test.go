package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/dedup"
	"github.com/JakeFAU/marketplace-scraper/internal/extractor"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace/marketplacetest"
	"github.com/JakeFAU/marketplace-scraper/internal/progress"
)

type fakeSource struct {
	mu        sync.Mutex
	jobs      []marketplace.Job
	requests  int
	onEmpty   func()
	started   []string
	completed map[string]marketplace.JobResult
	failed    map[string]string
}

func newFakeSource(jobs ...marketplace.Job) *fakeSource {
	return &fakeSource{jobs: jobs, completed: map[string]marketplace.JobResult{}, failed: map[string]string{}}
}

func (s *fakeSource) NextJob(context.Context) (marketplace.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if len(s.jobs) == 0 {
		if s.onEmpty != nil {
			s.onEmpty()
		}
		return marketplace.Job{}, false, nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, true, nil
}

func (s *fakeSource) ReportInProgress(_ context.Context, job marketplace.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, job.JobID)
	return nil
}

func (s *fakeSource) ReportCompleted(_ context.Context, job marketplace.Job, result marketplace.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[job.JobID] = result
	return nil
}

func (s *fakeSource) ReportFailed(_ context.Context, job marketplace.Job, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[job.JobID] = message
	return nil
}

type fakeBrowser struct {
	sess       *marketplacetest.Session
	due        bool
	restarts   int
	restartErr error
}

func (b *fakeBrowser) Session() marketplace.Session { return b.sess }
func (b *fakeBrowser) RestartDue() bool             { return b.due }
func (b *fakeBrowser) Close() error                 { return nil }

func (b *fakeBrowser) Restart(context.Context) error {
	b.restarts++
	b.due = false
	return b.restartErr
}

type fakeCollector struct {
	ids       []string
	err       error
	url       string
	threshold int
}

func (c *fakeCollector) Collect(_ context.Context, _ marketplace.Session, url string, threshold int) (*marketplace.LinkTable, error) {
	c.url = url
	c.threshold = threshold
	if c.err != nil {
		return nil, c.err
	}
	table := marketplace.NewLinkTable(threshold)
	for _, id := range c.ids {
		table.Add(id, "https://www.facebook.com/marketplace/item/"+id+"/")
	}
	return table, nil
}

type fakeExtractor struct {
	fail  map[string]error
	calls []string
}

func (e *fakeExtractor) Extract(_ context.Context, _ marketplace.Session, req extractor.Request) (marketplace.ListingRecord, marketplace.ExtractionReport, error) {
	e.calls = append(e.calls, req.ItemID)
	if err := e.fail[req.ItemID]; err != nil {
		return marketplace.ListingRecord{}, marketplace.ExtractionReport{}, &marketplace.ExtractionFailure{ItemID: req.ItemID, Cause: err}
	}
	id, _ := strconv.ParseInt(req.ItemID, 10, 64)
	return marketplace.ListingRecord{ID: id, RegionCode: req.RegionCode, ImageURLs: []string{}}, marketplace.ExtractionReport{}, nil
}

type fakeUploader struct {
	duplicates map[int64]bool
	fail       map[int64]bool
	calls      map[int64]int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{duplicates: map[int64]bool{}, fail: map[int64]bool{}, calls: map[int64]int{}}
}

func (u *fakeUploader) Upload(_ context.Context, rec marketplace.ListingRecord) (dedup.Outcome, error) {
	u.calls[rec.ID]++
	if u.fail[rec.ID] {
		return dedup.Outcome{}, &marketplace.UploadFailure{ItemID: rec.Key(), Cause: errors.New("store down")}
	}
	return dedup.Outcome{Written: !u.duplicates[rec.ID]}, nil
}

type fakeNotifier struct {
	contexts []string
}

func (n *fakeNotifier) Alert(_ context.Context, alertContext string, _ error) error {
	n.contexts = append(n.contexts, alertContext)
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) count(stage progress.Stage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type harness struct {
	source    *fakeSource
	browser   *fakeBrowser
	collector *fakeCollector
	extractor *fakeExtractor
	uploader  *fakeUploader
	notifier  *fakeNotifier
	clock     *marketplacetest.Clock
	events    *recordingEmitter
	acts      int
	// onActivity runs inside every break activity.
	onActivity func()
}

func testConfig() Config {
	return Config{
		Once:             true,
		MarketplaceURL:   "https://www.facebook.com/marketplace/%s/vehicles",
		Threshold:        500,
		ItemDelay:        500 * time.Millisecond,
		PostJobPause:     31 * time.Second,
		FailureBackoff:   61 * time.Second,
		NoJobBackoff:     301 * time.Second,
		BreakEvery:       15,
		BreakChunks:      2,
		BreakChunkPause:  29 * time.Second,
		ActivitiesMin:    2,
		ActivitiesMax:    2,
		ActivityPauseMin: 0,
		ActivityPauseMax: 0,
	}
}

func newHarness(ids ...string) *harness {
	return &harness{
		source:    newFakeSource(marketplace.Job{JobID: "job-1", City: "austin", State: "TX"}),
		browser:   &fakeBrowser{sess: marketplacetest.NewSession(nil)},
		collector: &fakeCollector{ids: ids},
		extractor: &fakeExtractor{fail: map[string]error{}},
		uploader:  newFakeUploader(),
		notifier:  &fakeNotifier{},
		clock:     marketplacetest.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		events:    &recordingEmitter{},
	}
}

func (h *harness) runner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	counting := Activity{Name: "count", Do: func(context.Context, marketplace.Session, *Pacer) error {
		h.acts++
		if h.onActivity != nil {
			h.onActivity()
		}
		return nil
	}}
	r, err := New(cfg, Deps{
		Source:     h.source,
		Browser:    h.browser,
		Collector:  h.collector,
		Extractor:  h.extractor,
		Uploader:   h.uploader,
		Notifier:   h.notifier,
		Clock:      h.clock,
		Progress:   h.events,
		Activities: []Activity{counting},
		Rand:       rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	return r
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(1000 + i)
	}
	return out
}

func TestRunProcessesEveryCollectedLink(t *testing.T) {
	t.Parallel()

	h := newHarness("1", "2", "3", "4", "5")
	h.source.jobs[0].Threshold = 25
	r := h.runner(t, testConfig())

	require.NoError(t, r.Run(context.Background()))

	result := h.source.completed["job-1"]
	assert.Equal(t, 5, result.ListingsFound)
	assert.Equal(t, 5, result.NewListingsAdded)
	assert.Zero(t, result.DuplicatesSkipped)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 5*500*time.Millisecond, result.Duration)
	for id := int64(1); id <= 5; id++ {
		assert.Equal(t, 1, h.uploader.calls[id], "item %d", id)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, h.extractor.calls)
	assert.Equal(t, "https://www.facebook.com/marketplace/austin/vehicles", h.collector.url)
	assert.Equal(t, 25, h.collector.threshold)
	assert.Equal(t, []string{"job-1"}, h.source.started)
	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, 5, h.events.count(progress.StageItemDone))
	assert.Equal(t, 1, h.events.count(progress.StageJobDone))
	assert.Zero(t, h.clock.CountSleeps(31*time.Second), "single-shot mode skips the post-job pause")
}

func TestRunCountsItemFailuresAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness("100", "123", "200", "300")
	h.extractor.fail["123"] = fmt.Errorf("navigate: %w", marketplace.ErrNavigation)
	h.uploader.duplicates[200] = true
	h.uploader.fail[300] = true
	r := h.runner(t, testConfig())

	require.NoError(t, r.Run(context.Background()))

	result := h.source.completed["job-1"]
	assert.Equal(t, 4, result.ListingsFound)
	assert.Equal(t, 1, result.NewListingsAdded)
	assert.Equal(t, 1, result.DuplicatesSkipped)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"100", "123", "200", "300"}, h.extractor.calls)
	assert.Zero(t, h.uploader.calls[123])
	assert.Empty(t, h.notifier.contexts)
}

func TestBreaksEveryFifteenItems(t *testing.T) {
	t.Parallel()

	cases := []struct {
		links  int
		breaks int
	}{
		{links: 14, breaks: 0},
		{links: 15, breaks: 0},
		{links: 16, breaks: 1},
		{links: 30, breaks: 1},
		{links: 31, breaks: 2},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.links), func(t *testing.T) {
			t.Parallel()

			h := newHarness(ids(tc.links)...)
			r := h.runner(t, testConfig())
			require.NoError(t, r.Run(context.Background()))

			assert.Equal(t, tc.breaks*2, h.clock.CountSleeps(29*time.Second))
			assert.Equal(t, tc.breaks*2*2, h.acts)
			assert.Equal(t, tc.breaks, h.events.count(progress.StageBreak))
			assert.Equal(t, tc.links, h.clock.CountSleeps(500*time.Millisecond))
		})
	}
}

func TestRestartDueAtBreakRefreshesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(ids(16)...)
	h.onActivity = func() { h.browser.due = true }
	r := h.runner(t, testConfig())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, h.browser.restarts)
	assert.Equal(t, 1, h.events.count(progress.StageBrowserRestart))
	assert.Equal(t, 16, h.source.completed["job-1"].NewListingsAdded)
}

func TestJobFailureReportsAlertsAndBacksOff(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.collector.err = errors.New("marketplace page did not load")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.onEmpty = cancel
	cfg := testConfig()
	cfg.Once = false
	r := h.runner(t, cfg)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Contains(t, h.source.failed["job-1"], "collect links: marketplace page did not load")
	assert.Equal(t, []string{"job job-1 (austin) failed"}, h.notifier.contexts)
	assert.Equal(t, 1, h.clock.CountSleeps(61*time.Second))
	assert.Equal(t, 1, h.events.count(progress.StageJobError))
	assert.Equal(t, 2, h.source.requests)
}

func TestJobFailureInSingleShotModeReturnsError(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.collector.err = errors.New("boom")
	r := h.runner(t, testConfig())

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFatal)
	assert.Equal(t, StateFailed, r.State())
}

func TestDeadSessionIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness("1", "2", "3")
	h.extractor.fail["2"] = fmt.Errorf("navigate: %w", marketplace.ErrSessionDead)
	h.source.jobs = append(h.source.jobs, marketplace.Job{JobID: "job-2", City: "dallas"})
	cfg := testConfig()
	cfg.Once = false
	r := h.runner(t, cfg)

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrFatal)
	require.ErrorIs(t, err, marketplace.ErrSessionDead)

	assert.Equal(t, []string{"1", "2"}, h.extractor.calls)
	assert.Contains(t, h.source.failed, "job-1")
	assert.Len(t, h.notifier.contexts, 1)
	assert.Contains(t, h.notifier.contexts[0], "worker stopped")
	assert.Equal(t, 1, h.source.requests, "no further jobs after a fatal error")
}

func TestRestartBeforeJob(t *testing.T) {
	t.Parallel()

	h := newHarness("1")
	h.browser.due = true
	r := h.runner(t, testConfig())
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, h.browser.restarts)

	h = newHarness("1")
	h.browser.due = true
	h.browser.restartErr = fmt.Errorf("relaunch: %w", marketplace.ErrSessionDead)
	r = h.runner(t, testConfig())
	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrFatal)
	assert.Empty(t, h.extractor.calls)
}

func TestNoJob(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.jobs = nil
	r := h.runner(t, testConfig())
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, h.clock.Sleeps())

	h = newHarness()
	h.source.jobs = nil
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h.source.onEmpty = func() {
		calls++
		if calls == 3 {
			cancel()
		}
	}
	cfg := testConfig()
	cfg.Once = false
	r = h.runner(t, cfg)
	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, 2, h.clock.CountSleeps(301*time.Second))
}

func TestPostJobPauseInContinuousMode(t *testing.T) {
	t.Parallel()

	h := newHarness("1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.onEmpty = cancel
	cfg := testConfig()
	cfg.Once = false
	r := h.runner(t, cfg)

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, 1, h.clock.CountSleeps(31*time.Second))
	assert.Equal(t, 1, h.source.completed["job-1"].NewListingsAdded)
}

func TestDrainRunsUntilSourceIsEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness("1", "2")
	h.source.jobs = append(h.source.jobs,
		marketplace.Job{JobID: "job-2", City: "dallas"},
		marketplace.Job{JobID: "job-3", City: "houston"},
	)
	cfg := testConfig()
	cfg.Drain = true
	r := h.runner(t, cfg)

	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, h.source.completed, 3)
	assert.Equal(t, 4, h.source.requests)
	assert.Equal(t, 3, h.clock.CountSleeps(31*time.Second))
	assert.Zero(t, h.clock.CountSleeps(301*time.Second))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), Deps{})
	require.Error(t, err)

	h := newHarness()
	cfg := testConfig()
	cfg.Threshold = 0
	_, err = New(cfg, Deps{
		Source: h.source, Browser: h.browser, Collector: h.collector,
		Extractor: h.extractor, Uploader: h.uploader, Clock: h.clock,
	})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "job_requested", StateJobRequested.String())
	assert.Equal(t, "in_progress", StateInProgress.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
