// Package app builds the worker's dependencies from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/api"
	"github.com/JakeFAU/marketplace-scraper/internal/browser"
	"github.com/JakeFAU/marketplace-scraper/internal/clock/system"
	"github.com/JakeFAU/marketplace-scraper/internal/collector"
	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/dedup"
	"github.com/JakeFAU/marketplace-scraper/internal/extractor"
	"github.com/JakeFAU/marketplace-scraper/internal/id/uuid"
	"github.com/JakeFAU/marketplace-scraper/internal/images"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-scraper/internal/notify"
	"github.com/JakeFAU/marketplace-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/marketplace-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/marketplace-scraper/internal/progress/sinks"
	"github.com/JakeFAU/marketplace-scraper/internal/proxy"
	memorypublisher "github.com/JakeFAU/marketplace-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/marketplace-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/marketplace-scraper/internal/runner"
	"github.com/JakeFAU/marketplace-scraper/internal/storage"
	"github.com/JakeFAU/marketplace-scraper/internal/telemetry"
)

const (
	homeURL         = "https://www.facebook.com/"
	shutdownTimeout = 15 * time.Second
)

// Options supplies what configuration alone cannot.
type Options struct {
	// Source hands out jobs. Required.
	Source marketplace.JobSource
	// Browser replaces the Chrome manager when set.
	Browser marketplace.SessionProvider
	// Clock defaults to the system clock.
	Clock   marketplace.Clock
	Version string
}

type closablePublisher interface {
	marketplace.Publisher
	Close() error
}

// App contains the worker's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  marketplace.Clock

	store          marketplace.DocumentStore
	blobs          storage.BlobStore
	publisher      closablePublisher
	browser        marketplace.SessionProvider
	progressHub    *progress.Hub
	status         *progresssinks.StatusSink
	apiServer      *api.Server
	runner         *runner.Runner
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the worker's dependencies. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if opts.Source == nil {
		return nil, errors.New("app: job source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	app := &App{cfg: cfg, logger: logger, clock: clock, browser: opts.Browser}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building worker",
		zap.String("worker_id", cfg.Worker.ID),
		zap.String("store", cfg.Store.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Bool("download_images", cfg.Images.Download),
		zap.Bool("alerts", cfg.Alerts.Enabled),
	)

	metrics.Init()
	if err = app.setupTracing(ctx, opts.Version); err != nil {
		return nil, err
	}
	if app.store, err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	downloader, err := app.setupImages(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := app.setupNotifier()
	if err != nil {
		return nil, err
	}
	emitter := app.setupProgress()

	if app.browser == nil {
		if app.browser, err = app.setupBrowser(ctx); err != nil {
			return nil, err
		}
	}

	app.runner, err = runner.New(runnerConfig(cfg), runner.Deps{
		Source:    opts.Source,
		Browser:   app.browser,
		Collector: collector.New(collectorConfig(cfg), clock, logger.Named("collector")),
		Extractor: extractor.New(extractorConfig(cfg), nil, downloader, clock, logger.Named("extractor")),
		Uploader: dedup.New(app.store, publisher, dedup.Config{Topic: eventTopic(cfg)},
			logger.Named("dedup")),
		Notifier:   notifier,
		Clock:      clock,
		IDs:        uuid.WithPrefix("run"),
		Progress:   emitter,
		Activities: runner.DefaultActivities(homeURL),
		Logger:     logger.Named("runner"),
	})
	if err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}

	if cfg.Metrics.Enabled {
		app.apiServer = api.NewServer(app.status, cfg.Worker.ID, logger.Named("api"), app.readinessChecks()...)
	}
	return app, nil
}

// Run drives the job loop until it ends or ctx is canceled. The status and
// metrics server, when enabled, runs alongside it and stops with the loop.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	serverDone := make(chan error, 1)
	if a.apiServer != nil {
		go func() {
			err := a.apiServer.ListenAndServe(ctx, a.cfg.Metrics.Addr)
			if err != nil {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
			serverDone <- err
		}()
	} else {
		close(serverDone)
	}

	err := a.runner.Run(ctx)
	stop()
	serverErr := <-serverDone
	switch {
	case errors.Is(err, context.Canceled) && serverErr != nil:
		return serverErr
	case errors.Is(err, context.Canceled):
		a.logger.Info("worker interrupted")
		return nil
	}
	return err
}

// Status returns the current job status snapshot.
func (a *App) Status() progresssinks.Snapshot {
	return a.status.Snapshot()
}

// Close shuts the application down.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("image store close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("document store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) setupTracing(ctx context.Context, version string) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		Version:     version,
		WorkerID:    a.cfg.Worker.ID,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	return nil
}

func (a *App) setupStore(ctx context.Context) (marketplace.DocumentStore, error) {
	store, err := storage.OpenDocumentStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	if (a.cfg.Store.Driver == "" || a.cfg.Store.Driver == "memory") && !a.cfg.Logging.Development {
		a.logger.Warn("listing store is in memory; duplicates are only detected within this process and listings are lost on exit",
			zap.String("store_driver", a.cfg.Store.Driver))
	}
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (marketplace.Publisher, error) {
	switch a.cfg.Events.Driver {
	case "pubsub":
		p, err := gcppublisher.Open(ctx, a.cfg.Events.ProjectID, a.cfg.Events.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory listing events")
	default:
		a.logger.Info("listing events disabled")
		return nil, nil
	}
	return a.publisher, nil
}

func (a *App) setupImages(ctx context.Context) (extractor.ImageDownloader, error) {
	if !a.cfg.Images.Download {
		return nil, nil
	}
	blobs, err := storage.OpenBlobStore(ctx, a.cfg.Images)
	if err != nil {
		return nil, err
	}
	a.blobs = blobs
	a.logger.Info("image downloads enabled", zap.String("driver", a.cfg.Images.Driver))
	return images.New(blobs, images.Config{
		Prefix:    a.cfg.Images.Prefix,
		Timeout:   a.cfg.Images.Timeout,
		UserAgent: a.cfg.Browser.UserAgent,
	}, a.logger.Named("images")), nil
}

func (a *App) setupNotifier() (marketplace.Notifier, error) {
	if !a.cfg.Alerts.Enabled {
		return notify.NewNoop(a.logger.Named("alerts")), nil
	}
	n, err := notify.NewTwilio(notify.Config{
		AccountSID: a.cfg.Alerts.AccountSID,
		AuthToken:  a.cfg.Alerts.AuthToken,
		From:       a.cfg.Alerts.From,
		To:         a.cfg.Alerts.To,
	}, a.clock, a.logger.Named("alerts"))
	if err != nil {
		return nil, fmt.Errorf("alerts init failed: %w", err)
	}
	a.logger.Info("SMS alerts enabled", zap.Int("recipients", len(a.cfg.Alerts.To)))
	return n, nil
}

func (a *App) setupProgress() progress.Emitter {
	a.status = progresssinks.NewStatusSink()
	a.progressHub = progress.NewHub(progress.Config{
		Logger: a.logger.Named("progress_hub"),
		Now:    a.clock.Now,
	}, a.status, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	return a.progressHub
}

func (a *App) setupBrowser(ctx context.Context) (marketplace.SessionProvider, error) {
	bc := a.cfg.Browser
	var endpoint *proxy.Endpoint
	if bc.Proxy != "" {
		ep, err := proxy.Parse(bc.Proxy)
		if err != nil {
			return nil, err
		}
		endpoint = &ep
		if bc.SkipProxyCheck {
			a.logger.Warn("proxy check skipped", zap.Stringer("proxy", ep))
		} else {
			egress, err := proxy.Check(ctx, ep, bc.ProxyCheckURL, bc.ProxyCheckTimeout)
			if err != nil {
				return nil, fmt.Errorf("proxy check failed: %w", err)
			}
			a.logger.Info("proxy verified", zap.Stringer("proxy", ep), zap.String("egress", egress))
		}
	}

	profile, err := browser.ProfileName(bc.ProfileFile)
	if err != nil {
		return nil, err
	}
	var limiter browser.Navigator
	if bc.NavigationRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: bc.NavigationRPS, Burst: bc.NavigationBurst})
		a.logger.Info("navigation rate limit enabled", zap.Float64("rps", bc.NavigationRPS))
	}

	mgr := browser.NewManager(browser.Config{
		Headless:          bc.Headless,
		Proxy:             endpoint,
		AllowImages:       bc.AllowImages,
		ProfileDir:        browser.ProfileDir(bc.ProfilesDir, profile),
		ExecPath:          bc.ExecPath,
		UserAgent:         bc.UserAgent,
		WindowWidth:       bc.WindowWidth,
		WindowHeight:      bc.WindowHeight,
		NavigationTimeout: bc.NavigationTimeout,
		ClickTimeout:      bc.ClickTimeout,
		RestartInterval:   bc.RestartInterval,
		RestartPause:      bc.RestartPause,
		StartURL:          homeURL,
	}, limiter, a.clock, a.logger.Named("browser"))
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("browser start failed: %w", err)
	}
	a.logger.Info("browser started", zap.String("profile", profile), zap.Bool("headless", bc.Headless))
	return mgr, nil
}

func (a *App) readinessChecks() []api.Check {
	return []api.Check{{
		Name: "browser",
		Probe: func(ctx context.Context) error {
			_, err := a.browser.Session().CurrentURL(ctx)
			return err
		},
	}}
}

func eventTopic(cfg config.Config) string {
	if cfg.Events.Driver == "none" || cfg.Events.Driver == "" {
		return ""
	}
	return cfg.Events.Topic
}

func runnerConfig(cfg config.Config) runner.Config {
	rc := cfg.Runner
	return runner.Config{
		Once:             rc.Once,
		Drain:            rc.Drain,
		MarketplaceURL:   cfg.Collector.MarketplaceURL,
		Threshold:        cfg.Collector.Threshold,
		DownloadImages:   cfg.Images.Download,
		ItemDelay:        rc.ItemDelay,
		PostJobPause:     rc.PostJobPause,
		FailureBackoff:   rc.FailureBackoff,
		NoJobBackoff:     rc.NoJobBackoff,
		BreakEvery:       rc.BreakEvery,
		BreakChunks:      rc.BreakChunks,
		BreakChunkPause:  rc.BreakChunkPause,
		ActivitiesMin:    rc.ActivitiesMin,
		ActivitiesMax:    rc.ActivitiesMax,
		ActivityPauseMin: rc.ActivityPauseMin,
		ActivityPauseMax: rc.ActivityPauseMax,
	}
}

func collectorConfig(cfg config.Config) collector.Config {
	cc := cfg.Collector
	return collector.Config{
		MaxScrolls:     cc.MaxScrolls,
		ScrollDelay:    cc.ScrollDelay,
		ArrivalDelay:   cc.ArrivalDelay,
		LinkSelector:   cc.LinkSelector,
		ItemPathMarker: cc.ItemPathMarker,
	}
}

func extractorConfig(cfg config.Config) extractor.Config {
	ec := cfg.Extractor
	return extractor.Config{
		PageLoadDelay:       ec.PageLoadDelay,
		SeeMoreWait:         ec.SeeMoreWait,
		SeeMoreXPath:        ec.SeeMoreXPath,
		ProfileRetries:      ec.ProfileRetries,
		ProfileRetryScroll:  ec.ProfileRetryScroll,
		ProfileRetryDelay:   ec.ProfileRetryDelay,
		ProfilePollAttempts: ec.ProfilePollAttempts,
		ProfilePollInterval: ec.ProfilePollInterval,
		ProfileSettleDelay:  ec.ProfileSettleDelay,
		ImageReloadDelay:    ec.ImageReloadDelay,
		LeadMarker:          ec.LeadMarker,
		TrailMarker:         ec.TrailMarker,
		JoinedMarker:        ec.JoinedMarker,
		ImageXPath:          ec.ImageXPath,
		CDNPrefix:           ec.CDNPrefix,
		MaxImages:           ec.MaxImages,
		ListingURLFormat:    ec.ListingURLFormat,
		OwnerID:             cfg.Worker.OwnerID,
	}
}
