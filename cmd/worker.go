package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/app"
	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/runner"
)

// workerFlags are the overrides shared by the run and scrape commands.
type workerFlags struct {
	proxy           string
	headless        bool
	once            bool
	waitTime        time.Duration
	restartInterval time.Duration
	allowImages     bool
	downloadImages  bool
	skipProxyCheck  bool
}

func (f *workerFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.proxy, "proxy", "", "proxy as user:pass@host:port or host:port")
	fs.BoolVar(&f.headless, "headless", false, "run Chrome without a window")
	fs.BoolVar(&f.once, "once", false, "stop when there is no more work instead of polling")
	fs.DurationVar(&f.waitTime, "wait-time", 30*time.Second, "pause between jobs")
	fs.DurationVar(&f.restartInterval, "restart-interval", 180*time.Minute, "proactive browser restart interval (0 disables)")
	fs.BoolVar(&f.allowImages, "allow-images", false, "let the browser load images")
	fs.BoolVar(&f.downloadImages, "download-images", false, "copy listing photos into the image store")
	fs.BoolVar(&f.skipProxyCheck, "skip-proxy-check", false, "skip the proxy egress check")
}

// apply copies explicitly set flags over the loaded configuration.
func (f *workerFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("proxy") {
		cfg.Browser.Proxy = f.proxy
	}
	if fs.Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if fs.Changed("once") {
		cfg.Runner.Once = f.once
	}
	if fs.Changed("wait-time") {
		cfg.Runner.PostJobPause = f.waitTime
	}
	if fs.Changed("restart-interval") {
		cfg.Browser.RestartInterval = f.restartInterval
	}
	if fs.Changed("allow-images") {
		cfg.Browser.AllowImages = f.allowImages
	}
	if fs.Changed("download-images") {
		cfg.Images.Download = f.downloadImages
	}
	if fs.Changed("skip-proxy-check") {
		cfg.Browser.SkipProxyCheck = f.skipProxyCheck
	}
}

// runWorker builds the application around source and runs it until the job
// loop ends or the process is signalled.
func runWorker(ctx context.Context, s *settings, cfg config.Config, source marketplace.JobSource) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, s.logger, app.Options{Source: source, Version: Version})
	if err != nil {
		return err
	}
	runErr := a.Run(ctx)
	if err := a.Close(ctx); err != nil {
		s.logger.Warn("shutdown failed", zap.Error(err))
	}
	if errors.Is(runErr, runner.ErrFatal) {
		s.logger.Error("worker stopped on a fatal browser error", zap.Error(runErr))
	}
	return runErr
}
