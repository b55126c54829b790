// Package cmd defines the CLI commands for the marketplace scraper worker.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

type settingsKeyType string

const settingsKey settingsKeyType = "settings"

// settings carries the loaded configuration and logger to subcommands.
type settings struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootOptions struct {
	cfgFile string
	envFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "marketplace-scraper",
		Short: "A marketplace vehicle listing scraper worker.",
		Long: `marketplace-scraper drives a logged-in browser through marketplace
vehicle listings region by region. Regions come from the fleet coordinator
or from a generated task file; new listings are stored once in the shared
document store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				HistoryFile: cfg.Logging.HistoryFile,
				ErrorFile:   cfg.Logging.ErrorFile,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey, &settings{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s, err := resolveSettings(cmd.Context()); err == nil {
				_ = s.logger.Sync() //nolint:errcheck // stderr sync fails on terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newGenerateInputCmd())
	cmd.AddCommand(newCoordinatorCmd())
	return cmd
}

func resolveSettings(ctx context.Context) (*settings, error) {
	s, ok := ctx.Value(settingsKey).(*settings)
	if !ok || s == nil {
		return nil, errors.New("configuration not loaded")
	}
	return s, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
