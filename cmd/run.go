package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/coordinator"
)

// newRunCmd creates the coordinator-driven worker command.
func newRunCmd() *cobra.Command {
	flags := &workerFlags{}
	var workerID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape regions assigned by the coordinator",
		Long: `Requests regions from the fleet coordinator, scrapes each one and
reports progress back. Requires a worker id, the coordinator URL and the
shared API secret (COORDINATOR_URL, INTERNAL_API_SECRET).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSettings(cmd.Context())
			if err != nil {
				return err
			}
			cfg := s.cfg
			flags.apply(cmd, &cfg)
			if cmd.Flags().Changed("vps-id") {
				cfg.Worker.ID = workerID
			}
			if err := cfg.ValidateCoordinator(); err != nil {
				return err
			}

			client, err := coordinator.New(coordinator.Config{
				BaseURL:   cfg.Coordinator.BaseURL,
				APISecret: cfg.Coordinator.APISecret,
				WorkerID:  cfg.Worker.ID,
				Timeout:   cfg.Coordinator.Timeout,
			}, s.logger.Named("coordinator"))
			if err != nil {
				return fmt.Errorf("coordinator client: %w", err)
			}
			s.logger.Info("starting coordinator worker",
				zap.String("worker_id", cfg.Worker.ID),
				zap.String("coordinator", cfg.Coordinator.BaseURL),
				zap.Bool("once", cfg.Runner.Once),
			)
			source := coordinator.NewSource(client, cfg.Collector.Threshold, s.logger.Named("coordinator"))
			return runWorker(cmd.Context(), s, cfg, source)
		},
	}
	cmd.Flags().StringVar(&workerID, "vps-id", "", "worker id registered with the coordinator")
	flags.register(cmd)
	return cmd
}
