package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/marketplace-scraper/internal/coordinator"
)

// newCoordinatorCmd groups the coordinator diagnostics.
func newCoordinatorCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Talk to the fleet coordinator directly",
	}
	cmd.PersistentFlags().StringVar(&workerID, "vps-id", "", "worker id registered with the coordinator")

	client := func(cmd *cobra.Command) (*coordinator.Client, error) {
		s, err := resolveSettings(cmd.Context())
		if err != nil {
			return nil, err
		}
		cfg := s.cfg
		if workerID != "" {
			cfg.Worker.ID = workerID
		}
		if cfg.Worker.ID == "" {
			cfg.Worker.ID = "diagnostics"
		}
		return coordinator.New(coordinator.Config{
			BaseURL:   cfg.Coordinator.BaseURL,
			APISecret: cfg.Coordinator.APISecret,
			WorkerID:  cfg.Worker.ID,
			Timeout:   cfg.Coordinator.Timeout,
		}, s.logger.Named("coordinator"))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Print the coordinator health document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			resp := c.Health(cmd.Context())
			if err := printJSON(cmd, resp.Fields); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("coordinator unhealthy: %s", resp.Error)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get-job",
		Short: "Request a job (the coordinator assigns it to this worker)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workerID == "" {
				return errors.New("--vps-id is required")
			}
			c, err := client(cmd)
			if err != nil {
				return err
			}
			resp := c.GetJob(cmd.Context())
			if err := printJSON(cmd, resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("get job failed: %s", resp.Error)
			}
			return nil
		},
	})
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
