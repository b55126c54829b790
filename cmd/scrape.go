package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/taskgen"
)

// newScrapeCmd creates the task-file driven worker command.
func newScrapeCmd() *cobra.Command {
	flags := &workerFlags{}
	var input string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the regions listed in a task file",
		Long: `Works through the rows of a task file produced by generate-input,
then starts over. With --once the file is processed a single time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSettings(cmd.Context())
			if err != nil {
				return err
			}
			cfg := s.cfg
			flags.apply(cmd, &cfg)
			if input == "" {
				input = cfg.TaskGen.Output
			}
			cfg.Runner.Drain = cfg.Runner.Once

			rows, err := taskgen.ReadCSVFile(input, s.logger)
			if err != nil {
				return err
			}
			if cfg.Browser.Proxy == "" && len(rows) > 0 && rows[0].Proxy != "" {
				cfg.Browser.Proxy = rows[0].Proxy
				s.logger.Info("using proxy from task file")
			}
			s.logger.Info("starting task file worker",
				zap.String("input", input),
				zap.Int("rows", len(rows)),
				zap.Bool("once", cfg.Runner.Once),
			)
			return runWorker(cmd.Context(), s, cfg, taskgen.NewCSVSource(input, s.logger.Named("tasks")))
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "task file (default taskgen.output)")
	flags.register(cmd)
	return cmd
}
