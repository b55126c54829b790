package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/taskgen"
)

const sampleRows = 5

type generateOptions struct {
	workerID    string
	list        bool
	citiesFile  string
	workersFile string
	output      string
}

// newGenerateInputCmd creates the task file generator command.
func newGenerateInputCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate-input",
		Short: "Generate the task file for one worker",
		Long: `Expands the states assigned to a worker in the fleet file into one
task row per city, using the worker's account, proxy and threshold.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSettings(cmd.Context())
			if err != nil {
				return err
			}
			tg := s.cfg.TaskGen
			if opts.citiesFile == "" {
				opts.citiesFile = tg.CitiesFile
			}
			if opts.workersFile == "" {
				opts.workersFile = tg.WorkersFile
			}
			if opts.output == "" {
				opts.output = tg.Output
			}
			return generateInput(cmd.OutOrStdout(), s.logger, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.workerID, "vps-id", "", "worker id from the fleet file")
	fs.BoolVar(&opts.list, "list", false, "list the configured workers")
	fs.StringVar(&opts.citiesFile, "cities", "", "cities file (default taskgen.cities_file)")
	fs.StringVar(&opts.workersFile, "workers", "", "fleet file (default taskgen.workers_file)")
	fs.StringVar(&opts.output, "output", "", "task file to write (default taskgen.output)")
	return cmd
}

func generateInput(out io.Writer, logger *zap.Logger, opts *generateOptions) error {
	workers, err := taskgen.LoadWorkers(opts.workersFile)
	if err != nil {
		return err
	}
	if opts.list {
		printWorkers(out, taskgen.ListWorkers(workers))
		return nil
	}
	if opts.workerID == "" {
		return errors.New("--vps-id is required (use --list to see workers)")
	}
	cities, err := taskgen.LoadCities(opts.citiesFile)
	if err != nil {
		return err
	}
	plan, err := taskgen.Build(cities, workers, opts.workerID)
	if err != nil {
		return err
	}
	for _, w := range plan.Warnings {
		logger.Warn(w, zap.String("worker_id", plan.WorkerID))
	}
	if err := taskgen.WriteCSVFile(opts.output, plan.Rows); err != nil {
		return err
	}
	logger.Info("task file written", zap.String("path", opts.output), zap.Int("rows", len(plan.Rows)))
	printPlan(out, plan, opts.output)
	return nil
}

func printWorkers(out io.Writer, workers []taskgen.WorkerSummary) {
	fmt.Fprintf(out, "%d workers configured\n", len(workers))
	for _, w := range workers {
		status := "enabled"
		if !w.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(out, "  %-12s %-20s %-8s %-30s %s\n", w.ID, w.Name, status, w.Email, strings.Join(w.States, ","))
	}
}

func printPlan(out io.Writer, plan taskgen.Plan, path string) {
	fmt.Fprintf(out, "worker:    %s (%s)\n", plan.WorkerID, plan.Name)
	fmt.Fprintf(out, "account:   %s\n", plan.Email)
	fmt.Fprintf(out, "threshold: %d\n", plan.Threshold)
	fmt.Fprintf(out, "rows:      %d written to %s\n", len(plan.Rows), path)
	for _, state := range slices.Sorted(maps.Keys(plan.StateCounts)) {
		fmt.Fprintf(out, "  %s: %d cities\n", state, plan.StateCounts[state])
	}
	if len(plan.Rows) == 0 {
		return
	}
	fmt.Fprintln(out, "sample:")
	for i, row := range plan.Rows {
		if i == sampleRows {
			break
		}
		fmt.Fprintf(out, "  %s\n", strings.Join(row.Masked(), ","))
	}
}
