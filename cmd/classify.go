package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer/openrouter"
	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
	"github.com/JakeFAU/factcheck-aggregator/internal/config"
	"github.com/JakeFAU/factcheck-aggregator/internal/metrics"
)

const pushTimeout = 10 * time.Second

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a stratified sample of unclassified articles",
		Long: `Loads the checkpoint, samples up to --num-articles articles that are not
in it yet (spread evenly across outlets and publication dates), sends each
one to the categorization service, and merges every outcome into the
checkpoint. Failed classifications are recorded with the failure sentinel
and are not retried by later runs.`,
		Args: cobra.NoArgs,
		RunE: runClassifyCommand,
	}
	cmd.Flags().Int("num-articles", 10, "number of articles to classify in this run")
	cmd.Flags().String("csv", config.DefaultCheckpointPath, "checkpoint file (forces the local checkpoint backend)")
	cmd.Flags().String("model", openrouter.DefaultModel, "model identifier sent to the categorization service")
	cmd.Flags().Int("concurrency", 1, "maximum in-flight categorization calls")
	return cmd
}

func runClassifyCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	runner, err := appInstance.Runner(cmd.Context(), nil)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(cmd.Context())
	pushMetrics(cmd, cfg.Metrics, logger)
	if runErr != nil {
		return fmt.Errorf("classification run: %w", runErr)
	}
	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report classify.Report) {
	out := cmd.OutOrStdout()
	if report.NothingToDo() {
		fmt.Fprintf(out, "Nothing to do: no unclassified articles (%s holds %d records)\n",
			report.Checkpoint, report.Total)
		return
	}
	fmt.Fprintf(out, "Run %s: classified %d of %d sampled articles (%d failed)\n",
		report.RunID, report.Succeeded, report.Sampled, report.Failed)
	fmt.Fprintf(out, "Checkpoint %s: %d new records, %d total\n",
		report.Checkpoint, report.Added, report.Total)
}

// pushMetrics sends the run's collectors to the Pushgateway when one is
// configured. Failures are logged and never fail the command.
func pushMetrics(cmd *cobra.Command, cfg config.MetricsConfig, logger *zap.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), pushTimeout)
	defer cancel()
	if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		logger.Warn("Failed to push metrics", zap.String("gateway", cfg.PushgatewayURL), zap.Error(err))
	}
}
