package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
	"github.com/JakeFAU/factcheck-aggregator/internal/config"
)

// populateSummary counts the outcome of applying checkpoint labels.
type populateSummary struct {
	Updated  int
	Skipped  int
	NotFound int
	Failed   int
}

func newPopulateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Write checkpoint topic labels back to the article store",
		Long: `Reads the checkpoint and sets each classified article's topic in the
store. Rows carrying the failure sentinel are skipped. Unknown article ids
are counted and do not abort the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPopulateCommand(cmd, dryRun)
		},
	}
	cmd.Flags().String("csv", config.DefaultCheckpointPath, "checkpoint file (forces the local checkpoint backend)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without updating the store")
	return cmd
}

func runPopulateCommand(cmd *cobra.Command, dryRun bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ledger, err := appInstance.Ledger(cmd.Context())
	if err != nil {
		return err
	}
	snapshot, err := ledger.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", ledger.Location(), err)
	}

	summary, err := populate(cmd.Context(), appInstance.Store(), snapshot.Records(), dryRun, appInstance.Logger())
	if err != nil {
		return err
	}
	verb := "Updated"
	if dryRun {
		verb = "Would update"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d articles (%d skipped, %d not found, %d failed)\n",
		verb, summary.Updated, summary.Skipped, summary.NotFound, summary.Failed)
	return nil
}

func populate(
	ctx context.Context,
	store article.Store,
	records []checkpoint.Record,
	dryRun bool,
	logger *zap.Logger,
) (populateSummary, error) {
	var summary populateSummary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if rec.Failed() || rec.Label == "" {
			summary.Skipped++
			continue
		}
		if dryRun {
			summary.Updated++
			continue
		}
		label := rec.Label
		_, err := store.Update(ctx, rec.ArticleID, article.Fields{Topic: &label})
		switch {
		case err == nil:
			summary.Updated++
		case errors.Is(err, article.ErrNotFound):
			summary.NotFound++
			logger.Warn("Checkpoint references unknown article", zap.Int64("id", rec.ArticleID))
		default:
			summary.Failed++
			logger.Error("Failed to update article topic", zap.Int64("id", rec.ArticleID), zap.Error(err))
		}
	}
	return summary, nil
}
