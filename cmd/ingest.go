package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/metrics"
)

const (
	defaultIngestBatch = 500
	maxRecordBytes     = 16 << 20
)

// ingestSummary counts the outcome of an ingest.
type ingestSummary struct {
	Read       int
	Invalid    int
	Inserted   int
	Duplicates int
}

func newIngestCmd() *cobra.Command {
	var (
		files     []string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Insert scraped articles that are not stored yet",
		Long: `Reads JSON Lines produced by the scraper (one article per line), normalizes
body blocks and publication timestamps, and inserts every article whose URL
is not already stored. Use "-" to read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngestCommand(cmd, files, batchSize)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", []string{"-"}, "JSON Lines input files")
	cmd.Flags().IntVar(&batchSize, "batch-size", defaultIngestBatch, "articles per store transaction")
	return cmd
}

func runIngestCommand(cmd *cobra.Command, files []string, batchSize int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	var total ingestSummary
	for _, name := range files {
		summary, err := ingestFile(cmd.Context(), cmd.InOrStdin(), name, appInstance.Store(), batchSize, logger)
		total.Read += summary.Read
		total.Invalid += summary.Invalid
		total.Inserted += summary.Inserted
		total.Duplicates += summary.Duplicates
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Read %d records: %d inserted, %d already stored, %d invalid\n",
		total.Read, total.Inserted, total.Duplicates, total.Invalid)
	return nil
}

func ingestFile(
	ctx context.Context,
	stdin io.Reader,
	name string,
	store article.Store,
	batchSize int,
	logger *zap.Logger,
) (ingestSummary, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return ingestSummary{}, fmt.Errorf("open %s: %w", name, err)
		}
		defer f.Close() //nolint:errcheck // read-only
		r = f
	}
	return ingest(ctx, r, store, batchSize, logger.With(zap.String("file", name)))
}

// ingest streams JSON Lines from r into store in batches. Malformed lines
// are logged and counted; store errors abort.
func ingest(ctx context.Context, r io.Reader, store article.Store, batchSize int, logger *zap.Logger) (ingestSummary, error) {
	if batchSize <= 0 {
		batchSize = defaultIngestBatch
	}
	var summary ingestSummary
	batch := make([]article.Article, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := store.Ingest(ctx, batch)
		if err != nil {
			return fmt.Errorf("ingest batch: %w", err)
		}
		summary.Inserted += inserted
		summary.Duplicates += len(batch) - inserted
		metrics.ObserveIngest(inserted, len(batch)-inserted)
		logger.Info("Ingested batch", zap.Int("size", len(batch)), zap.Int("inserted", inserted))
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		summary.Read++
		a, err := article.ParseScrapedRecord(raw)
		if err != nil {
			summary.Invalid++
			logger.Warn("Skipping malformed record", zap.Int("line", line), zap.Error(err))
			continue
		}
		batch = append(batch, a)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}
	return summary, flush()
}
