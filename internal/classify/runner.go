// Package classify drives one resumable classification run: it samples
// articles that are not yet in the checkpoint, submits each to the
// categorizer, and merges the outcomes into the checkpoint.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer"
	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
	"github.com/JakeFAU/factcheck-aggregator/internal/metrics"
	"github.com/JakeFAU/factcheck-aggregator/internal/sampler"
	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

// ErrStoreUnavailable is returned when the article store cannot be read
// while computing candidates. Nothing is persisted in that case.
var ErrStoreUnavailable = errors.New("article store unavailable")

// State is a phase of a run.
type State string

// Run phases, in order.
const (
	StateLoading    State = "loading"
	StateSampling   State = "sampling"
	StateSubmitting State = "submitting"
	StateMerging    State = "merging"
	StatePersisted  State = "persisted"
	StateFailed     State = "failed"
)

const defaultPageSize = 500

// Config controls a run.
type Config struct {
	// NumArticles is the target sample size.
	NumArticles int `mapstructure:"num_articles"`
	// Concurrency bounds in-flight categorization calls.
	Concurrency int `mapstructure:"concurrency"`
	// PageSize is the store page size used while collecting candidates.
	PageSize int         `mapstructure:"page_size"`
	Retry    RetryConfig `mapstructure:"retry"`
}

// Clock abstracts time for reports.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Notifier announces a persisted run.
type Notifier interface {
	RunCompleted(ctx context.Context, report Report) error
}

// Report summarizes a run.
type Report struct {
	RunID      string    `json:"run_id"`
	Checkpoint string    `json:"checkpoint"`
	Sampled    int       `json:"sampled"`
	Submitted  int       `json:"submitted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Added      int       `json:"added"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NothingToDo reports whether the run found no candidates.
func (r Report) NothingToDo() bool {
	return r.Sampled == 0
}

// Deps are the collaborators of a Runner. Store, Categorizer, and Ledger
// are required.
type Deps struct {
	Store       article.Store
	Categorizer categorizer.Categorizer
	Ledger      *checkpoint.Ledger
	Retry       RetryPolicy
	Clock       Clock
	IDs         IDGenerator
	Notifier    Notifier
	Logger      *zap.Logger
}

// Runner executes classification runs.
type Runner struct {
	store       article.Store
	categorizer categorizer.Categorizer
	ledger      *checkpoint.Ledger
	retry       RetryPolicy
	clock       Clock
	ids         IDGenerator
	notifier    Notifier
	cfg         Config
	logger      *zap.Logger
}

// NewRunner validates deps and fills defaults.
func NewRunner(deps Deps, cfg Config) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("article store is required")
	}
	if deps.Categorizer == nil {
		return nil, fmt.Errorf("categorizer is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("checkpoint ledger is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	r := &Runner{
		store:       deps.Store,
		categorizer: deps.Categorizer,
		ledger:      deps.Ledger,
		retry:       deps.Retry,
		clock:       deps.Clock,
		ids:         deps.IDs,
		notifier:    deps.Notifier,
		cfg:         cfg,
		logger:      deps.Logger,
	}
	if r.retry == nil {
		r.retry = NewExponentialRetryPolicy(cfg.Retry)
	}
	if r.clock == nil {
		r.clock = utcClock{}
	}
	if r.ids == nil {
		r.ids = runIDs{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// Run executes one run. A cancellation before the merge returns the context
// error and leaves the checkpoint untouched.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.clock.Now(), Checkpoint: r.ledger.Location()}
	runID, err := r.ids.NewID()
	if err != nil {
		return report, fmt.Errorf("generate run id: %w", err)
	}
	report.RunID = runID
	logger := r.logger.With(zap.String("run_id", runID))

	enter(logger, StateLoading)
	snapshot, err := r.ledger.Load(ctx)
	if err != nil && ctx.Err() != nil {
		return r.interrupted(logger, report, ctx.Err())
	}
	if err != nil {
		logger.Warn("Checkpoint unreadable; treating as empty",
			zap.String("checkpoint", r.ledger.Location()), zap.Error(err))
	}

	enter(logger, StateSampling)
	candidates, err := r.candidates(ctx, snapshot)
	if err != nil {
		return r.fail(logger, report, StateSampling, err)
	}
	sample := sampler.Sample(candidates, r.cfg.NumArticles)
	report.Sampled = len(sample)
	if len(sample) == 0 {
		report.Total = snapshot.Len()
		report.FinishedAt = r.clock.Now()
		metrics.ObserveRun(metrics.StatusNothing, 0)
		logger.Info("Nothing to do: no unclassified candidates",
			zap.Int("candidates", len(candidates)),
			zap.Int("checkpoint_records", snapshot.Len()))
		return report, nil
	}
	logger.Info("Sampled articles",
		zap.Int("candidates", len(candidates)),
		zap.Int("sampled", len(sample)),
		zap.Int("target", r.cfg.NumArticles))

	enter(logger, StateSubmitting)
	records, err := r.submit(ctx, logger, sample)
	if err != nil {
		return r.interrupted(logger, report, err)
	}
	report.Submitted = len(records)
	for _, rec := range records {
		if rec.Failed() {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	enter(logger, StateMerging)
	committed, added, err := r.ledger.Commit(ctx, snapshot, records)
	if err != nil {
		return r.fail(logger, report, StateMerging, err)
	}
	report.Added = added
	report.Total = committed.Len()
	report.FinishedAt = r.clock.Now()

	enter(logger, StatePersisted)
	metrics.ObserveRun(metrics.StatusPersisted, report.Sampled)
	logger.Info("Classification run persisted",
		zap.String("checkpoint", report.Checkpoint),
		zap.Int("submitted", report.Submitted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("added", report.Added),
		zap.Int("total", report.Total),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	if r.notifier != nil {
		if nerr := r.notifier.RunCompleted(ctx, report); nerr != nil {
			logger.Warn("Failed to publish run completion", zap.Error(nerr))
		}
	}
	return report, nil
}

func (r *Runner) fail(logger *zap.Logger, report Report, state State, err error) (Report, error) {
	report.FinishedAt = r.clock.Now()
	metrics.ObserveRun(metrics.StatusFailed, report.Sampled)
	enter(logger, StateFailed)
	logger.Error("Classification run failed", zap.String("state", string(state)), zap.Error(err))
	return report, fmt.Errorf("%s: %w", state, err)
}

func (r *Runner) interrupted(logger *zap.Logger, report Report, err error) (Report, error) {
	report.FinishedAt = r.clock.Now()
	metrics.ObserveRun(metrics.StatusCanceled, report.Sampled)
	logger.Warn("Run interrupted before merge; no results persisted", zap.Error(err))
	return report, err
}

func enter(logger *zap.Logger, s State) {
	logger.Debug("Entering state", zap.String("state", string(s)))
}

// candidates pages through the whole store and drops articles already in
// the checkpoint.
func (r *Runner) candidates(ctx context.Context, snapshot *checkpoint.Checkpoint) ([]article.Article, error) {
	var out []article.Article
	for offset := 0; ; offset += r.cfg.PageSize {
		page, err := r.store.Query(ctx, article.Filter{}, article.Page{Limit: r.cfg.PageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		for _, a := range page {
			if !snapshot.Has(a.ID) {
				out = append(out, a)
			}
		}
		if len(page) < r.cfg.PageSize {
			return out, nil
		}
	}
}

type indexedRecord struct {
	index  int
	record checkpoint.Record
}

// accumulator collects per-item outcomes from concurrent submissions.
type accumulator struct {
	mu      sync.Mutex
	records []indexedRecord
}

func (a *accumulator) add(index int, rec checkpoint.Record) {
	a.mu.Lock()
	a.records = append(a.records, indexedRecord{index: index, record: rec})
	a.mu.Unlock()
}

// sorted returns the records in sample order.
func (a *accumulator) sorted() []checkpoint.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	sort.Slice(a.records, func(i, j int) bool { return a.records[i].index < a.records[j].index })
	out := make([]checkpoint.Record, len(a.records))
	for i, ir := range a.records {
		out[i] = ir.record
	}
	return out
}

// submit classifies every sampled article. Item failures become sentinel
// records; only cancellation of ctx aborts.
func (r *Runner) submit(ctx context.Context, logger *zap.Logger, sample []article.Article) ([]checkpoint.Record, error) {
	acc := &accumulator{records: make([]indexedRecord, 0, len(sample))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, a := range sample {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := time.Now()
			label, err := r.classifyOne(gctx, a)
			if err != nil && ctx.Err() != nil {
				// not an item outcome
				return ctx.Err()
			}
			rec := newRecord(a, label, err)
			if err != nil {
				metrics.ObserveClassification(metrics.OutcomeFailed, time.Since(start))
				logger.Warn("Failed to classify article",
					zap.Int64("article_id", a.ID),
					zap.String("url", a.URL),
					zap.Error(err))
			} else {
				metrics.ObserveClassification(metrics.OutcomeLabeled, time.Since(start))
				logger.Debug("Classified article",
					zap.Int64("article_id", a.ID),
					zap.String("topic", string(label)))
			}
			acc.add(i, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return acc.sorted(), nil
}

func (r *Runner) classifyOne(ctx context.Context, a article.Article) (topics.Label, error) {
	content := a.Content()
	for attempt := 1; ; attempt++ {
		label, err := r.categorizer.Classify(ctx, content)
		if err == nil {
			return label, nil
		}
		if !r.retry.ShouldRetry(ctx, err, attempt) {
			return "", err
		}
		wait := r.retry.Backoff(attempt)
		r.logger.Debug("Retrying classification",
			zap.Int64("article_id", a.ID), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func newRecord(a article.Article, label topics.Label, err error) checkpoint.Record {
	rec := checkpoint.Record{
		ArticleID: a.ID,
		Medium:    a.Medium,
		URL:       a.URL,
		Headline:  a.Headline,
		Kicker:    a.Kicker,
		Teaser:    a.Teaser,
		Label:     string(label),
	}
	if err != nil {
		rec.Label = topics.Sentinel
	}
	return rec
}
