package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/api"
	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer"
	"github.com/JakeFAU/factcheck-aggregator/internal/categorizer/openrouter"
	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
	checkpointMemory "github.com/JakeFAU/factcheck-aggregator/internal/checkpoint/memory"
	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
	"github.com/JakeFAU/factcheck-aggregator/internal/config"
	"github.com/JakeFAU/factcheck-aggregator/internal/storage/memory"
	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

type fakeApp struct {
	cfg     config.Config
	store   *memory.ArticleStore
	backend *checkpointMemory.Backend
	cat     categorizer.Categorizer
	closed  bool
}

func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) Logger() *zap.Logger   { return zap.NewNop() }
func (f *fakeApp) Store() article.Store  { return f.store }
func (f *fakeApp) Close()                { f.closed = true }

func (f *fakeApp) Ledger(context.Context) (*checkpoint.Ledger, error) {
	return checkpoint.NewLedger(f.backend, zap.NewNop()), nil
}

func (f *fakeApp) Runner(ctx context.Context, _ categorizer.Categorizer) (*classify.Runner, error) {
	ledger, err := f.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	return classify.NewRunner(classify.Deps{Store: f.store, Categorizer: f.cat, Ledger: ledger}, f.cfg.Classify)
}

func testConfig() config.Config {
	return config.Config{
		Store:      config.StoreConfig{Provider: config.ProviderMemory},
		Checkpoint: config.CheckpointConfig{Provider: config.ProviderLocal, Path: config.DefaultCheckpointPath},
		Classify: classify.Config{
			NumArticles: 10,
			Concurrency: 1,
			Retry:       classify.RetryConfig{MaxAttempts: 1},
		},
		Categorizer: openrouter.Config{Timeout: time.Second},
		Server:      config.ServerConfig{Port: 8080},
		Notify:      config.NotifyConfig{Provider: config.ProviderNone},
	}
}

// withFakeApp swaps the config loader and app factory for the duration of t.
func withFakeApp(t *testing.T, fa *fakeApp) *config.Config {
	t.Helper()
	origLoad, origNew := loadConfig, newApp
	var seen config.Config
	loadConfig = func(string) (config.Config, error) {
		return testConfig(), nil
	}
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		seen = cfg
		fa.cfg = cfg
		return fa, nil
	}
	t.Cleanup(func() { loadConfig, newApp = origLoad, origNew })
	return &seen
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, store *memory.ArticleStore, urls ...string) {
	t.Helper()
	batch := make([]article.Article, 0, len(urls))
	for _, u := range urls {
		batch = append(batch, article.Article{URL: u, Medium: "X", Headline: u})
	}
	_, err := store.Ingest(context.Background(), batch)
	require.NoError(t, err)
}

func TestClassifyCommand(t *testing.T) {
	fa := &fakeApp{
		store:   memory.NewArticleStore(),
		backend: checkpointMemory.New(),
		cat: categorizer.Func(func(_ context.Context, c article.Content) (topics.Label, error) {
			if c.Headline == "https://x/2" {
				return "", categorizer.ErrCategorization
			}
			return topics.Klima, nil
		}),
	}
	seen := withFakeApp(t, fa)
	seed(t, fa.store, "https://x/1", "https://x/2", "https://x/3")

	out, err := execute(t, "", "classify", "--num-articles", "2", "--model", "test/model", "--csv", "ledger.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, seen.Classify.NumArticles)
	assert.Equal(t, "test/model", seen.Categorizer.Model)
	assert.Equal(t, "ledger.csv", seen.Checkpoint.Path)
	assert.Contains(t, out, "of 2 sampled articles")
	assert.True(t, fa.closed)

	snapshot, err := checkpoint.Decode(bytes.NewReader(fa.backend.Data()))
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.Len())
}

func TestClassifyNothingToDo(t *testing.T) {
	fa := &fakeApp{
		store:   memory.NewArticleStore(),
		backend: checkpointMemory.New(),
		cat: categorizer.Func(func(context.Context, article.Content) (topics.Label, error) {
			return topics.Klima, nil
		}),
	}
	withFakeApp(t, fa)

	out, err := execute(t, "", "classify")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do")
}

func TestClassifyRejectsInvalidFlags(t *testing.T) {
	fa := &fakeApp{store: memory.NewArticleStore(), backend: checkpointMemory.New()}
	withFakeApp(t, fa)

	_, err := execute(t, "", "classify", "--concurrency", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify.concurrency")
}

func TestPopulateCommand(t *testing.T) {
	fa := &fakeApp{
		store: memory.NewArticleStore(),
		backend: checkpointMemory.NewWithData([]byte(
			"id,medium,url,headline,kicker,teaser,topic\n" +
				"1,X,https://x/1,h1,,,Migration & Asyl\n" +
				"2,X,https://x/2,h2,,," + topics.Sentinel + "\n" +
				"9,X,https://x/9,h9,,,Klima & Umwelt\n")),
	}
	withFakeApp(t, fa)
	seed(t, fa.store, "https://x/1", "https://x/2")

	out, err := execute(t, "", "populate")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated 1 articles (1 skipped, 1 not found, 0 failed)")

	got, err := fa.store.Query(context.Background(), article.Filter{Topic: string(topics.Migration)}, article.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://x/1", got[0].URL)

	got, err = fa.store.Query(context.Background(), article.Filter{Topic: topics.Sentinel}, article.Page{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPopulateDryRun(t *testing.T) {
	fa := &fakeApp{
		store: memory.NewArticleStore(),
		backend: checkpointMemory.NewWithData([]byte(
			"id,medium,url,headline,kicker,teaser,topic\n1,X,https://x/1,h1,,,Migration & Asyl\n")),
	}
	withFakeApp(t, fa)
	seed(t, fa.store, "https://x/1")

	out, err := execute(t, "", "populate", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would update 1 articles")

	counts, err := fa.store.TopicCounts(context.Background(), article.Filter{})
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestIngestCommand(t *testing.T) {
	fa := &fakeApp{store: memory.NewArticleStore(), backend: checkpointMemory.New()}
	withFakeApp(t, fa)
	seed(t, fa.store, "https://x/1")

	input := strings.Join([]string{
		`{"url":"https://x/1","medium":"X","headline":"old"}`,
		`{"url":"https://x/2","medium":"X","headline":"new","datetime_published":"2025-03-01T10:00:00Z",` +
			`"body_structured":[["subheadline","Kontext"],["paragraph","Text"]]}`,
		`not json`,
		``,
		`{"url":"https://x/3","medium":"Y"}`,
		`{"url":"https://x/3","medium":"Y"}`,
	}, "\n")

	out, err := execute(t, input, "ingest", "--batch-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Read 5 records: 2 inserted, 2 already stored, 1 invalid")
	assert.Equal(t, 3, fa.store.Len())

	got, err := fa.store.Query(context.Background(), article.Filter{}, article.Page{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []article.BodyBlock{
		{Type: article.BlockSubheadline, Text: "Kontext"},
		{Type: article.BlockParagraph, Text: "Text"},
	}, got[1].Body)
	require.NotNil(t, got[1].PublishedAt)
}

type failingIngestStore struct{ article.Store }

func (failingIngestStore) Ingest(context.Context, []article.Article) (int, error) {
	return 0, errors.New("connection reset")
}

func TestIngestAbortsOnStoreError(t *testing.T) {
	t.Parallel()

	_, err := ingest(context.Background(), strings.NewReader(`{"url":"https://x/1"}`),
		failingIngestStore{}, 10, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMissingCommand(t *testing.T) {
	fa := &fakeApp{store: memory.NewArticleStore(), backend: checkpointMemory.New()}
	withFakeApp(t, fa)
	seed(t, fa.store, "https://x/2")

	out, err := execute(t, "https://x/3\n# comment\nhttps://x/2\n\nhttps://x/1\nhttps://x/3\n", "missing")
	require.NoError(t, err)
	assert.Equal(t, "https://x/3\nhttps://x/1\n", out)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	handler := api.NewServer(memory.NewArticleStore(), 0, zap.NewNop()).Handler()
	go func() { done <- serve(ctx, lis, handler, time.Second, zap.NewNop()) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
