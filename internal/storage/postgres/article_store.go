// Package postgres provides the Postgres-backed article store.
//
// Expected table layout (migrations are managed outside this module):
//
//	CREATE TABLE fact_check_articles (
//		id               BIGSERIAL PRIMARY KEY,
//		url              TEXT NOT NULL,
//		medium           TEXT,
//		category         TEXT,
//		author           TEXT,
//		kicker           TEXT,
//		headline         TEXT,
//		teaser           TEXT,
//		body             JSONB,
//		image_url        TEXT,
//		published_at     TIMESTAMP,
//		topic            TEXT,
//		claim            TEXT,
//		instrumentalizer TEXT,
//		entities         JSONB,
//		last_updated     TIMESTAMP NOT NULL DEFAULT now(),
//		CONSTRAINT constraint_fact_check_articles UNIQUE (url)
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
)

// DefaultTable is the article table name.
const DefaultTable = "fact_check_articles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for articles.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ArticleStore persists articles in Postgres.
type ArticleStore struct {
	pool  pool
	table string
	sb    sq.StatementBuilderType
	now   func() time.Time
}

var _ article.Store = (*ArticleStore)(nil)

// NewArticleStore connects to Postgres using cfg.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewArticleStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(p pool, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArticleStore{
		pool:  p,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var selectColumns = []string{
	"id",
	"url",
	"COALESCE(medium, '')",
	"COALESCE(category, '')",
	"COALESCE(author, '')",
	"COALESCE(kicker, '')",
	"COALESCE(headline, '')",
	"COALESCE(teaser, '')",
	"COALESCE(body, '[]'::jsonb)",
	"COALESCE(image_url, '')",
	"published_at",
	"COALESCE(topic, '')",
	"COALESCE(claim, '')",
	"COALESCE(instrumentalizer, '')",
	"COALESCE(entities, '[]'::jsonb)",
	"last_updated",
}

// Ingest inserts the candidates whose URL is not yet stored in a single
// transaction. ON CONFLICT covers a concurrent ingest of the same URL.
func (s *ArticleStore) Ingest(ctx context.Context, candidates []article.Article) (n int, err error) {
	fresh := article.DedupeByURL(candidates)
	if len(fresh) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin ingest: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck
		}
	}()

	urls := make([]string, len(fresh))
	for i, a := range fresh {
		urls[i] = a.URL
	}
	existing, err := existingURLs(ctx, tx, s.table, urls)
	if err != nil {
		return 0, err
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (
	url, medium, category, author, kicker, headline, teaser, body,
	image_url, published_at, topic, claim, instrumentalizer, entities, last_updated
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (url) DO NOTHING`, s.table)

	now := s.now()
	inserted := 0
	for _, a := range fresh {
		if _, ok := existing[a.URL]; ok {
			continue
		}
		body, err := marshalBody(a.Body)
		if err != nil {
			return 0, fmt.Errorf("marshal body of %s: %w", a.URL, err)
		}
		entities, err := marshalEntities(a.Entities)
		if err != nil {
			return 0, fmt.Errorf("marshal entities of %s: %w", a.URL, err)
		}
		tag, err := tx.Exec(ctx, insert,
			a.URL,
			nullable(a.Medium),
			nullable(a.Category),
			nullable(a.Author),
			nullable(a.Kicker),
			nullable(a.Headline),
			nullable(a.Teaser),
			body,
			nullable(a.ImageURL),
			a.PublishedAt,
			nullable(a.Topic),
			nullable(a.Claim),
			nullable(a.Instrumentalizer),
			entities,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert article %s: %w", a.URL, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit ingest: %w", err)
	}
	return inserted, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func existingURLs(ctx context.Context, q querier, table string, urls []string) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT url FROM %s WHERE url = ANY($1)", table), urls)
	if err != nil {
		return nil, fmt.Errorf("select existing urls: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{}, len(urls))
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		out[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return out, nil
}

// Missing returns the URLs that are not stored, preserving input order.
func (s *ArticleStore) Missing(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return []string{}, nil
	}
	existing, err := existingURLs(ctx, s.pool, s.table, urls)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := existing[u]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func applyFilter(q sq.SelectBuilder, f article.Filter) sq.SelectBuilder {
	if f.Medium != "" {
		q = q.Where(sq.Eq{"medium": f.Medium})
	}
	if f.Topic != "" {
		q = q.Where(sq.Eq{"topic": f.Topic})
	}
	if f.PublishedAfter != nil {
		q = q.Where(sq.GtOrEq{"published_at": *f.PublishedAfter})
	}
	if f.PublishedBefore != nil {
		q = q.Where(sq.LtOrEq{"published_at": *f.PublishedBefore})
	}
	return q
}

// Query returns matching articles ordered by id.
func (s *ArticleStore) Query(ctx context.Context, filter article.Filter, page article.Page) ([]article.Article, error) {
	q := applyFilter(s.sb.Select(selectColumns...).From(s.table), filter).OrderBy("id")
	if page.Limit > 0 {
		q = q.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		q = q.Offset(uint64(page.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	out := make([]article.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// Update applies a partial update and returns the stored article.
func (s *ArticleStore) Update(ctx context.Context, id int64, fields article.Fields) (article.Article, error) {
	var (
		query string
		args  []any
		err   error
	)
	if fields.Empty() {
		query, args, err = s.sb.Select(selectColumns...).From(s.table).Where(sq.Eq{"id": id}).ToSql()
	} else {
		ub := s.sb.Update(s.table)
		if fields.Topic != nil {
			ub = ub.Set("topic", *fields.Topic)
		}
		if fields.Claim != nil {
			ub = ub.Set("claim", *fields.Claim)
		}
		if fields.Instrumentalizer != nil {
			ub = ub.Set("instrumentalizer", *fields.Instrumentalizer)
		}
		if fields.Entities != nil {
			entities, merr := json.Marshal(fields.Entities)
			if merr != nil {
				return article.Article{}, fmt.Errorf("marshal entities: %w", merr)
			}
			ub = ub.Set("entities", entities)
		}
		ub = ub.Set("last_updated", s.now()).
			Where(sq.Eq{"id": id}).
			Suffix("RETURNING " + strings.Join(selectColumns, ", "))
		query, args, err = ub.ToSql()
	}
	if err != nil {
		return article.Article{}, fmt.Errorf("build update: %w", err)
	}

	a, err := scanArticle(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return article.Article{}, fmt.Errorf("article %d: %w", id, article.ErrNotFound)
	}
	if err != nil {
		return article.Article{}, err
	}
	return a, nil
}

// TopicCounts groups matching, labeled articles by topic, largest first.
func (s *ArticleStore) TopicCounts(ctx context.Context, filter article.Filter) ([]article.TopicCount, error) {
	q := applyFilter(s.sb.Select("topic", "COUNT(*)").From(s.table), filter).
		Where(sq.NotEq{"topic": nil}).
		GroupBy("topic").
		OrderBy("COUNT(*) DESC", "topic")
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topic count query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topic counts: %w", err)
	}
	defer rows.Close()

	out := make([]article.TopicCount, 0)
	for rows.Next() {
		var tc article.TopicCount
		if err := rows.Scan(&tc.Topic, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan topic count: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic counts: %w", err)
	}
	return out, nil
}

func scanArticle(row pgx.Row) (article.Article, error) {
	var (
		a        article.Article
		body     []byte
		entities []byte
	)
	err := row.Scan(
		&a.ID,
		&a.URL,
		&a.Medium,
		&a.Category,
		&a.Author,
		&a.Kicker,
		&a.Headline,
		&a.Teaser,
		&body,
		&a.ImageURL,
		&a.PublishedAt,
		&a.Topic,
		&a.Claim,
		&a.Instrumentalizer,
		&entities,
		&a.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return article.Article{}, err
	}
	if err != nil {
		return article.Article{}, fmt.Errorf("scan article: %w", err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &a.Body); err != nil {
			return article.Article{}, fmt.Errorf("decode body of article %d: %w", a.ID, err)
		}
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &a.Entities); err != nil {
			return article.Article{}, fmt.Errorf("decode entities of article %d: %w", a.ID, err)
		}
	}
	return a, nil
}

func marshalBody(body []article.BodyBlock) ([]byte, error) {
	if len(body) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(body)
}

// marshalEntities stores SQL NULL for no entities.
func marshalEntities(entities []string) (any, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	return json.Marshal(entities)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
