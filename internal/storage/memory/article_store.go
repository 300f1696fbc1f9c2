// Package memory provides in-memory implementations for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
)

// ArticleStore keeps articles in memory, keyed by URL.
type ArticleStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]article.Article
	byURL  map[string]int64
	now    func() time.Time
}

var _ article.Store = (*ArticleStore)(nil)

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		byID:  make(map[int64]article.Article),
		byURL: make(map[string]int64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Ingest inserts the candidates whose URL is not yet stored.
func (s *ArticleStore) Ingest(ctx context.Context, candidates []article.Article) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fresh := article.DedupeByURL(candidates)
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, a := range fresh {
		if _, exists := s.byURL[a.URL]; exists {
			continue
		}
		s.nextID++
		a.ID = s.nextID
		a.LastUpdated = s.now()
		a.Body = append([]article.BodyBlock(nil), a.Body...)
		a.Entities = append([]string(nil), a.Entities...)
		s.byID[a.ID] = a
		s.byURL[a.URL] = a.ID
		inserted++
	}
	return inserted, nil
}

// Missing returns the URLs that are not stored, preserving input order.
func (s *ArticleStore) Missing(ctx context.Context, urls []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := s.byURL[u]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// Query returns matching articles ordered by ID.
func (s *ArticleStore) Query(ctx context.Context, filter article.Filter, page article.Page) ([]article.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := s.matching(filter)
	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []article.Article{}, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// Update applies a partial update.
func (s *ArticleStore) Update(ctx context.Context, id int64, fields article.Fields) (article.Article, error) {
	if err := ctx.Err(); err != nil {
		return article.Article{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return article.Article{}, article.ErrNotFound
	}
	if fields.Empty() {
		return a, nil
	}
	fields.Apply(&a)
	a.LastUpdated = s.now()
	s.byID[id] = a
	return a, nil
}

// TopicCounts groups matching articles by topic, largest first.
func (s *ArticleStore) TopicCounts(ctx context.Context, filter article.Filter) ([]article.TopicCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, a := range s.matching(filter) {
		if a.Topic == "" {
			continue
		}
		counts[a.Topic]++
	}
	out := make([]article.TopicCount, 0, len(counts))
	for topic, n := range counts {
		out = append(out, article.TopicCount{Topic: topic, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

// Len returns the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *ArticleStore) matching(filter article.Filter) []article.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]article.Article, 0, len(s.byID))
	for _, a := range s.byID {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
