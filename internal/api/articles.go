package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 500
)

// listArticles handles GET /v1/articles. It returns {"articles": [...]} on
// success and 400 for invalid filters or paging.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Topic = strings.TrimSpace(r.URL.Query().Get("topic"))
	limit, offset, err := parseLimitOffset(r, defaultArticleLimit, maxArticleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	articles, err := s.store.Query(ctx, filter, article.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("query articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query articles")
		return
	}
	if articles == nil {
		articles = []article.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles": articles,
		"limit":    limit,
		"offset":   offset,
	})
}

// topicCounts handles GET /v1/topic-counts. Responses are cached per filter
// for the configured TTL.
func (s *Server) topicCounts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := cacheKey(filter)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, map[string]any{"topic_counts": cached})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	counts, err := s.store.TopicCounts(ctx, filter)
	if err != nil {
		s.logger.Error("topic counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count topics")
		return
	}
	if counts == nil {
		counts = []article.TopicCount{}
	}
	if s.cache != nil {
		s.cache.SetDefault(key, counts)
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic_counts": counts})
}

func parseFilter(r *http.Request) (article.Filter, error) {
	q := r.URL.Query()
	after, err := article.ParseLowerBound(q.Get("published_after"))
	if err != nil {
		return article.Filter{}, errors.New("invalid published_after")
	}
	before, err := article.ParseUpperBound(q.Get("published_before"))
	if err != nil {
		return article.Filter{}, errors.New("invalid published_before")
	}
	if after != nil && before != nil && after.After(*before) {
		return article.Filter{}, errors.New("published_after is later than published_before")
	}
	return article.Filter{
		Medium:          strings.TrimSpace(q.Get("medium")),
		PublishedAfter:  after,
		PublishedBefore: before,
	}, nil
}

func cacheKey(f article.Filter) string {
	var b strings.Builder
	b.WriteString(f.Medium)
	b.WriteByte('|')
	if f.PublishedAfter != nil {
		b.WriteString(f.PublishedAfter.Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	if f.PublishedBefore != nil {
		b.WriteString(f.PublishedBefore.Format(time.RFC3339Nano))
	}
	return b.String()
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
