// Package article defines the fact-check article model and the store contract
// shared by ingestion, classification, and the read API.
package article

import (
	"context"
	"errors"
	"time"
)

// BlockType identifies the kind of a structured body block.
type BlockType string

// Body block kinds produced by the acquisition engine.
const (
	BlockParagraph   BlockType = "paragraph"
	BlockSubheadline BlockType = "subheadline"
)

// ErrNotFound is returned when an article identity does not exist.
var ErrNotFound = errors.New("article not found")

// BodyBlock is one typed element of an article body.
type BodyBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
}

// Article is the unit of storage. URL is the identity and dedup key; ID is
// assigned by the store on insert.
type Article struct {
	ID               int64       `json:"id"`
	URL              string      `json:"url"`
	Medium           string      `json:"medium"`
	Category         string      `json:"category,omitempty"`
	Author           string      `json:"author,omitempty"`
	Kicker           string      `json:"kicker,omitempty"`
	Headline         string      `json:"headline,omitempty"`
	Teaser           string      `json:"teaser,omitempty"`
	Body             []BodyBlock `json:"body,omitempty"`
	ImageURL         string      `json:"image_url,omitempty"`
	PublishedAt      *time.Time  `json:"published_at,omitempty"`
	Topic            string      `json:"topic,omitempty"`
	Claim            string      `json:"claim,omitempty"`
	Instrumentalizer string      `json:"instrumentalizer,omitempty"`
	Entities         []string    `json:"entities,omitempty"`
	LastUpdated      time.Time   `json:"last_updated"`
}

// Content is the snapshot submitted to the categorization service.
type Content struct {
	Medium   string      `json:"medium,omitempty"`
	Kicker   string      `json:"kicker"`
	Headline string      `json:"headline"`
	Teaser   string      `json:"teaser"`
	Body     []BodyBlock `json:"body"`
}

// Content returns the categorization snapshot of the article.
func (a Article) Content() Content {
	body := a.Body
	if body == nil {
		body = []BodyBlock{}
	}
	return Content{
		Medium:   a.Medium,
		Kicker:   a.Kicker,
		Headline: a.Headline,
		Teaser:   a.Teaser,
		Body:     body,
	}
}

// Filter narrows a query. Zero values leave a dimension unconstrained.
type Filter struct {
	Medium          string
	Topic           string
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
}

// Page bounds a query result. Limit <= 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// Fields carries the mutable attributes for a partial update. Nil fields are
// left untouched.
type Fields struct {
	Topic            *string
	Claim            *string
	Instrumentalizer *string
	Entities         []string
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	return f.Topic == nil && f.Claim == nil && f.Instrumentalizer == nil && f.Entities == nil
}

// Apply copies the set fields onto a.
func (f Fields) Apply(a *Article) {
	if f.Topic != nil {
		a.Topic = *f.Topic
	}
	if f.Claim != nil {
		a.Claim = *f.Claim
	}
	if f.Instrumentalizer != nil {
		a.Instrumentalizer = *f.Instrumentalizer
	}
	if f.Entities != nil {
		a.Entities = append([]string(nil), f.Entities...)
	}
}

// TopicCount is the number of articles carrying a topic.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// Store is the durable article collection.
type Store interface {
	// Ingest inserts the candidates whose URL is not yet stored, in one
	// atomic operation, and returns how many were inserted.
	Ingest(ctx context.Context, candidates []Article) (int, error)
	// Missing returns the URLs that are not stored, preserving input order.
	Missing(ctx context.Context, urls []string) ([]string, error)
	// Query returns articles matching all filters, ordered by ID.
	Query(ctx context.Context, filter Filter, page Page) ([]Article, error)
	// Update applies a partial update; ErrNotFound on unknown id.
	Update(ctx context.Context, id int64, fields Fields) (Article, error)
	// TopicCounts groups matching articles by topic.
	TopicCounts(ctx context.Context, filter Filter) ([]TopicCount, error)
}

// Matches reports whether a satisfies every dimension of f.
func (f Filter) Matches(a Article) bool {
	if f.Medium != "" && a.Medium != f.Medium {
		return false
	}
	if f.Topic != "" && a.Topic != f.Topic {
		return false
	}
	if f.PublishedAfter != nil {
		if a.PublishedAt == nil || a.PublishedAt.Before(*f.PublishedAfter) {
			return false
		}
	}
	if f.PublishedBefore != nil {
		if a.PublishedAt == nil || a.PublishedAt.After(*f.PublishedBefore) {
			return false
		}
	}
	return true
}

// DedupeByURL drops candidates with an empty URL and every repeat of a URL
// after its first occurrence.
func DedupeByURL(candidates []Article) []Article {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Article, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}
