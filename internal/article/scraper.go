package article

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

// ScrapedRecord is the output schema of the acquisition engine. Body blocks
// arrive as [kind, text] pairs.
type ScrapedRecord struct {
	URL               string      `json:"url"`
	Medium            string      `json:"medium"`
	Category          string      `json:"category"`
	Author            string      `json:"author"`
	Kicker            string      `json:"kicker"`
	Headline          string      `json:"headline"`
	Teaser            string      `json:"teaser"`
	BodyStructured    [][2]string `json:"body_structured"`
	Body              []BodyBlock `json:"body"`
	ImageURL          string      `json:"image_url"`
	DatetimePublished string      `json:"datetime_published"`
	PublishedAt       string      `json:"published_at"`
}

// ParseScrapedRecord decodes one JSON record from the acquisition engine.
func ParseScrapedRecord(data []byte) (Article, error) {
	var rec ScrapedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Article{}, fmt.Errorf("decode scraped record: %w", err)
	}
	return rec.ToArticle()
}

// ToArticle normalizes the record into an Article. Structured body pairs
// win over a pre-built body; any kind other than subheadline becomes a
// paragraph.
func (r ScrapedRecord) ToArticle() (Article, error) {
	url := strings.TrimSpace(r.URL)
	if url == "" {
		return Article{}, fmt.Errorf("scraped record has no url")
	}
	a := Article{
		URL:      url,
		Medium:   r.Medium,
		Category: r.Category,
		Author:   r.Author,
		Kicker:   r.Kicker,
		Headline: r.Headline,
		Teaser:   r.Teaser,
		ImageURL: r.ImageURL,
		Body:     r.Body,
	}
	if r.BodyStructured != nil {
		a.Body = make([]BodyBlock, 0, len(r.BodyStructured))
		for _, entry := range r.BodyStructured {
			kind := BlockParagraph
			if BlockType(entry[0]) == BlockSubheadline {
				kind = BlockSubheadline
			}
			a.Body = append(a.Body, BodyBlock{Type: kind, Text: entry[1]})
		}
	}
	raw := r.DatetimePublished
	if raw == "" {
		raw = r.PublishedAt
	}
	if raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Article{}, fmt.Errorf("article %s: %w", url, err)
		}
		a.PublishedAt = &ts
	}
	return a, nil
}

// ParseLowerBound parses a published_after value. Date-only input means the
// start of that day (UTC).
func ParseLowerBound(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// ParseUpperBound parses a published_before value. Date-only input is
// normalized to the inclusive end of that day (UTC).
func ParseUpperBound(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if day, err := time.Parse(dateOnly, raw); err == nil {
		end := day.Add(24*time.Hour - time.Nanosecond)
		return &end, nil
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateOnly,
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
