package article

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScrapedRecordNormalizesBody(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"url": "https://correctiv.org/faktencheck/a",
		"medium": "correctiv",
		"headline": "Nein, das stimmt nicht",
		"body_structured": [["paragraph", "Erster Absatz"], ["subheadline", "Fazit"], ["list", "Punkt"]],
		"datetime_published": "2024-03-01T10:15:00"
	}`)

	a, err := ParseScrapedRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://correctiv.org/faktencheck/a", a.URL)
	require.Len(t, a.Body, 3)
	assert.Equal(t, BodyBlock{Type: BlockParagraph, Text: "Erster Absatz"}, a.Body[0])
	assert.Equal(t, BodyBlock{Type: BlockSubheadline, Text: "Fazit"}, a.Body[1])
	assert.Equal(t, BlockParagraph, a.Body[2].Type)
	require.NotNil(t, a.PublishedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), *a.PublishedAt)
}

func TestParseScrapedRecordRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := ParseScrapedRecord([]byte(`{"medium":"dpa"}`))
	require.Error(t, err)
}

func TestParseScrapedRecordRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	_, err := ParseScrapedRecord([]byte(`{"url":"https://x","datetime_published":"yesterday"}`))
	require.Error(t, err)
}

func TestParseUpperBoundDateOnlyIsEndOfDay(t *testing.T) {
	t.Parallel()

	ts, err := ParseUpperBound("2024-05-31")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 5, 31, 23, 59, 59, 999999999, time.UTC), *ts)

	ts, err = ParseUpperBound("2024-05-31T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC), *ts)

	ts, err = ParseUpperBound("")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestParseLowerBoundDateOnlyIsStartOfDay(t *testing.T) {
	t.Parallel()

	ts, err := ParseLowerBound("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *ts)

	_, err = ParseLowerBound("05/01/2024")
	require.Error(t, err)
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 5, 31, 18, 0, 0, 0, time.UTC)
	a := Article{Medium: "dpa", Topic: "Klima & Umwelt", PublishedAt: &published}
	endOfDay, err := ParseUpperBound("2024-05-31")
	require.NoError(t, err)
	startOfDay, err := ParseLowerBound("2024-06-01")
	require.NoError(t, err)

	assert.True(t, Filter{}.Matches(a))
	assert.True(t, Filter{Medium: "dpa", Topic: "Klima & Umwelt"}.Matches(a))
	assert.False(t, Filter{Medium: "afp"}.Matches(a))
	assert.True(t, Filter{PublishedBefore: endOfDay}.Matches(a))
	assert.False(t, Filter{PublishedAfter: startOfDay}.Matches(a))
	assert.False(t, Filter{PublishedAfter: startOfDay}.Matches(Article{}))
}

func TestDedupeByURLKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	out := DedupeByURL([]Article{
		{URL: "u1", Headline: "first"},
		{URL: ""},
		{URL: "u2"},
		{URL: "u1", Headline: "second"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Headline)
	assert.Equal(t, "u2", out[1].URL)
}

func TestFieldsApply(t *testing.T) {
	t.Parallel()

	topic := "Migration & Asyl"
	a := Article{Topic: "old", Claim: "keep"}
	f := Fields{Topic: &topic, Entities: []string{"BAMF"}}
	require.False(t, f.Empty())
	f.Apply(&a)
	assert.Equal(t, topic, a.Topic)
	assert.Equal(t, "keep", a.Claim)
	assert.Equal(t, []string{"BAMF"}, a.Entities)
	assert.True(t, Fields{}.Empty())
}

func TestContentDefaultsEmptyBody(t *testing.T) {
	t.Parallel()

	c := Article{Headline: "h"}.Content()
	assert.NotNil(t, c.Body)
	assert.Empty(t, c.Body)
}
