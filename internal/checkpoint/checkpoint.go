// Package checkpoint implements the classification ledger: one CSV row per
// article that has been submitted for classification, whatever the outcome.
// The set of article IDs in the ledger is the resume state of the pipeline.
package checkpoint

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

var (
	// ErrNotExist is returned by a Backend when no checkpoint has been written yet.
	ErrNotExist = errors.New("checkpoint does not exist")
	// ErrUnreadable marks a checkpoint that exists but cannot be decoded.
	ErrUnreadable = errors.New("checkpoint unreadable")
	// ErrConcurrentModification is returned when another writer replaced the
	// checkpoint between read and write.
	ErrConcurrentModification = errors.New("checkpoint modified concurrently")
)

// Column names of the persisted layout.
const (
	ColumnID       = "id"
	ColumnMedium   = "medium"
	ColumnURL      = "url"
	ColumnHeadline = "headline"
	ColumnKicker   = "kicker"
	ColumnTeaser   = "teaser"
	ColumnTopic    = "topic"
	columnLabel    = "label"
)

var knownColumns = []string{
	ColumnID, ColumnMedium, ColumnURL, ColumnHeadline, ColumnKicker, ColumnTeaser, ColumnTopic,
}

// Record is one classification attempt.
type Record struct {
	ArticleID int64
	Medium    string
	URL       string
	Headline  string
	Kicker    string
	Teaser    string
	// Label is a taxonomy label or topics.Sentinel.
	Label string
	// Extra holds columns this version does not know about.
	Extra map[string]string
}

// Failed reports whether the record carries the failure sentinel.
func (r Record) Failed() bool {
	return topics.IsSentinel(r.Label)
}

// Checkpoint is an ordered ledger of records keyed by article ID. The zero
// value is not usable; call New.
type Checkpoint struct {
	records      []Record
	index        map[int64]struct{}
	extraColumns []string
	skipped      []int
}

// New returns an empty Checkpoint.
func New() *Checkpoint {
	return &Checkpoint{index: make(map[int64]struct{})}
}

// Len returns the number of records.
func (c *Checkpoint) Len() int {
	return len(c.records)
}

// Has reports whether the article has already been processed.
func (c *Checkpoint) Has(id int64) bool {
	_, ok := c.index[id]
	return ok
}

// Records returns a copy of the ledger in order.
func (c *Checkpoint) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Skipped returns the line numbers of decoded rows that were dropped
// because their id did not parse.
func (c *Checkpoint) Skipped() []int {
	return append([]int(nil), c.skipped...)
}

// Failures returns the records carrying the failure sentinel.
func (c *Checkpoint) Failures() []Record {
	var out []Record
	for _, r := range c.records {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Merge appends every record whose article ID is not yet present and returns
// how many were appended. Existing records are never overwritten.
func (c *Checkpoint) Merge(records []Record) int {
	added := 0
	for _, r := range records {
		if c.Has(r.ArticleID) {
			continue
		}
		c.index[r.ArticleID] = struct{}{}
		c.records = append(c.records, r)
		c.noteExtra(r.Extra)
		added++
	}
	return added
}

func (c *Checkpoint) noteExtra(extra map[string]string) {
	if len(extra) == 0 {
		return
	}
	known := make(map[string]struct{}, len(c.extraColumns))
	for _, col := range c.extraColumns {
		known[col] = struct{}{}
	}
	var added []string
	for col := range extra {
		if _, ok := known[col]; !ok {
			added = append(added, col)
		}
	}
	// map order is random; keep header output stable
	sort.Strings(added)
	c.extraColumns = append(c.extraColumns, added...)
}

// Decode reads a CSV checkpoint. A file that cannot be parsed yields an
// error wrapping ErrUnreadable. Rows whose id does not parse are left out
// and reported by Skipped.
func Decode(r io.Reader) (*Checkpoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrUnreadable, err)
	}

	positions := make(map[string]int, len(header))
	var extras []string
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == columnLabel {
			if _, dup := positions[ColumnTopic]; !dup {
				positions[ColumnTopic] = i
			}
			continue
		}
		if isKnown(name) {
			positions[name] = i
			continue
		}
		positions[name] = i
		extras = append(extras, name)
	}
	if _, ok := positions[ColumnID]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", ErrUnreadable, ColumnID)
	}
	if _, ok := positions[ColumnTopic]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", ErrUnreadable, ColumnTopic)
	}

	cp := New()
	cp.extraColumns = extras
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrUnreadable, line, err)
		}
		field := func(name string) string {
			if i, ok := positions[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		id, err := strconv.ParseInt(strings.TrimSpace(field(ColumnID)), 10, 64)
		if err != nil {
			start, _ := reader.FieldPos(0)
			cp.skipped = append(cp.skipped, start)
			continue
		}
		rec := Record{
			ArticleID: id,
			Medium:    field(ColumnMedium),
			URL:       field(ColumnURL),
			Headline:  field(ColumnHeadline),
			Kicker:    field(ColumnKicker),
			Teaser:    field(ColumnTeaser),
			Label:     field(ColumnTopic),
		}
		if len(extras) > 0 {
			rec.Extra = make(map[string]string, len(extras))
			for _, col := range extras {
				rec.Extra[col] = field(col)
			}
		}
		if cp.Has(id) {
			continue
		}
		cp.index[id] = struct{}{}
		cp.records = append(cp.records, rec)
	}
	return cp, nil
}

// Encode writes the ledger as CSV: the known columns, then any extra
// columns carried from older files.
func (c *Checkpoint) Encode(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := append(append([]string(nil), knownColumns...), c.extraColumns...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range c.records {
		row := []string{
			strconv.FormatInt(r.ArticleID, 10),
			r.Medium, r.URL, r.Headline, r.Kicker, r.Teaser, r.Label,
		}
		for _, col := range c.extraColumns {
			row = append(row, r.Extra[col])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", r.ArticleID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	return nil
}

// Bytes encodes the checkpoint into memory.
func (c *Checkpoint) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isKnown(name string) bool {
	for _, col := range knownColumns {
		if col == name {
			return true
		}
	}
	return false
}
