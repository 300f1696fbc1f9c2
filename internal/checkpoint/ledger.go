package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Backend stores the encoded checkpoint. Write must replace the previous
// content atomically: readers observe either the old or the new bytes.
type Backend interface {
	// Read returns the current content, or ErrNotExist.
	Read(ctx context.Context) ([]byte, error)
	// Write atomically replaces the content.
	Write(ctx context.Context, data []byte) error
	// Lock acquires exclusive access for a read-merge-write cycle and
	// returns the release function.
	Lock(ctx context.Context) (func() error, error)
	// Location describes where the checkpoint lives, for logs.
	Location() string
}

// Ledger loads and commits checkpoints through a Backend.
type Ledger struct {
	backend Backend
	logger  *zap.Logger
}

// NewLedger wraps backend.
func NewLedger(backend Backend, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{backend: backend, logger: logger}
}

// Location returns the backend location.
func (l *Ledger) Location() string {
	return l.backend.Location()
}

// Archiver is implemented by backends that can keep a copy of checkpoint
// content before it is replaced.
type Archiver interface {
	// Archive stores data beside the checkpoint and returns its location.
	Archive(ctx context.Context, data []byte) (string, error)
}

// Load reads the checkpoint. A missing checkpoint is empty. A cancelled ctx
// is returned as is. Any other failure returns an empty checkpoint together
// with an error wrapping ErrUnreadable, so callers may degrade instead of
// aborting.
func (l *Ledger) Load(ctx context.Context) (*Checkpoint, error) {
	cp, _, err := l.load(ctx)
	return cp, err
}

// load also returns the raw bytes whenever the backend produced them.
func (l *Ledger) load(ctx context.Context) (*Checkpoint, []byte, error) {
	data, err := l.backend.Read(ctx)
	if errors.Is(err, ErrNotExist) {
		return New(), nil, nil
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return New(), nil, cerr
		}
		return New(), nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	cp, err := Decode(bytes.NewReader(data))
	if err != nil {
		return New(), data, err
	}
	if skipped := cp.Skipped(); len(skipped) > 0 {
		l.logger.Warn("Skipped checkpoint rows with an invalid id",
			zap.String("location", l.backend.Location()), zap.Ints("lines", skipped))
	}
	return cp, data, nil
}

// Commit merges records into the latest persisted checkpoint and writes the
// result, holding exclusive access for the whole cycle. It returns the
// committed checkpoint and how many records were added.
//
// Persisted content is never dropped silently. If the checkpoint cannot be
// read, Commit fails and leaves it in place. If it can be read but not fully
// decoded, the raw bytes are archived through the backend first and the
// records are merged into what could be decoded plus fallback (the snapshot
// loaded at the start of the run).
func (l *Ledger) Commit(ctx context.Context, fallback *Checkpoint, records []Record) (*Checkpoint, int, error) {
	unlock, err := l.backend.Lock(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("lock checkpoint %s: %w", l.backend.Location(), err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			l.logger.Warn("Failed to release checkpoint lock", zap.String("location", l.backend.Location()), zap.Error(uerr))
		}
	}()

	base, raw, err := l.load(ctx)
	switch {
	case err == nil && len(base.Skipped()) == 0:
	case raw != nil && (err == nil || errors.Is(err, ErrUnreadable)):
		dest, aerr := l.archive(ctx, raw)
		if aerr != nil {
			return nil, 0, aerr
		}
		l.logger.Warn("Checkpoint not fully decodable at merge time; archived it before rewriting",
			zap.String("location", l.backend.Location()),
			zap.String("archive", dest),
			zap.Int("decoded_records", base.Len()),
			zap.NamedError("decode_error", err))
		if fallback != nil {
			base.Merge(fallback.Records())
		}
	default:
		return nil, 0, fmt.Errorf("reload checkpoint %s: %w", l.backend.Location(), err)
	}

	added := base.Merge(records)
	data, err := base.Bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := l.backend.Write(ctx, data); err != nil {
		return nil, 0, fmt.Errorf("write checkpoint %s: %w", l.backend.Location(), err)
	}
	return base, added, nil
}

func (l *Ledger) archive(ctx context.Context, data []byte) (string, error) {
	archiver, ok := l.backend.(Archiver)
	if !ok {
		return "", fmt.Errorf("%w: %s cannot be archived, refusing to overwrite it", ErrUnreadable, l.backend.Location())
	}
	dest, err := archiver.Archive(ctx, data)
	if err != nil {
		return "", fmt.Errorf("archive checkpoint %s: %w", l.backend.Location(), err)
	}
	return dest, nil
}
