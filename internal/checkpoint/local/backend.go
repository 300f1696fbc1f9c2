// Package local stores the checkpoint as a file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
)

const (
	lockRetryDelay = 100 * time.Millisecond
	archiveLayout  = "20060102T150405.000000000Z"
)

// Config captures the parameters for the local checkpoint file.
type Config struct {
	// Path is the checkpoint CSV file.
	Path string `mapstructure:"path" yaml:"path"`
}

// Backend reads and atomically replaces a checkpoint file. Exclusive access
// is coordinated through an advisory lock on "<path>.lock".
type Backend struct {
	path string
	lock *flock.Flock

	// beforeReplace runs after the new content is fully written to the
	// pending file and before it replaces the checkpoint.
	beforeReplace func() error
}

// New creates a Backend for cfg.Path, creating parent directories.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	path := filepath.Clean(cfg.Path)
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("checkpoint path %s is a directory", path)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	return &Backend{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Read implements checkpoint.Backend.
func (b *Backend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, checkpoint.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// Write implements checkpoint.Backend. The content goes to a pending file in
// the same directory which is then renamed over the checkpoint, so a crash
// leaves either the old or the new file, never a truncated one.
func (b *Backend) Write(_ context.Context, data []byte) error {
	pending, err := renameio.NewPendingFile(b.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending checkpoint: %w", err)
	}
	defer func() {
		// no-op once the file has been renamed
		_ = pending.Cleanup()
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending checkpoint: %w", err)
	}
	if b.beforeReplace != nil {
		if err := b.beforeReplace(); err != nil {
			return err
		}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Archive implements checkpoint.Archiver by writing data to
// "<path>.unreadable-<UTC timestamp>".
func (b *Backend) Archive(_ context.Context, data []byte) (string, error) {
	dest := b.path + ".unreadable-" + time.Now().UTC().Format(archiveLayout)
	if err := renameio.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint archive: %w", err)
	}
	return "file://" + dest, nil
}

// Lock implements checkpoint.Backend. It blocks until the lock is held or
// ctx is done.
func (b *Backend) Lock(ctx context.Context) (func() error, error) {
	locked, err := b.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", b.lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire %s: lock not obtained", b.lock.Path())
	}
	return b.lock.Unlock, nil
}

// Location implements checkpoint.Backend.
func (b *Backend) Location() string {
	return "file://" + b.path
}
