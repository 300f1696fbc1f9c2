// Package memory provides an in-memory checkpoint backend for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
)

// Backend keeps the checkpoint bytes in memory.
type Backend struct {
	mu       sync.Mutex
	lock     sync.Mutex
	data     []byte
	exists   bool
	writes   int
	archived [][]byte

	// ReadErr and WriteErr, when set, are returned by Read and Write.
	ReadErr  error
	WriteErr error
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{}
}

// NewWithData returns a Backend that already holds data.
func NewWithData(data []byte) *Backend {
	return &Backend{data: append([]byte(nil), data...), exists: true}
}

// Read implements checkpoint.Backend.
func (b *Backend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	if !b.exists {
		return nil, checkpoint.ErrNotExist
	}
	return append([]byte(nil), b.data...), nil
}

// Write implements checkpoint.Backend.
func (b *Backend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.data = append([]byte(nil), data...)
	b.exists = true
	b.writes++
	return nil
}

// Lock implements checkpoint.Backend.
func (b *Backend) Lock(_ context.Context) (func() error, error) {
	b.lock.Lock()
	return func() error {
		b.lock.Unlock()
		return nil
	}, nil
}

// Archive implements checkpoint.Archiver.
func (b *Backend) Archive(_ context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archived = append(b.archived, append([]byte(nil), data...))
	return fmt.Sprintf("memory://checkpoint.unreadable-%d", len(b.archived)), nil
}

// Archived returns copies of every archived content, oldest first.
func (b *Backend) Archived() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.archived))
	for i, data := range b.archived {
		out[i] = append([]byte(nil), data...)
	}
	return out
}

// Location implements checkpoint.Backend.
func (b *Backend) Location() string {
	return "memory://checkpoint"
}

// Data returns a copy of the stored bytes.
func (b *Backend) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Writes returns how many successful writes happened.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}
