// Package gcs stores the checkpoint as a Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
)

// Config captures the parameters required to locate the checkpoint object.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// Backend reads and writes one object. GCS object writes are atomic; writes
// carry a generation precondition so a concurrent writer is detected
// instead of silently overwritten.
type Backend struct {
	client *storage.Client
	bucket string
	object string

	mu         sync.Mutex
	generation int64
}

// New creates a GCS-backed checkpoint.
func New(client *storage.Client, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Read implements checkpoint.Backend and remembers the object generation
// for the next Write.
func (b *Backend) Read(ctx context.Context) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		b.setGeneration(0)
		return nil, checkpoint.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer r.Close() //nolint:errcheck
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	b.setGeneration(r.Attrs.Generation)
	return data, nil
}

// Write implements checkpoint.Backend. It only succeeds if the object is
// still at the generation observed by the last Read.
func (b *Backend) Write(ctx context.Context, data []byte) error {
	obj := b.client.Bucket(b.bucket).Object(b.object)
	if gen := b.currentGeneration(); gen == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = "text/csv; charset=utf-8"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("%w: gs://%s/%s", checkpoint.ErrConcurrentModification, b.bucket, b.object)
		}
		return fmt.Errorf("close writer: %w", err)
	}
	if attrs := writer.Attrs(); attrs != nil {
		b.setGeneration(attrs.Generation)
	}
	return nil
}

// Archive implements checkpoint.Archiver by writing data to a new object
// named "<object>.unreadable-<UTC timestamp>".
func (b *Backend) Archive(ctx context.Context, data []byte) (string, error) {
	name := b.object + ".unreadable-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	writer := b.client.Bucket(b.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/csv; charset=utf-8"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("copy archive object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close archive writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, name), nil
}

// Lock implements checkpoint.Backend. Exclusion comes from the generation
// precondition on Write, so there is nothing to hold.
func (b *Backend) Lock(_ context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// Location implements checkpoint.Backend.
func (b *Backend) Location() string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, b.object)
}

func (b *Backend) setGeneration(gen int64) {
	b.mu.Lock()
	b.generation = gen
	b.mu.Unlock()
}

func (b *Backend) currentGeneration() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
