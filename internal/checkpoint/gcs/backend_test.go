package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
)

func newTestBackend(t *testing.T, handler http.Handler) *Backend {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	b, err := New(client, Config{Bucket: "test-bucket", Object: "checkpoints/topics.csv"})
	require.NoError(t, err)
	return b
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b", Object: "o"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	_, err = New(client, Config{Object: "o"})
	assert.Error(t, err)
	_, err = New(client, Config{Bucket: "b"})
	assert.Error(t, err)
}

func TestWriteFirstGenerationRequiresAbsentObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "checkpoints/topics.csv", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "id,medium,url")

		fmt.Fprintln(w, `{"name":"checkpoints/topics.csv","bucket":"test-bucket","generation":"42"}`)
	})
	b := newTestBackend(t, handler)

	err := b.Write(context.Background(), []byte("id,medium,url,headline,kicker,teaser,topic\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.currentGeneration())
}

func TestWriteUsesObservedGeneration(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("ifGenerationMatch"))
		fmt.Fprintln(w, `{"name":"checkpoints/topics.csv","bucket":"test-bucket","generation":"8"}`)
	})
	b := newTestBackend(t, handler)
	b.setGeneration(7)

	require.NoError(t, b.Write(context.Background(), []byte("id,topic\n")))
	assert.Equal(t, int64(8), b.currentGeneration())
}

func TestWritePreconditionFailureIsConcurrentModification(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`)
	})
	b := newTestBackend(t, handler)
	b.setGeneration(3)

	err := b.Write(context.Background(), []byte("id,topic\n"))
	require.ErrorIs(t, err, checkpoint.ErrConcurrentModification)
	assert.Equal(t, int64(3), b.currentGeneration())
}

func TestLocation(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, http.NotFoundHandler())
	assert.Equal(t, "gs://test-bucket/checkpoints/topics.csv", b.Location())

	unlock, err := b.Lock(context.Background())
	require.NoError(t, err)
	assert.NoError(t, unlock())
}

func TestArchiveWritesNewObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		assert.True(t, strings.HasPrefix(name, "checkpoints/topics.csv.unreadable-"), name)
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "NaN,Klima")

		fmt.Fprintf(w, `{"name":%q,"bucket":"test-bucket","generation":"1"}`+"\n", name)
	})
	b := newTestBackend(t, handler)
	b.setGeneration(9)

	dest, err := b.Archive(context.Background(), []byte("id,topic\nNaN,Klima & Umwelt\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dest, "gs://test-bucket/checkpoints/topics.csv.unreadable-"))
	assert.Equal(t, int64(9), b.currentGeneration(), "archiving leaves the checkpoint generation alone")
}
