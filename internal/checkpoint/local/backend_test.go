package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/factcheck-aggregator/internal/checkpoint"
)

func TestNew(t *testing.T) {
	t.Run("CreatesParentDirectories", func(t *testing.T) {
		dir := t.TempDir()
		b, err := New(Config{Path: filepath.Join(dir, "a", "b", "cp.csv")})
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "a", "b", "cp.csv"), b.Location())
		info, err := os.Stat(filepath.Join(dir, "a", "b"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("PathIsDirectory", func(t *testing.T) {
		_, err := New(Config{Path: t.TempDir()})
		assert.Error(t, err)
	})
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	b, err := New(Config{Path: filepath.Join(t.TempDir(), "cp.csv")})
	require.NoError(t, err)

	_, err = b.Read(context.Background())
	assert.ErrorIs(t, err, checkpoint.ErrNotExist)
}

func TestWriteThenRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp.csv")
	b, err := New(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, b.Write(context.Background(), []byte("id,topic\n1,x\n")))
	require.NoError(t, b.Write(context.Background(), []byte("id,topic\n1,x\n2,y\n")))

	data, err := b.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id,topic\n1,x\n2,y\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "pending files must not be left behind")
	assert.Equal(t, "cp.csv", entries[0].Name())
}

func TestCrashBeforeReplaceLeavesPriorFileIntact(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp.csv")
	prior := []byte("id,topic\n1,Klima & Umwelt\n")
	require.NoError(t, os.WriteFile(path, prior, 0o600))

	b, err := New(Config{Path: path})
	require.NoError(t, err)
	crash := errors.New("simulated crash")
	b.beforeReplace = func() error { return crash }

	err = b.Write(context.Background(), []byte("id,topic\n1,Klima & Umwelt\n2,partial"))
	require.ErrorIs(t, err, crash)

	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prior, got)
}

func TestLockIsExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp.csv")
	first, err := New(Config{Path: path})
	require.NoError(t, err)
	second, err := New(Config{Path: path})
	require.NoError(t, err)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	require.Error(t, err, "second holder must wait while the lock is held")

	require.NoError(t, unlock())
	unlock2, err := second.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, unlock2())
}

func TestArchiveKeepsCopyBesideCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cp.csv")
	prior := []byte("id,topic\nNaN,Klima & Umwelt\n")
	require.NoError(t, os.WriteFile(path, prior, 0o600))

	b, err := New(Config{Path: path})
	require.NoError(t, err)
	dest, err := b.Archive(context.Background(), prior)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dest, "file://"+path+".unreadable-"))

	// #nosec G304 -- test reads from the controlled temp directory.
	archived, err := os.ReadFile(strings.TrimPrefix(dest, "file://"))
	require.NoError(t, err)
	assert.Equal(t, prior, archived)

	// #nosec G304 -- test reads from the controlled temp directory.
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prior, current)
}
