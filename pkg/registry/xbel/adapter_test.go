package xbel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/recent-scrub/pkg/registry"
)

func writeSample(t *testing.T, fs afero.Fs, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(sampleDoc), mode))
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/home/alice/.local/share", 0o700))

	t.Run("missing file is an empty registry", func(t *testing.T) {
		a, err := Open(fs, "/home/alice/.local/share/recently-used.xbel")
		require.NoError(t, err)
		entries, err := a.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := Open(fs, "/nowhere/recently-used.xbel")
		assert.ErrorIs(t, err, registry.ErrUnavailable)
	})

	t.Run("unparseable file", func(t *testing.T) {
		path := "/home/alice/.local/share/broken.xbel"
		require.NoError(t, afero.WriteFile(fs, path, []byte("<xbel><bookmark"), 0o600))
		_, err := Open(fs, path)
		assert.ErrorIs(t, err, registry.ErrUnavailable)
	})
}

func TestAdapter_ListRemove(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/data/recently-used.xbel"
	require.NoError(t, fs.MkdirAll("/data", 0o700))
	writeSample(t, fs, path, 0o644)

	a, err := Open(fs, path)
	require.NoError(t, err)

	name, ok := a.BackingFile()
	assert.True(t, ok)
	assert.Equal(t, path, name)
	assert.Equal(t, path, a.Name())

	entries, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, a.Remove(ctx, "file:///home/alice/Downloads/a.pdf"))

	entries, err = a.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file:///home/alice/Documents/b.odt", entries[0].URI)

	err = a.Remove(ctx, "file:///home/alice/Downloads/a.pdf")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm(), "rewrite keeps the existing mode")

	leftovers, err := afero.Glob(fs, "/data/.*tmp*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestAdapter_Purge(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/data/recently-used.xbel"
	require.NoError(t, fs.MkdirAll("/data", 0o700))
	writeSample(t, fs, path, 0o600)

	a, err := Open(fs, path)
	require.NoError(t, err)

	n, err := a.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err = a.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdapter_Subscribe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	fs := afero.NewOsFs()
	writeSample(t, fs, path, 0o600)

	a, err := Open(fs, path)
	require.NoError(t, err)

	sub, err := a.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	select {
	case <-sub.C:
		t.Fatal("notification for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, a.Remove(context.Background(), "file:///home/alice/Downloads/a.pdf"))
	select {
	case <-sub.C:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after rewrite")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
