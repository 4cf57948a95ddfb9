package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	return b, dir
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}

func TestBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b, dir := newTestBackend(t)
	key := "originals/acme/pets/1-cat.jpg"

	require.NoError(t, b.Put(ctx, key, strings.NewReader("meow"), "image/jpeg"))
	_, err := os.Stat(filepath.Join(dir, "originals", "acme", "pets", "1-cat.jpg"))
	require.NoError(t, err)

	exists, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := b.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	require.NoError(t, b.Delete(ctx, key))
	require.NoError(t, b.Delete(ctx, key))
	_, err = b.Get(ctx, key)
	assert.ErrorIs(t, err, simplemedia.ErrBlobNotFound)

	// Empty parent directories are cleaned up.
	_, err = os.Stat(filepath.Join(dir, "originals"))
	assert.True(t, os.IsNotExist(err))
}

func TestBackend_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.Put(ctx, "a/b.txt", strings.NewReader("one"), ""))
	require.NoError(t, b.Put(ctx, "a/b.txt", strings.NewReader("two"), ""))

	rc, err := b.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(data))
}

func TestBackend_RejectsEscapingKeys(t *testing.T) {
	b, _ := newTestBackend(t)
	err := b.Put(context.Background(), "../outside.txt", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, simplemedia.ErrValidation)
}

func TestBackend_DeleteDir(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)
	for _, key := range []string{
		"derivatives/video/acme/clip/1/default.mp4",
		"derivatives/video/acme/clip/1/poster.jpg",
		"derivatives/video/acme/clip/2/default.mp4",
		"derivatives/video/acme/other/1/default.mp4",
	} {
		require.NoError(t, b.Put(ctx, key, strings.NewReader(key), ""))
	}

	n, err := b.DeleteDir(ctx, "derivatives/video/acme/clip/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	exists, err := b.Exists(ctx, "derivatives/video/acme/other/1/default.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err = b.DeleteDir(ctx, "derivatives/video/acme/missing/")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = b.DeleteDir(ctx, "/")
	assert.ErrorIs(t, err, simplemedia.ErrValidation)
}
