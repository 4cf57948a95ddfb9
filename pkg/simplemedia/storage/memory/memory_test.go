package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

func TestBackend_PutGet(t *testing.T) {
	ctx := context.Background()
	b := New()

	require.NoError(t, b.Put(ctx, "originals/acme/pets/1-cat.jpg", strings.NewReader("meow"), "image/jpeg"))

	rc, err := b.Get(ctx, "originals/acme/pets/1-cat.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	ct, ok := b.ContentType("originals/acme/pets/1-cat.jpg")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)
}

func TestBackend_GetMissing(t *testing.T) {
	_, err := New().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, simplemedia.ErrBlobNotFound)
}

func TestBackend_DefaultContentType(t *testing.T) {
	b := New()
	require.NoError(t, b.Put(context.Background(), "k", strings.NewReader("x"), ""))
	ct, _ := b.ContentType("k")
	assert.Equal(t, "application/octet-stream", ct)
}

func TestBackend_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Put(ctx, "k", strings.NewReader("x"), ""))

	require.NoError(t, b.Delete(ctx, "k"))
	require.NoError(t, b.Delete(ctx, "k"))

	exists, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackend_DeleteDir(t *testing.T) {
	ctx := context.Background()
	b := New()
	for _, key := range []string{
		"derivatives/image/acme/pets/a.webp",
		"derivatives/image/acme/pets/b.png",
		"derivatives/image/acme/petshop/c.png",
		"originals/acme/pets/1-cat.jpg",
	} {
		require.NoError(t, b.Put(ctx, key, strings.NewReader(key), ""))
	}

	n, err := b.DeleteDir(ctx, "derivatives/image/acme/pets/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"derivatives/image/acme/petshop/c.png"}, b.Keys("derivatives/"))
	assert.Len(t, b.Keys("originals/"), 1)
}
