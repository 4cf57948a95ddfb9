package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

func createMedia(t *testing.T, repo *Repository, identifier string) *simplemedia.Media {
	media := &simplemedia.Media{
		ID:         uuid.New(),
		Owner:      "acme",
		Identifier: identifier,
		Type:       simplemedia.MediaTypeImage,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateMedia(context.Background(), media))
	return media
}

func TestRepository_CreateMediaConflict(t *testing.T) {
	repo := New()
	media := createMedia(t, repo, "pets")

	dup := *media
	dup.ID = uuid.New()
	assert.ErrorIs(t, repo.CreateMedia(context.Background(), &dup), simplemedia.ErrConflict)
}

func TestRepository_VersionNumbering(t *testing.T) {
	ctx := context.Background()
	repo := New()
	media := createMedia(t, repo, "pets")

	create := func() *simplemedia.Version {
		v := &simplemedia.Version{ID: uuid.New(), MediaID: media.ID, Filename: "cat.jpg"}
		require.NoError(t, repo.CreateNextVersion(ctx, v))
		return v
	}

	v1 := create()
	v2 := create()
	assert.Equal(t, 1, v1.Number)
	assert.Equal(t, 2, v2.Number)

	require.NoError(t, repo.DeleteVersion(ctx, v2.ID))
	v3 := create()
	assert.Equal(t, 3, v3.Number, "deleted numbers are not reused")

	got, err := repo.GetMediaByID(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LatestVersionNumber)

	versions, err := repo.ListVersions(ctx, media.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, []int{1, 3}, []int{versions[0].Number, versions[1].Number})
}

func TestRepository_UpdateVersion(t *testing.T) {
	ctx := context.Background()
	repo := New()
	media := createMedia(t, repo, "pets")

	v := &simplemedia.Version{ID: uuid.New(), MediaID: media.ID, Filename: "cat.jpg"}
	require.NoError(t, repo.CreateNextVersion(ctx, v))

	v.Processed = true
	require.NoError(t, repo.UpdateVersion(ctx, v))
	got, err := repo.GetVersion(ctx, media.ID, v.Number)
	require.NoError(t, err)
	assert.True(t, got.Processed)

	stranger := *v
	stranger.ID = uuid.New()
	assert.ErrorIs(t, repo.UpdateVersion(ctx, &stranger), simplemedia.ErrVersionNotFound)
}

func TestRepository_DeleteMediaRemovesVersions(t *testing.T) {
	ctx := context.Background()
	repo := New()
	media := createMedia(t, repo, "pets")
	v := &simplemedia.Version{ID: uuid.New(), MediaID: media.ID, Filename: "cat.jpg"}
	require.NoError(t, repo.CreateNextVersion(ctx, v))

	require.NoError(t, repo.DeleteMedia(ctx, media.ID))

	_, err := repo.GetMedia(ctx, "acme", "pets")
	assert.ErrorIs(t, err, simplemedia.ErrMediaNotFound)
	assert.ErrorIs(t, repo.DeleteVersion(ctx, v.ID), simplemedia.ErrVersionNotFound)

	// A re-created identifier starts over.
	again := createMedia(t, repo, "pets")
	v = &simplemedia.Version{ID: uuid.New(), MediaID: again.ID, Filename: "cat.jpg"}
	require.NoError(t, repo.CreateNextVersion(ctx, v))
	assert.Equal(t, 1, v.Number)
}

func TestRepository_Slots(t *testing.T) {
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	first := &simplemedia.UploadSlot{Token: "a", Owner: "acme", Identifier: "pets", ValidUntil: now.Add(time.Hour), CreatedAt: now}
	second := &simplemedia.UploadSlot{Token: "b", Owner: "acme", Identifier: "pets", ValidUntil: now.Add(time.Hour), CreatedAt: now.Add(time.Second)}
	stale := &simplemedia.UploadSlot{Token: "c", Owner: "acme", Identifier: "dogs", ValidUntil: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	require.NoError(t, repo.PutSlot(ctx, first))
	require.NoError(t, repo.PutSlot(ctx, second))
	require.NoError(t, repo.PutSlot(ctx, stale))

	got, err := repo.GetSlot(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.ReplacedAt)
	assert.Equal(t, second.CreatedAt, *got.ReplacedAt)

	got, err = repo.GetSlot(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got.ReplacedAt)

	n, err := repo.DeleteExpiredSlots(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.GetSlot(ctx, "c")
	assert.ErrorIs(t, err, simplemedia.ErrSlotNotFound)

	require.NoError(t, repo.DeleteSlot(ctx, "b"))
	assert.ErrorIs(t, repo.DeleteSlot(ctx, "b"), simplemedia.ErrSlotNotFound)
}

func TestRepository_CacheRevision(t *testing.T) {
	ctx := context.Background()
	repo := New()

	rev, err := repo.GetCacheRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	rev, err = repo.IncrementCacheRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}
