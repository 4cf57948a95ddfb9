package simplemedia_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
)

type orchestratorFixture struct {
	registry     *simplemedia.Registry
	store        *memorystorage.Backend
	transcoder   *fakeTranscoder
	notifier     *recordingNotifier
	orchestrator *simplemedia.Orchestrator
	media        *simplemedia.Media
}

func newOrchestratorFixture(t *testing.T, transcoder *fakeTranscoder) *orchestratorFixture {
	t.Helper()
	return newOrchestratorFixtureWithRepo(t, memory.New(), transcoder)
}

func newOrchestratorFixtureWithRepo(t *testing.T, repo simplemedia.Repository, transcoder *fakeTranscoder) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		registry:   simplemedia.NewRegistry(repo, nil),
		store:      memorystorage.New(),
		transcoder: transcoder,
		notifier:   &recordingNotifier{},
	}
	publisher := simplemedia.NewPublisher(f.registry, f.store, nil, nil, nil)
	f.orchestrator = simplemedia.NewOrchestrator(f.registry, f.store, transcoder, publisher, f.notifier, nil, nil,
		simplemedia.OrchestratorConfig{Partitions: 2, QueueSize: 4, Timeout: 10 * time.Second, TempDir: t.TempDir()})
	t.Cleanup(func() { _ = f.orchestrator.Shutdown(context.Background()) })

	media, err := f.registry.CreateOrGetMedia(context.Background(), "pets", "clip", simplemedia.MediaTypeVideo)
	require.NoError(t, err)
	f.media = media
	return f
}

func (f *orchestratorFixture) newVersion(t *testing.T) *simplemedia.Version {
	t.Helper()
	ctx := context.Background()
	v, err := f.registry.CreateVersion(ctx, f.media, "clip.mp4", "")
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, f.media.OriginalKey(v), bytes.NewReader(mp4Header), "video/mp4"))
	return v
}

func waitJob(t *testing.T, job *simplemedia.JobHandle) (simplemedia.JobState, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := job.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return state, err
}

func TestTranscodeCompletes(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, &fakeTranscoder{})
	v1 := f.newVersion(t)

	job, err := f.orchestrator.Dispatch(ctx, f.media, v1, &simplemedia.UploadSlot{Token: "tok", CallbackURL: "https://pets.example.com/hook"})
	require.NoError(t, err)

	state, err := waitJob(t, job)
	assert.Equal(t, simplemedia.JobCompleted, state)
	assert.NoError(t, err)

	current, err := f.registry.CurrentVersion(ctx, f.media)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Number)

	rc, err := f.store.Get(ctx, f.media.RenditionsPrefix(1)+simplemedia.DefaultRendition)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, mp4Header, data)
	contentType, _ := f.store.ContentType(f.media.RenditionsPrefix(1) + simplemedia.DefaultRendition)
	assert.Equal(t, "video/mp4", contentType)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	n := sent[0].(*simplemedia.TranscodingNotification)
	assert.True(t, n.Success)
	assert.Equal(t, simplemedia.StateSuccess, n.State)
	assert.Equal(t, "tok", n.UploadToken)
	assert.Equal(t, "/pets/clip", n.PublicPath)
	assert.Equal(t, []string{"https://pets.example.com/hook"}, f.notifier.URLs())
}

func TestTranscodeAbortsWhenSuperseded(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, &fakeTranscoder{})
	v1 := f.newVersion(t)
	f.newVersion(t)

	job, err := f.orchestrator.Dispatch(ctx, f.media, v1, nil)
	require.NoError(t, err)

	state, err := waitJob(t, job)
	assert.Equal(t, simplemedia.JobAborted, state)
	assert.ErrorIs(t, err, simplemedia.ErrTranscodingAborted)
	assert.Equal(t, 0, f.transcoder.Calls(), "a superseded job must not transcode")

	// Nothing was published and v1 is left in place.
	_, err = f.registry.CurrentVersion(ctx, f.media)
	assert.ErrorIs(t, err, simplemedia.ErrVersionNotFound)
	_, err = f.registry.GetVersion(ctx, f.media, 1)
	assert.NoError(t, err)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].(*simplemedia.TranscodingNotification).Success)
}

func TestTranscodeJobsOfOneMediaRunInOrder(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	f := newOrchestratorFixture(t, &fakeTranscoder{gate: gate})
	v1 := f.newVersion(t)

	first, err := f.orchestrator.Dispatch(ctx, f.media, v1, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.transcoder.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	// v2 arrives while v1 is transcoding; v1 still completes, v2 follows.
	v2 := f.newVersion(t)
	second, err := f.orchestrator.Dispatch(ctx, f.media, v2, nil)
	require.NoError(t, err)
	close(gate)

	state, _ := waitJob(t, first)
	assert.Equal(t, simplemedia.JobCompleted, state)
	state, _ = waitJob(t, second)
	assert.Equal(t, simplemedia.JobCompleted, state)

	current, err := f.registry.CurrentVersion(ctx, f.media)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Number)
}

func TestTranscodeFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, &fakeTranscoder{err: errors.New("ffmpeg exited 1")})
	v1 := f.newVersion(t)

	job, err := f.orchestrator.Dispatch(ctx, f.media, v1, nil)
	require.NoError(t, err)

	state, err := waitJob(t, job)
	assert.Equal(t, simplemedia.JobFailed, state)
	assert.ErrorIs(t, err, simplemedia.ErrTranscodingFailed)

	_, err = f.registry.GetVersion(ctx, f.media, 1)
	assert.ErrorIs(t, err, simplemedia.ErrVersionNotFound)
	assert.Empty(t, f.store.Keys("originals/pets/clip/"))
	assert.Empty(t, f.store.Keys(f.media.RenditionsPrefix(1)))

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	n := sent[0].(*simplemedia.TranscodingNotification)
	assert.Equal(t, simplemedia.StateError, n.State)
	assert.False(t, n.Success)
}

func TestDispatchAfterShutdown(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeTranscoder{})
	v1 := f.newVersion(t)
	require.NoError(t, f.orchestrator.Shutdown(context.Background()))

	_, err := f.orchestrator.Dispatch(context.Background(), f.media, v1, nil)
	assert.ErrorIs(t, err, simplemedia.ErrClosed)
}

// flakyRepository fails version listings while failList is set.
type flakyRepository struct {
	*memory.Repository
	failList atomic.Bool
}

func (r *flakyRepository) ListVersions(ctx context.Context, mediaID uuid.UUID) ([]*simplemedia.Version, error) {
	if r.failList.Load() {
		return nil, errors.New("connection reset by peer")
	}
	return r.Repository.ListVersions(ctx, mediaID)
}

func TestTranscodeRepositoryErrorFailsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepository{Repository: memory.New()}
	f := newOrchestratorFixtureWithRepo(t, repo, &fakeTranscoder{})
	v1 := f.newVersion(t)
	repo.failList.Store(true)

	job, err := f.orchestrator.Dispatch(ctx, f.media, v1, nil)
	require.NoError(t, err)

	state, err := waitJob(t, job)
	assert.Equal(t, simplemedia.JobFailed, state)
	assert.ErrorIs(t, err, simplemedia.ErrTranscodingFailed)
	assert.NotErrorIs(t, err, simplemedia.ErrTranscodingAborted)
	assert.Equal(t, 0, f.transcoder.Calls())

	_, err = f.registry.GetVersion(ctx, f.media, 1)
	assert.ErrorIs(t, err, simplemedia.ErrVersionNotFound)
	assert.Empty(t, f.store.Keys(f.media.OriginalsPrefix()))

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	n := sent[0].(*simplemedia.TranscodingNotification)
	assert.Equal(t, simplemedia.StateError, n.State)
	failedState, failedMessage := simplemedia.OutcomeTranscodingFailed.Response()
	assert.Equal(t, failedState, n.State)
	assert.Equal(t, failedMessage, n.Message)
}

func TestTranscodeDeletedMediaAborts(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t, &fakeTranscoder{})
	v1 := f.newVersion(t)
	require.NoError(t, f.registry.DeleteMedia(ctx, f.media))

	job, err := f.orchestrator.Dispatch(ctx, f.media, v1, nil)
	require.NoError(t, err)

	state, err := waitJob(t, job)
	assert.Equal(t, simplemedia.JobAborted, state)
	assert.ErrorIs(t, err, simplemedia.ErrTranscodingAborted)
}
