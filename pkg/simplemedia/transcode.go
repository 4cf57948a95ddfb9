package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// JobState is the state of a transcode job.
type JobState string

const (
	JobDispatched JobState = "dispatched"
	JobRunning    JobState = "running"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobAborted    JobState = "aborted"
)

// Terminal reports whether no further transition can follow s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobAborted
}

// TranscodeJob is the immutable snapshot a job is dispatched with.
type TranscodeJob struct {
	ID            uuid.UUID
	MediaID       uuid.UUID
	Owner         string
	Identifier    string
	VersionNumber int
	OriginalKey   string
	UploadToken   string
	CallbackURL   string
	DispatchedAt  time.Time
}

// JobHandle tracks one dispatched job.
type JobHandle struct {
	job TranscodeJob

	mu    sync.Mutex
	state JobState
	err   error
	done  chan struct{}
}

func newJobHandle(job TranscodeJob) *JobHandle {
	return &JobHandle{job: job, state: JobDispatched, done: make(chan struct{})}
}

// ID returns the job ID.
func (h *JobHandle) ID() uuid.UUID { return h.job.ID }

// Job returns the snapshot the job was dispatched with.
func (h *JobHandle) Job() TranscodeJob { return h.job }

// State returns the current state.
func (h *JobHandle) State() JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure or abort cause once the job is terminal.
func (h *JobHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the job is terminal or ctx ends.
func (h *JobHandle) Wait(ctx context.Context) (JobState, error) {
	select {
	case <-h.done:
		return h.State(), h.Err()
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

func (h *JobHandle) transition(state JobState, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.state = state
	h.err = err
	if state.Terminal() {
		close(h.done)
	}
}

// OrchestratorConfig tunes the transcode worker pool.
type OrchestratorConfig struct {
	// Partitions is the number of ordered queues; jobs of one media share a queue.
	Partitions int
	// QueueSize bounds the backlog of each partition.
	QueueSize int
	// Timeout bounds one transcode run.
	Timeout time.Duration
	// TempDir is where originals are staged; empty selects os.TempDir.
	TempDir string
}

// DefaultOrchestratorConfig returns the default pool shape.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Partitions: 4,
		QueueSize:  64,
		Timeout:    2 * time.Hour,
	}
}

// Orchestrator runs transcode jobs on a partitioned worker pool. Jobs for
// the same media are consumed in submission order by a single worker, which
// makes the supersession check at job start meaningful.
type Orchestrator struct {
	registry   *Registry
	store      BlobStore
	transcoder Transcoder
	publisher  *Publisher
	notifier   Notifier
	observer   Observer
	logger     *slog.Logger
	config     OrchestratorConfig

	partitions []chan *JobHandle
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator and starts its workers.
func NewOrchestrator(registry *Registry, store BlobStore, transcoder Transcoder, publisher *Publisher,
	notifier Notifier, observer Observer, logger *slog.Logger, config OrchestratorConfig) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if config.Partitions <= 0 {
		config.Partitions = defaults.Partitions
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	if observer == nil {
		observer = NewNoopObserver()
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		registry:   registry,
		store:      store,
		transcoder: transcoder,
		publisher:  publisher,
		notifier:   notifier,
		observer:   observer,
		logger:     logger,
		config:     config,
		partitions: make([]chan *JobHandle, config.Partitions),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for i := range o.partitions {
		o.partitions[i] = make(chan *JobHandle, config.QueueSize)
		o.wg.Add(1)
		go o.consume(o.partitions[i])
	}
	return o
}

// Dispatch enqueues a transcode of version. slot may be nil when the job
// does not come from an upload. It blocks while the partition is full.
func (o *Orchestrator) Dispatch(ctx context.Context, media *Media, version *Version, slot *UploadSlot) (*JobHandle, error) {
	job := TranscodeJob{
		ID:            uuid.New(),
		MediaID:       media.ID,
		Owner:         media.Owner,
		Identifier:    media.Identifier,
		VersionNumber: version.Number,
		OriginalKey:   media.OriginalKey(version),
		DispatchedAt:  o.now(),
	}
	if slot != nil {
		job.UploadToken = slot.Token
		job.CallbackURL = slot.CallbackURL
	}
	h := newJobHandle(job)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrClosed
	}
	select {
	case o.partitions[o.partitionFor(media.ID)] <- h:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	o.logger.Info("Transcode job dispatched", "job_id", job.ID, "owner", job.Owner,
		"identifier", job.Identifier, "version", job.VersionNumber)
	return h, nil
}

func (o *Orchestrator) partitionFor(mediaID uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(mediaID[:])
	return int(h.Sum32() % uint32(len(o.partitions)))
}

func (o *Orchestrator) consume(queue <-chan *JobHandle) {
	defer o.wg.Done()
	for h := range queue {
		o.run(h)
	}
}

func (o *Orchestrator) run(h *JobHandle) {
	job := h.job
	started := o.now()
	ctx := context.Background()
	h.transition(JobRunning, nil)
	log := o.logger.With("job_id", job.ID, "owner", job.Owner, "identifier", job.Identifier, "version", job.VersionNumber)
	log.Info("Transcode job running")

	media, version, err := o.checkCurrent(ctx, job)
	if err != nil && superseded(err) {
		log.Info("Transcode job aborted", "reason", err)
		o.finish(h, JobAborted, fmt.Errorf("%w: %v", ErrTranscodingAborted, err), OutcomeTranscodingAborted, "", started)
		return
	}
	if err == nil {
		err = o.transcode(ctx, media, version, job)
	}
	if err != nil {
		log.Error("Transcode job failed", "error", err)
		if rbErr := o.rollback(ctx, job, media, version); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		o.finish(h, JobFailed, fmt.Errorf("%w: %v", ErrTranscodingFailed, err), OutcomeTranscodingFailed, "", started)
		return
	}

	if err := o.publisher.Publish(ctx, media, version); err != nil {
		log.Error("Transcode job failed to publish", "error", err)
		o.finish(h, JobFailed, fmt.Errorf("%w: %w", ErrTranscodingFailed, err), OutcomeTranscodingFailed, "", started)
		return
	}

	log.Info("Transcode job completed")
	o.finish(h, JobCompleted, nil, OutcomeTranscodingCompleted, media.PublicPath(), started)
}

var errSuperseded = errors.New("superseded by a newer version")

// checkCurrent re-reads the media and version and returns an error when the
// job must not run. It returns whatever it loaded before failing.
func (o *Orchestrator) checkCurrent(ctx context.Context, job TranscodeJob) (*Media, *Version, error) {
	media, err := o.registry.GetMediaByID(ctx, job.MediaID)
	if err != nil {
		return nil, nil, fmt.Errorf("media unavailable: %w", err)
	}
	version, err := o.registry.GetVersion(ctx, media, job.VersionNumber)
	if err != nil {
		return media, nil, fmt.Errorf("version unavailable: %w", err)
	}
	newer, err := o.registry.HasNewerVersion(ctx, media, job.VersionNumber)
	if err != nil {
		return media, version, fmt.Errorf("version check failed: %w", err)
	}
	if newer {
		return media, version, errSuperseded
	}
	return media, version, nil
}

// superseded reports whether a checkCurrent error means the job has nothing
// left to do, as opposed to a failure to find out.
func superseded(err error) bool {
	return errors.Is(err, errSuperseded) || errors.Is(err, ErrMediaNotFound) || errors.Is(err, ErrVersionNotFound)
}

// rollback removes what the job left behind. When the media or version row
// could not be read, only the bytes named by the job snapshot are removed.
func (o *Orchestrator) rollback(ctx context.Context, job TranscodeJob, media *Media, version *Version) error {
	if media != nil && version != nil {
		return o.publisher.Rollback(ctx, media, version)
	}
	renditions := (&Media{Owner: job.Owner, Identifier: job.Identifier, Type: MediaTypeVideo}).RenditionsPrefix(job.VersionNumber)
	var errs []error
	if err := o.store.Delete(ctx, job.OriginalKey); err != nil {
		errs = append(errs, &StorageError{Key: job.OriginalKey, Op: "delete", Err: err})
	}
	if _, err := o.store.DeleteDir(ctx, renditions); err != nil {
		errs = append(errs, &StorageError{Key: renditions, Op: "delete_dir", Err: err})
	}
	errs = append(errs, fmt.Errorf("version %d of %s/%s left in the registry", job.VersionNumber, job.Owner, job.Identifier))
	return errors.Join(errs...)
}

func (o *Orchestrator) transcode(ctx context.Context, media *Media, version *Version, job TranscodeJob) error {
	if o.transcoder == nil {
		return fmt.Errorf("no transcoder configured")
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	workDir, err := os.MkdirTemp(o.config.TempDir, "transcode-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	source := filepath.Join(workDir, "source"+filepath.Ext(version.Filename))
	if err := o.stage(ctx, job.OriginalKey, source); err != nil {
		return err
	}
	outDir := filepath.Join(workDir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	files, err := o.transcoder.Transcode(ctx, source, outDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("transcoder produced no renditions")
	}

	prefix := media.RenditionsPrefix(version.Number)
	for _, name := range files {
		if err := o.upload(ctx, filepath.Join(outDir, name), prefix+name); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) stage(ctx context.Context, key, dst string) error {
	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return &StorageError{Key: key, Op: "get", Err: err}
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to stage original: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage original: %w", err)
	}
	return f.Close()
}

func (o *Orchestrator) upload(ctx context.Context, path, key string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to inspect rendition: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rendition: %w", err)
	}
	defer f.Close()

	if err := o.store.Put(ctx, key, f, mtype.String()); err != nil {
		return &StorageError{Key: key, Op: "put", Err: fmt.Errorf("%w: %v", ErrStorageWrite, err)}
	}
	return nil
}

// finish hands the notification off before the handle turns terminal.
func (o *Orchestrator) finish(h *JobHandle, state JobState, err error, outcome Outcome, publicPath string, started time.Time) {
	job := h.job
	o.observer.JobFinished(state, o.now().Sub(started))
	o.notifier.Notify(job.Owner, job.CallbackURL,
		NewTranscodingNotification(outcome, job.Identifier, job.VersionNumber, job.UploadToken, publicPath))
	h.transition(state, err)
}

// Shutdown stops accepting jobs and waits for queued jobs to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		for _, q := range o.partitions {
			close(q)
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transcode jobs still running at shutdown: %w", ctx.Err())
	}
}
