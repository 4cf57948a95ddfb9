package simplemedia

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// DefaultRendition is the video rendition served for a version.
const DefaultRendition = "default.mp4"

// sniffLen is how many leading bytes are inspected to detect an upload's type.
const sniffLen = 3072

// service implements the Service interface
type service struct {
	repository Repository
	slotStore  SlotStore
	blobStore  BlobStore
	cdn        CDNInvalidator
	engines    map[MediaType]TransformationEngine
	transcoder Transcoder
	signer     Signer
	notifier   Notifier
	observer   Observer
	logger     *slog.Logger

	cacheConfig        CacheConfig
	slotTTL            time.Duration
	rules              map[MediaType]ValidationRules
	orchestratorConfig OrchestratorConfig
	defaultRendition   string

	registry     *Registry
	slots        *SlotManager
	cache        *DerivativeCache
	publisher    *Publisher
	orchestrator *Orchestrator
	image        *imageHandler
	document     *documentHandler
	video        *videoHandler
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the media and version repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithSlotStore sets the upload slot store
func WithSlotStore(store SlotStore) Option {
	return func(s *service) {
		s.slotStore = store
	}
}

// WithBlobStore sets the blob store holding originals and derivatives
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithCDN sets the CDN invalidator
func WithCDN(cdn CDNInvalidator) Option {
	return func(s *service) {
		s.cdn = cdn
	}
}

// WithTransformer registers the transformation engine for a media type
func WithTransformer(mediaType MediaType, engine TransformationEngine) Option {
	return func(s *service) {
		s.engines[mediaType] = engine
	}
}

// WithTranscoder sets the video transcoder
func WithTranscoder(transcoder Transcoder) Option {
	return func(s *service) {
		s.transcoder = transcoder
	}
}

// WithSigner sets the notification signer
func WithSigner(signer Signer) Option {
	return func(s *service) {
		s.signer = signer
	}
}

// WithNotifier sets the notification dispatcher
func WithNotifier(notifier Notifier) Option {
	return func(s *service) {
		s.notifier = notifier
	}
}

// WithObserver sets the metrics observer
func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithCacheConfig sets the derivative cache policy
func WithCacheConfig(config CacheConfig) Option {
	return func(s *service) {
		s.cacheConfig = config
	}
}

// WithSlotTTL sets how long upload slots stay valid
func WithSlotTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.slotTTL = ttl
	}
}

// WithValidationRules overrides the upload rules of a media type
func WithValidationRules(mediaType MediaType, rules ValidationRules) Option {
	return func(s *service) {
		s.rules[mediaType] = rules
	}
}

// WithOrchestratorConfig sets the transcode pool shape
func WithOrchestratorConfig(config OrchestratorConfig) Option {
	return func(s *service) {
		s.orchestratorConfig = config
	}
}

// WithDefaultRendition sets the file name of the video rendition served on reads
func WithDefaultRendition(name string) Option {
	return func(s *service) {
		s.defaultRendition = name
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		engines:            make(map[MediaType]TransformationEngine),
		rules:              DefaultValidationRules(),
		orchestratorConfig: DefaultOrchestratorConfig(),
		defaultRendition:   DefaultRendition,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.slotStore == nil {
		return nil, fmt.Errorf("slot store is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.cdn == nil {
		s.cdn = NewNoopInvalidator()
	}
	if s.notifier == nil {
		s.notifier = NewNoopNotifier()
	}
	if s.observer == nil {
		s.observer = NewNoopObserver()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	cache, err := NewDerivativeCache(s.blobStore, s.cacheConfig, s.logger)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	s.registry = NewRegistry(s.repository, s.logger)
	s.slots = NewSlotManager(s.slotStore, s.slotTTL, s.logger)
	s.publisher = NewPublisher(s.registry, s.blobStore, s.cdn, s.observer, s.logger)
	s.orchestrator = NewOrchestrator(s.registry, s.blobStore, s.transcoder, s.publisher,
		s.notifier, s.observer, s.logger, s.orchestratorConfig)

	base := func(t MediaType) handlerBase {
		return handlerBase{registry: s.registry, publisher: s.publisher, cache: s.cache, rules: s.rules[t]}
	}
	s.image = &imageHandler{handlerBase: base(MediaTypeImage)}
	s.document = &documentHandler{handlerBase: base(MediaTypeDocument)}
	s.video = &videoHandler{handlerBase: base(MediaTypeVideo), orchestrator: s.orchestrator}

	return s, nil
}

func (s *service) handlerFor(t MediaType) (MediaHandler, error) {
	switch t {
	case MediaTypeImage:
		return s.image, nil
	case MediaTypeDocument:
		return s.document, nil
	case MediaTypeVideo:
		return s.video, nil
	}
	return nil, fmt.Errorf("%w: unknown media type %q", ErrValidation, t)
}

// Upload operations

func (s *service) ReserveUploadSlot(ctx context.Context, req ReserveUploadSlotRequest) (*UploadSlot, error) {
	return s.slots.Reserve(ctx, req.Owner, req.Identifier, req.Type, req.CallbackURL)
}

func (s *service) ValidateUploadSlot(ctx context.Context, token string) (*UploadSlot, error) {
	return s.slots.Validate(ctx, token)
}

func (s *service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	// Fail fast before reading the body.
	slot, err := s.slots.Validate(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if req.Identifier != "" && req.Identifier != slot.Identifier {
		return nil, fmt.Errorf("%w: identifier %q does not match the upload slot", ErrValidation, req.Identifier)
	}
	if req.Reader == nil {
		return nil, fmt.Errorf("%w: file is required", ErrValidation)
	}
	handler, err := s.handlerFor(slot.Type)
	if err != nil {
		return nil, err
	}
	rules := handler.ValidationRules()

	br := bufio.NewReaderSize(req.Reader, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	mtype := mimetype.Detect(head)
	if !allowsMime(rules, mtype) {
		return nil, fmt.Errorf("%w: %s is not accepted for %s", ErrValidation, mtype.String(), slot.Type)
	}

	media, err := s.registry.CreateOrGetMedia(ctx, slot.Owner, slot.Identifier, slot.Type)
	if err != nil {
		return nil, err
	}
	version, err := s.registry.CreateVersion(ctx, media, sanitizeFilename(req.Filename, mtype.Extension()), "")
	if err != nil {
		return nil, err
	}

	key := media.OriginalKey(version)
	hasher := sha256.New()
	limited := &limitedReader{r: br, limit: rules.MaxBytes}
	err = s.blobStore.Put(ctx, key, io.TeeReader(limited, hasher), mtype.String())
	if limited.exceeded {
		err = fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, rules.MaxBytes)
	} else if err != nil {
		err = &StorageError{Key: key, Op: "put", Err: fmt.Errorf("%w: %v", ErrStorageWrite, err)}
	}
	if err != nil {
		return nil, s.rollback(ctx, media, version, err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if err := s.registry.RecordHash(ctx, version, hash); err != nil {
		return nil, s.rollback(ctx, media, version, err)
	}
	// The slot stays valid until the file is materialized; consuming it
	// now also detects a replacement that raced with the write.
	if _, err := s.slots.Consume(ctx, req.Token); err != nil {
		return nil, s.rollback(ctx, media, version, err)
	}

	outcome, job, err := handler.HandleSavedFile(ctx, media, version, slot)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{
		Outcome:     outcome,
		Identifier:  media.Identifier,
		Version:     version.Number,
		UploadToken: slot.Token,
		Hash:        hash,
		Job:         job,
	}
	if outcome == OutcomeUploadProcessed {
		result.PublicPath = media.PublicPath()
	}
	s.logger.Info("Upload received", "owner", media.Owner, "identifier", media.Identifier,
		"version", version.Number, "outcome", outcome)
	return result, nil
}

func (s *service) rollback(ctx context.Context, media *Media, version *Version, cause error) error {
	if err := s.publisher.Rollback(ctx, media, version); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Delivery operations

func (s *service) GetDerivative(ctx context.Context, req GetDerivativeRequest) (*Derivative, error) {
	media, version, err := s.resolve(ctx, req.Owner, req.Identifier, req.Version)
	if err != nil {
		return nil, err
	}
	t, err := ParseTransformations(req.Transformations)
	if err != nil {
		return nil, err
	}

	switch media.Type {
	case MediaTypeVideo:
		if !t.IsZero() {
			return nil, fmt.Errorf("%w: video renditions cannot be transformed", ErrInvalidTransformationValue)
		}
		key := media.RenditionsPrefix(version.Number) + s.defaultRendition
		data, err := s.readBlob(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.derivative(media, version, key, data, false), nil
	case MediaTypeImage:
		if t.Page > 0 {
			return nil, fmt.Errorf("%w: p applies to documents only", ErrInvalidTransformationValue)
		}
	}

	if t.IsZero() {
		key := media.OriginalKey(version)
		data, err := s.readBlob(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.derivative(media, version, key, data, false), nil
	}

	engine, ok := s.engines[media.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no engine for %s", ErrTransformation, media.Type)
	}

	key := s.cache.DeriveKey(media, version.Number, t, version.Extension())
	data, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		original, err := s.readBlob(ctx, media.OriginalKey(version))
		if err != nil {
			return nil, err
		}
		started := time.Now()
		out, err := engine.Transform(ctx, original, t)
		s.observer.TransformDuration(media.Type, time.Since(started), err)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransformation, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	s.observer.CacheLookup(media.Type, hit)
	return s.derivative(media, version, key, data, hit), nil
}

func (s *service) GetOriginal(ctx context.Context, owner, identifier string, number int) (*Derivative, error) {
	media, version, err := s.resolve(ctx, owner, identifier, number)
	if err != nil {
		return nil, err
	}
	key := media.OriginalKey(version)
	data, err := s.readBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.derivative(media, version, key, data, false), nil
}

// resolve looks up media and the processed version to serve; number 0
// selects the current version.
func (s *service) resolve(ctx context.Context, owner, identifier string, number int) (*Media, *Version, error) {
	media, err := s.registry.GetMedia(ctx, owner, identifier)
	if err != nil {
		return nil, nil, err
	}
	var version *Version
	if number == 0 {
		version, err = s.registry.CurrentVersion(ctx, media)
	} else {
		version, err = s.registry.ProcessedVersion(ctx, media, number)
	}
	if err != nil {
		return nil, nil, &VersionError{Identifier: identifier, Number: number, Op: "resolve", Err: err}
	}
	return media, version, nil
}

func (s *service) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.blobStore.Get(ctx, key)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "get", Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "read", Err: err}
	}
	return data, nil
}

func (s *service) derivative(media *Media, version *Version, key string, data []byte, hit bool) *Derivative {
	return &Derivative{
		Identifier:  media.Identifier,
		Version:     version.Number,
		Key:         key,
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
		CacheHit:    hit,
	}
}

// Version operations

func (s *service) ListVersions(ctx context.Context, owner, identifier string) (*VersionList, error) {
	media, err := s.registry.GetMedia(ctx, owner, identifier)
	if err != nil {
		return nil, err
	}
	handler, err := s.handlerFor(media.Type)
	if err != nil {
		return nil, err
	}
	return handler.Versions(ctx, media)
}

func (s *service) SetVersion(ctx context.Context, owner, identifier string, number int) (*SetVersionResult, error) {
	media, err := s.registry.GetMedia(ctx, owner, identifier)
	if err != nil {
		return nil, err
	}
	source, err := s.registry.GetVersion(ctx, media, number)
	if err != nil {
		return nil, &VersionError{Identifier: identifier, Number: number, Op: "set_version", Err: err}
	}
	handler, err := s.handlerFor(media.Type)
	if err != nil {
		return nil, err
	}

	version, err := s.registry.CreateVersion(ctx, media, source.Filename, source.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.copyOriginal(ctx, media, source, version); err != nil {
		return nil, s.rollback(ctx, media, version, err)
	}

	outcome, job, err := handler.HandleSavedFile(ctx, media, version, nil)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeTranscodingStarted {
		outcome = OutcomeVersionSetProcessing
	} else {
		outcome = OutcomeVersionSet
	}
	s.logger.Info("Version set", "owner", owner, "identifier", identifier,
		"source_version", number, "version", version.Number)
	return &SetVersionResult{
		Outcome:       outcome,
		Identifier:    identifier,
		Version:       version.Number,
		SourceVersion: number,
		Job:           job,
	}, nil
}

func (s *service) copyOriginal(ctx context.Context, media *Media, from, to *Version) error {
	src := media.OriginalKey(from)
	rc, err := s.blobStore.Get(ctx, src)
	if err != nil {
		return &StorageError{Key: src, Op: "get", Err: err}
	}
	defer rc.Close()

	dst := media.OriginalKey(to)
	if err := s.blobStore.Put(ctx, dst, rc, ""); err != nil {
		return &StorageError{Key: dst, Op: "put", Err: fmt.Errorf("%w: %v", ErrStorageWrite, err)}
	}
	return nil
}

func (s *service) DeleteMedia(ctx context.Context, owner, identifier string) error {
	media, err := s.registry.GetMedia(ctx, owner, identifier)
	if err != nil {
		return err
	}
	handler, err := s.handlerFor(media.Type)
	if err != nil {
		return err
	}
	if err := handler.InvalidateCache(ctx, media); err != nil {
		return &MediaError{Owner: owner, Identifier: identifier, Op: "delete", Err: err}
	}

	if err := s.registry.DeleteMedia(ctx, media); err != nil {
		return err
	}

	var errs []error
	for _, prefix := range []string{media.OriginalsPrefix(), media.DerivativesPrefix()} {
		if _, err := s.blobStore.DeleteDir(ctx, prefix); err != nil {
			errs = append(errs, &StorageError{Key: prefix, Op: "delete_dir", Err: err})
		}
	}
	s.cache.Forget(media.DerivativesPrefix())
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Failed to delete media bytes", "owner", owner, "identifier", identifier, "error", err)
		return err
	}
	s.logger.Info("Media deleted", "owner", owner, "identifier", identifier)
	return nil
}

// Cache operations

func (s *service) PurgeDerivatives(ctx context.Context, types ...MediaType) (*PurgeDerivativesResult, error) {
	if len(types) == 0 {
		types = MediaTypes
	}
	handlers := make([]MediaHandler, len(types))
	for i, t := range types {
		h, err := s.handlerFor(t)
		if err != nil {
			return nil, err
		}
		handlers[i] = h
	}

	results := make([]PurgeResult, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		g.Go(func() error {
			results[i] = h.PurgeDerivatives(gctx)
			return nil
		})
	}
	_ = g.Wait()

	revision, err := s.repository.IncrementCacheRevision(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to increment cache revision: %w", err)
	}
	s.notifier.Broadcast(NewCacheInvalidationNotification(revision))
	s.logger.Info("Derivatives purged", "types", types, "revision", revision)
	return &PurgeDerivativesResult{Results: results, Revision: revision}, nil
}

func (s *service) CacheRevision(ctx context.Context) (int64, error) {
	return s.repository.GetCacheRevision(ctx)
}

// Maintenance

func (s *service) PurgeExpiredSlots(ctx context.Context) (int64, error) {
	return s.slots.PurgeExpired(ctx)
}

func (s *service) PublicKey() []byte {
	if s.signer == nil {
		return nil
	}
	return s.signer.PublicKey()
}

func (s *service) Close(ctx context.Context) error {
	return errors.Join(s.orchestrator.Shutdown(ctx), s.notifier.Close(ctx))
}

func allowsMime(rules ValidationRules, mtype *mimetype.MIME) bool {
	for _, allowed := range rules.MimeTypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}

// sanitizeFilename keeps the base name of name restricted to a safe
// character set, falling back to "original" plus the detected extension.
func sanitizeFilename(name, detectedExt string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" || clean == "_" {
		clean = "original"
	}
	if path.Ext(clean) == "" {
		clean += detectedExt
	}
	return clean
}

// limitedReader fails once more than limit bytes are read. A
// non-positive limit disables the check.
type limitedReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

var errTooLarge = errors.New("upload too large")

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, errTooLarge
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		l.exceeded = true
		return n, errTooLarge
	}
	return n, err
}
