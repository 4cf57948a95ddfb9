package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns Media and Version rows and enforces the version lifecycle:
// versions are created unprocessed, numbers only grow, and the current
// version is the highest processed one.
type Registry struct {
	repo   Repository
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrGetMedia returns the media for owner and identifier, creating it on first use.
func (r *Registry) CreateOrGetMedia(ctx context.Context, owner, identifier string, mediaType MediaType) (*Media, error) {
	if !mediaType.IsValid() {
		return nil, fmt.Errorf("%w: unknown media type %q", ErrValidation, mediaType)
	}

	unlock := r.locks.Lock(owner + "/" + identifier)
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		media, err := r.repo.GetMedia(ctx, owner, identifier)
		if err == nil {
			if media.Type != mediaType {
				return nil, &MediaError{Owner: owner, Identifier: identifier, Op: "create_or_get",
					Err: fmt.Errorf("%w: identifier holds %s, got %s", ErrTypeMismatch, media.Type, mediaType)}
			}
			return media, nil
		}
		if !errors.Is(err, ErrMediaNotFound) {
			return nil, &MediaError{Owner: owner, Identifier: identifier, Op: "create_or_get", Err: err}
		}

		now := r.now()
		media = &Media{
			ID:         uuid.New(),
			Owner:      owner,
			Identifier: identifier,
			Type:       mediaType,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = r.repo.CreateMedia(ctx, media)
		if err == nil {
			r.logger.Info("Media created", "owner", owner, "identifier", identifier, "type", mediaType)
			return media, nil
		}
		// Another process created it first; read it back.
		if !errors.Is(err, ErrConflict) {
			return nil, &MediaError{Owner: owner, Identifier: identifier, Op: "create_or_get", Err: err}
		}
	}
	return nil, &MediaError{Owner: owner, Identifier: identifier, Op: "create_or_get", Err: ErrConflict}
}

// GetMedia looks up a media item; ErrMediaNotFound if it does not exist.
func (r *Registry) GetMedia(ctx context.Context, owner, identifier string) (*Media, error) {
	return r.repo.GetMedia(ctx, owner, identifier)
}

// GetMediaByID looks up a media item by its ID.
func (r *Registry) GetMediaByID(ctx context.Context, id uuid.UUID) (*Media, error) {
	return r.repo.GetMediaByID(ctx, id)
}

// NextVersionNumber reports the number the next created version will get.
// CreateVersion assigns numbers atomically; this is informational only.
func (r *Registry) NextVersionNumber(ctx context.Context, media *Media) (int, error) {
	current, err := r.repo.GetMediaByID(ctx, media.ID)
	if err != nil {
		return 0, err
	}
	versions, err := r.repo.ListVersions(ctx, media.ID)
	if err != nil {
		return 0, err
	}
	highest := current.LatestVersionNumber
	for _, v := range versions {
		if v.Number > highest {
			highest = v.Number
		}
	}
	return highest + 1, nil
}

// CreateVersion creates a new unprocessed version with the next number.
func (r *Registry) CreateVersion(ctx context.Context, media *Media, filename, hash string) (*Version, error) {
	unlock := r.locks.Lock(media.ID.String())
	defer unlock()

	now := r.now()
	version := &Version{
		ID:        uuid.New(),
		MediaID:   media.ID,
		Filename:  filename,
		Hash:      hash,
		Processed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.CreateNextVersion(ctx, version); err != nil {
		return nil, &VersionError{Identifier: media.Identifier, Number: version.Number, Op: "create", Err: err}
	}
	if version.Number > media.LatestVersionNumber {
		media.LatestVersionNumber = version.Number
	}
	r.logger.Debug("Version created", "owner", media.Owner, "identifier", media.Identifier, "version", version.Number)
	return version, nil
}

// GetVersion returns a version by number regardless of its processed state.
func (r *Registry) GetVersion(ctx context.Context, media *Media, number int) (*Version, error) {
	return r.repo.GetVersion(ctx, media.ID, number)
}

// ListVersions returns every version of media ordered by number.
func (r *Registry) ListVersions(ctx context.Context, media *Media) ([]*Version, error) {
	return r.repo.ListVersions(ctx, media.ID)
}

// CurrentVersion returns the highest-numbered processed version.
func (r *Registry) CurrentVersion(ctx context.Context, media *Media) (*Version, error) {
	versions, err := r.repo.ListVersions(ctx, media.ID)
	if err != nil {
		return nil, err
	}
	var current *Version
	for _, v := range versions {
		if v.Processed && (current == nil || v.Number > current.Number) {
			current = v
		}
	}
	if current == nil {
		return nil, ErrVersionNotFound
	}
	return current, nil
}

// ProcessedVersion returns version number of media only if it is processed.
func (r *Registry) ProcessedVersion(ctx context.Context, media *Media, number int) (*Version, error) {
	v, err := r.repo.GetVersion(ctx, media.ID, number)
	if err != nil {
		return nil, err
	}
	if !v.Processed {
		return nil, ErrVersionNotFound
	}
	return v, nil
}

// HasNewerVersion reports whether media has any version numbered above number.
func (r *Registry) HasNewerVersion(ctx context.Context, media *Media, number int) (bool, error) {
	versions, err := r.repo.ListVersions(ctx, media.ID)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v.Number > number {
			return true, nil
		}
	}
	return false, nil
}

// MarkProcessed makes version visible to delivery.
func (r *Registry) MarkProcessed(ctx context.Context, version *Version) error {
	return r.setProcessed(ctx, version, true)
}

// MarkUnprocessed hides version from delivery.
func (r *Registry) MarkUnprocessed(ctx context.Context, version *Version) error {
	return r.setProcessed(ctx, version, false)
}

// RecordHash stores the content fingerprint of version.
func (r *Registry) RecordHash(ctx context.Context, version *Version, hash string) error {
	return r.update(ctx, version, "record_hash", func(v *Version) { v.Hash = hash })
}

func (r *Registry) setProcessed(ctx context.Context, version *Version, processed bool) error {
	return r.update(ctx, version, "set_processed", func(v *Version) { v.Processed = processed })
}

func (r *Registry) update(ctx context.Context, version *Version, op string, apply func(*Version)) error {
	unlock := r.locks.Lock(version.MediaID.String())
	defer unlock()

	updated := *version
	apply(&updated)
	updated.UpdatedAt = r.now()
	if err := r.repo.UpdateVersion(ctx, &updated); err != nil {
		return &VersionError{Number: version.Number, Op: op, Err: err}
	}
	*version = updated
	return nil
}

// DeleteVersion removes a version row.
func (r *Registry) DeleteVersion(ctx context.Context, version *Version) error {
	unlock := r.locks.Lock(version.MediaID.String())
	defer unlock()

	if err := r.repo.DeleteVersion(ctx, version.ID); err != nil {
		return &VersionError{Number: version.Number, Op: "delete", Err: err}
	}
	return nil
}

// DeleteMedia removes media and all of its versions.
func (r *Registry) DeleteMedia(ctx context.Context, media *Media) error {
	unlock := r.locks.Lock(media.ID.String())
	defer unlock()

	if err := r.repo.DeleteMedia(ctx, media.ID); err != nil {
		return &MediaError{Owner: media.Owner, Identifier: media.Identifier, Op: "delete", Err: err}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
