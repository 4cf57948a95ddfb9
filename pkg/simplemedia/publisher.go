package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Publisher makes versions visible. The edge cache for a media item is
// invalidated before its version is marked processed, so no request can
// repopulate the edge with old bytes under the new version.
type Publisher struct {
	registry *Registry
	store    BlobStore
	cdn      CDNInvalidator
	observer Observer
	logger   *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(registry *Registry, store BlobStore, cdn CDNInvalidator, observer Observer, logger *slog.Logger) *Publisher {
	if cdn == nil {
		cdn = NewNoopInvalidator()
	}
	if observer == nil {
		observer = NewNoopObserver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{registry: registry, store: store, cdn: cdn, observer: observer, logger: logger}
}

// Invalidate purges the edge cache for media. It is a no-op without a CDN.
func (p *Publisher) Invalidate(ctx context.Context, media *Media) error {
	if !p.cdn.IsConfigured() {
		return nil
	}
	err := p.cdn.Invalidate(ctx, media.InvalidationPath())
	p.observer.CDNInvalidation(err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCdnInvalidationFailed, err)
	}
	return nil
}

// Publish invalidates the edge cache for media and then marks version
// processed. On any failure the version is rolled back.
func (p *Publisher) Publish(ctx context.Context, media *Media, version *Version) error {
	if err := p.Invalidate(ctx, media); err != nil {
		p.logger.Error("CDN invalidation failed, rolling back version",
			"owner", media.Owner, "identifier", media.Identifier, "version", version.Number, "error", err)
		return p.rollbackWith(ctx, media, version, err)
	}
	if err := p.registry.MarkProcessed(ctx, version); err != nil {
		p.logger.Error("Failed to mark version processed, rolling back",
			"owner", media.Owner, "identifier", media.Identifier, "version", version.Number, "error", err)
		return p.rollbackWith(ctx, media, version, err)
	}
	p.logger.Info("Version published", "owner", media.Owner, "identifier", media.Identifier, "version", version.Number)
	return nil
}

func (p *Publisher) rollbackWith(ctx context.Context, media *Media, version *Version, cause error) error {
	if err := p.Rollback(ctx, media, version); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Rollback deletes version together with its original and renditions.
func (p *Publisher) Rollback(ctx context.Context, media *Media, version *Version) error {
	var errs []error
	if err := p.registry.DeleteVersion(ctx, version); err != nil && !errors.Is(err, ErrVersionNotFound) {
		errs = append(errs, err)
	}
	if err := p.store.Delete(ctx, media.OriginalKey(version)); err != nil {
		errs = append(errs, &StorageError{Key: media.OriginalKey(version), Op: "delete", Err: err})
	}
	if media.Type == MediaTypeVideo {
		if _, err := p.store.DeleteDir(ctx, media.RenditionsPrefix(version.Number)); err != nil {
			errs = append(errs, &StorageError{Key: media.RenditionsPrefix(version.Number), Op: "delete_dir", Err: err})
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Version rollback incomplete",
			"owner", media.Owner, "identifier", media.Identifier, "version", version.Number, "error", err)
		return err
	}
	p.logger.Info("Version rolled back", "owner", media.Owner, "identifier", media.Identifier, "version", version.Number)
	return nil
}
