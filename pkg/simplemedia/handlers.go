package simplemedia

import (
	"context"
	"errors"
	"fmt"
)

// MediaHandler is the type-specific behavior of a media item.
type MediaHandler interface {
	Type() MediaType

	// HandleSavedFile runs the processing pipeline for a freshly written
	// version. slot is nil when the version comes from a promotion.
	HandleSavedFile(ctx context.Context, media *Media, version *Version, slot *UploadSlot) (Outcome, *JobHandle, error)

	// ValidationRules returns the rules uploads of this type must satisfy
	ValidationRules() ValidationRules

	// InvalidateCache purges the edge cache of media
	InvalidateCache(ctx context.Context, media *Media) error

	// Versions lists the version history of media
	Versions(ctx context.Context, media *Media) (*VersionList, error)

	// PurgeDerivatives deletes every cached derivative of this type
	PurgeDerivatives(ctx context.Context) PurgeResult
}

type handlerBase struct {
	registry  *Registry
	publisher *Publisher
	cache     *DerivativeCache
	rules     ValidationRules
}

func (b *handlerBase) ValidationRules() ValidationRules { return b.rules }

func (b *handlerBase) InvalidateCache(ctx context.Context, media *Media) error {
	return b.publisher.Invalidate(ctx, media)
}

func (b *handlerBase) Versions(ctx context.Context, media *Media) (*VersionList, error) {
	versions, err := b.registry.ListVersions(ctx, media)
	if err != nil {
		return nil, err
	}
	list := &VersionList{Identifier: media.Identifier, Versions: make([]VersionEntry, 0, len(versions))}
	for _, v := range versions {
		list.Versions = append(list.Versions, VersionEntry{Number: v.Number, Processed: v.Processed, CreatedAt: v.CreatedAt})
		if v.Processed && v.Number > list.CurrentVersion {
			list.CurrentVersion = v.Number
		}
	}
	return list, nil
}

func (b *handlerBase) purge(ctx context.Context, t MediaType) PurgeResult {
	return b.cache.PurgeAll(ctx, t)[0]
}

// imageHandler publishes synchronously and serves resized renditions.
type imageHandler struct{ handlerBase }

func (h *imageHandler) Type() MediaType { return MediaTypeImage }

func (h *imageHandler) HandleSavedFile(ctx context.Context, media *Media, version *Version, _ *UploadSlot) (Outcome, *JobHandle, error) {
	if err := h.publisher.Publish(ctx, media, version); err != nil {
		return OutcomeFromError(err), nil, err
	}
	return OutcomeUploadProcessed, nil, nil
}

func (h *imageHandler) PurgeDerivatives(ctx context.Context) PurgeResult {
	return h.purge(ctx, MediaTypeImage)
}

// documentHandler publishes synchronously and serves rasterized pages.
type documentHandler struct{ handlerBase }

func (h *documentHandler) Type() MediaType { return MediaTypeDocument }

func (h *documentHandler) HandleSavedFile(ctx context.Context, media *Media, version *Version, _ *UploadSlot) (Outcome, *JobHandle, error) {
	if err := h.publisher.Publish(ctx, media, version); err != nil {
		return OutcomeFromError(err), nil, err
	}
	return OutcomeUploadProcessed, nil, nil
}

func (h *documentHandler) PurgeDerivatives(ctx context.Context) PurgeResult {
	return h.purge(ctx, MediaTypeDocument)
}

// videoHandler hands versions to the transcode orchestrator. Renditions are
// produced once per version and cannot be recomputed on read, so purging
// leaves them in place.
type videoHandler struct {
	handlerBase
	orchestrator *Orchestrator
}

func (h *videoHandler) Type() MediaType { return MediaTypeVideo }

func (h *videoHandler) HandleSavedFile(ctx context.Context, media *Media, version *Version, slot *UploadSlot) (Outcome, *JobHandle, error) {
	job, err := h.orchestrator.Dispatch(ctx, media, version, slot)
	if err != nil {
		err = fmt.Errorf("failed to dispatch transcode: %w", err)
		if rbErr := h.publisher.Rollback(ctx, media, version); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return OutcomeInternalError, nil, err
	}
	return OutcomeTranscodingStarted, job, nil
}

func (h *videoHandler) PurgeDerivatives(ctx context.Context) PurgeResult {
	return PurgeResult{Type: MediaTypeVideo, Deleted: 0, Success: true, Message: "video renditions are kept"}
}
