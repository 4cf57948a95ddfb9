package simplemedia

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Put writes the content of reader under key, replacing any previous object
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object stored under key; ErrBlobNotFound if it does not exist
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object stored under key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// DeleteDir removes every object whose key starts with prefix and returns how many were removed
	DeleteDir(ctx context.Context, prefix string) (int, error)
}

// Repository defines the interface for media and version persistence
type Repository interface {
	// Media operations
	CreateMedia(ctx context.Context, media *Media) error
	GetMedia(ctx context.Context, owner, identifier string) (*Media, error)
	GetMediaByID(ctx context.Context, id uuid.UUID) (*Media, error)
	DeleteMedia(ctx context.Context, id uuid.UUID) error

	// CreateNextVersion assigns version.Number atomically as
	// max(existing, media high-water mark) + 1 and inserts the version.
	CreateNextVersion(ctx context.Context, version *Version) error
	GetVersion(ctx context.Context, mediaID uuid.UUID, number int) (*Version, error)
	ListVersions(ctx context.Context, mediaID uuid.UUID) ([]*Version, error)
	UpdateVersion(ctx context.Context, version *Version) error
	DeleteVersion(ctx context.Context, id uuid.UUID) error

	// Cache invalidation revision counter
	IncrementCacheRevision(ctx context.Context) (int64, error)
	GetCacheRevision(ctx context.Context) (int64, error)
}

// SlotStore persists upload slots. At most one live slot exists per (owner, identifier).
type SlotStore interface {
	// PutSlot stores slot and marks any live slot for the same owner and identifier as replaced
	PutSlot(ctx context.Context, slot *UploadSlot) error

	// GetSlot returns the slot for token, including replaced slots kept as tombstones
	GetSlot(ctx context.Context, token string) (*UploadSlot, error)

	// DeleteSlot removes the slot for token
	DeleteSlot(ctx context.Context, token string) error

	// DeleteExpiredSlots removes slots and tombstones whose validity ended before the given time
	DeleteExpiredSlots(ctx context.Context, before time.Time) (int64, error)
}

// CDNInvalidator purges cached responses at the edge.
type CDNInvalidator interface {
	Invalidate(ctx context.Context, paths ...string) error
	IsConfigured() bool
}

// TransformationEngine renders a derivative from the original bytes.
type TransformationEngine interface {
	Transform(ctx context.Context, original []byte, t Transformations) ([]byte, error)
}

// Transcoder turns a source video file into renditions inside outputDir and
// returns the names of the files it produced.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, outputDir string) ([]string, error)
}

// Signer signs outbound notifications.
type Signer interface {
	// Sign returns the detached signature of message
	Sign(message []byte) ([]byte, error)

	// PublicKey returns the key clients verify signatures with
	PublicKey() []byte
}

// Observer receives operational measurements
type Observer interface {
	CacheLookup(mediaType MediaType, hit bool)
	TransformDuration(mediaType MediaType, d time.Duration, err error)
	JobFinished(state JobState, d time.Duration)
	NotificationFinished(notificationType NotificationType, attempts int, err error)
	CDNInvalidation(err error)
}

// Notifier delivers signed notifications asynchronously.
type Notifier interface {
	// Notify sends n to callbackURL, falling back to the owner's configured client
	Notify(owner, callbackURL string, n Notification)

	// Broadcast sends n to every configured client
	Broadcast(n Notification)

	// Close waits for in-flight deliveries
	Close(ctx context.Context) error
}
