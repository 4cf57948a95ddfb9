package simplemedia

import (
	"context"
	"io"
)

// Service defines the main interface for the simple-media library
type Service interface {
	// Upload operations
	ReserveUploadSlot(ctx context.Context, req ReserveUploadSlotRequest) (*UploadSlot, error)
	ValidateUploadSlot(ctx context.Context, token string) (*UploadSlot, error)
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// Delivery operations
	GetDerivative(ctx context.Context, req GetDerivativeRequest) (*Derivative, error)
	GetOriginal(ctx context.Context, owner, identifier string, version int) (*Derivative, error)

	// Version operations
	ListVersions(ctx context.Context, owner, identifier string) (*VersionList, error)
	SetVersion(ctx context.Context, owner, identifier string, version int) (*SetVersionResult, error)
	DeleteMedia(ctx context.Context, owner, identifier string) error

	// Cache operations
	PurgeDerivatives(ctx context.Context, types ...MediaType) (*PurgeDerivativesResult, error)
	CacheRevision(ctx context.Context) (int64, error)

	// Maintenance
	PurgeExpiredSlots(ctx context.Context) (int64, error)
	PublicKey() []byte
	Close(ctx context.Context) error
}

// ReserveUploadSlotRequest contains parameters for reserving an upload slot
type ReserveUploadSlotRequest struct {
	Owner       string
	Identifier  string
	Type        MediaType
	CallbackURL string
}

// UploadRequest contains parameters for receiving an upload
type UploadRequest struct {
	Token      string
	Identifier string
	Filename   string
	Reader     io.Reader
}

// UploadResult describes a received upload
type UploadResult struct {
	Outcome     Outcome
	Identifier  string
	Version     int
	PublicPath  string
	UploadToken string
	Hash        string
	// Job is set when the upload started an asynchronous transcode
	Job *JobHandle
}

// SetVersionResult describes a version promotion
type SetVersionResult struct {
	Outcome       Outcome
	Identifier    string
	Version       int
	SourceVersion int
	Job           *JobHandle
}

// GetDerivativeRequest contains parameters for reading a derivative
type GetDerivativeRequest struct {
	Owner      string
	Identifier string
	// Version selects a processed version; 0 selects the current one
	Version int
	// Transformations is the raw "+"-joined transformation string
	Transformations string
}

// PurgeDerivativesResult reports a derivative purge
type PurgeDerivativesResult struct {
	Results  []PurgeResult `json:"results"`
	Revision int64         `json:"cache_invalidation_revision"`
}
