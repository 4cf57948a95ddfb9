package simplemedia

import (
	"errors"
	"fmt"
	"regexp"
)

// Error types
var (
	// ErrMediaNotFound indicates no media exists for an owner and identifier
	ErrMediaNotFound = errors.New("media not found")

	// ErrVersionNotFound indicates the requested version does not exist or is not processed
	ErrVersionNotFound = errors.New("version not found")

	// ErrTypeMismatch indicates an identifier already holds media of another type
	ErrTypeMismatch = errors.New("media type mismatch")

	// ErrConflict indicates a uniqueness violation, e.g. a duplicate version number
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates user input was rejected
	ErrValidation = errors.New("validation failed")

	// ErrSlotNotFound indicates an unknown or already consumed upload token
	ErrSlotNotFound = errors.New("upload slot not found")

	// ErrSlotExpired indicates the upload slot is past its validity
	ErrSlotExpired = errors.New("upload slot expired")

	// ErrSlotInvalidated indicates the token was replaced by a newer reservation.
	// It matches ErrSlotNotFound under errors.Is.
	ErrSlotInvalidated = fmt.Errorf("%w: replaced by a newer reservation", ErrSlotNotFound)

	// ErrInvalidTransformationFormat indicates a malformed key-value segment
	ErrInvalidTransformationFormat = fmt.Errorf("%w: invalid transformation format", ErrValidation)

	// ErrTransformationNotFound indicates an unknown transformation key
	ErrTransformationNotFound = fmt.Errorf("%w: transformation not found", ErrValidation)

	// ErrInvalidTransformationValue indicates a transformation value out of range
	ErrInvalidTransformationValue = fmt.Errorf("%w: invalid transformation value", ErrValidation)

	// ErrStorageWrite indicates writing to the blob store failed
	ErrStorageWrite = errors.New("storage write failed")

	// ErrCdnInvalidationFailed indicates the CDN rejected or failed an invalidation
	ErrCdnInvalidationFailed = errors.New("cdn invalidation failed")

	// ErrTransformation indicates a derivative could not be computed
	ErrTransformation = errors.New("transformation failed")

	// ErrTranscodingFailed indicates an asynchronous transcode failed
	ErrTranscodingFailed = errors.New("transcoding failed")

	// ErrTranscodingAborted indicates a transcode was skipped because a newer version superseded it
	ErrTranscodingAborted = errors.New("transcoding aborted")

	// ErrNotificationDeliveryFailed indicates a webhook could not be delivered after all retries
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

	// ErrBlobNotFound indicates a missing blob store key
	ErrBlobNotFound = errors.New("blob not found")

	// ErrCacheMiss indicates a derivative is not cached
	ErrCacheMiss = errors.New("cache miss")

	// ErrClosed indicates the component was shut down
	ErrClosed = errors.New("closed")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,191}$`)

// ValidateIdentifier rejects identifiers and owner names that cannot be used as path segments.
func ValidateIdentifier(kind, value string) error {
	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("%w: %s must match [A-Za-z0-9_-]{1,191}, got %q", ErrValidation, kind, value)
	}
	return nil
}

// MediaError represents an error related to a media item
type MediaError struct {
	Owner      string
	Identifier string
	Op         string
	Err        error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media operation %s failed for %s/%s: %v", e.Op, e.Owner, e.Identifier, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// VersionError represents an error related to one version of a media item
type VersionError struct {
	Identifier string
	Number     int
	Op         string
	Err        error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version operation %s failed for %s v%d: %v", e.Op, e.Identifier, e.Number, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob store operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
