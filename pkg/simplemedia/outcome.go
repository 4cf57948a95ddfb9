package simplemedia

import (
	"errors"
	"net/http"
)

// WireState is the coarse state reported to clients.
type WireState string

const (
	StateInitializing WireState = "initializing"
	StateProcessing   WireState = "processing"
	StateSuccess      WireState = "success"
	StateError        WireState = "error"
	StateDeleted      WireState = "deleted"
)

// Outcome is the result of an operation, synchronous or asynchronous.
type Outcome string

const (
	OutcomeSlotReserved               Outcome = "slot_reserved"
	OutcomeUploadProcessed            Outcome = "upload_processed"
	OutcomeTranscodingStarted         Outcome = "transcoding_started"
	OutcomeTranscodingCompleted       Outcome = "transcoding_completed"
	OutcomeTranscodingFailed          Outcome = "transcoding_failed"
	OutcomeTranscodingAborted         Outcome = "transcoding_aborted"
	OutcomeVersionSet                 Outcome = "version_set"
	OutcomeVersionSetProcessing       Outcome = "version_set_processing"
	OutcomeDeleted                    Outcome = "deleted"
	OutcomeCachePurged                Outcome = "cache_purged"
	OutcomeValidationFailed           Outcome = "validation_failed"
	OutcomeTypeMismatch               Outcome = "type_mismatch"
	OutcomeSlotExpired                Outcome = "slot_expired"
	OutcomeSlotNotFound               Outcome = "slot_not_found"
	OutcomeSlotInvalidated            Outcome = "slot_invalidated"
	OutcomeNotFound                   Outcome = "not_found"
	OutcomeConflict                   Outcome = "conflict"
	OutcomeStorageWriteFailed         Outcome = "storage_write_failed"
	OutcomeCdnInvalidationFailed      Outcome = "cdn_invalidation_failed"
	OutcomeTransformationFailed       Outcome = "transformation_failed"
	OutcomeNotificationDeliveryFailed Outcome = "notification_delivery_failed"
	OutcomeInternalError              Outcome = "internal_error"
)

type response struct {
	state   WireState
	message string
	status  int
}

var responses = map[Outcome]response{
	OutcomeSlotReserved:               {StateInitializing, "Upload slot reserved.", http.StatusOK},
	OutcomeUploadProcessed:            {StateSuccess, "Upload processed.", http.StatusCreated},
	OutcomeTranscodingStarted:         {StateProcessing, "Upload received, transcoding started.", http.StatusCreated},
	OutcomeTranscodingCompleted:       {StateSuccess, "Transcoding completed.", http.StatusOK},
	OutcomeTranscodingFailed:          {StateError, "Transcoding failed.", http.StatusInternalServerError},
	OutcomeTranscodingAborted:         {StateError, "Transcoding aborted, a newer version exists.", http.StatusConflict},
	OutcomeVersionSet:                 {StateSuccess, "Version set.", http.StatusOK},
	OutcomeVersionSetProcessing:       {StateProcessing, "Version set, transcoding started.", http.StatusAccepted},
	OutcomeDeleted:                    {StateDeleted, "Media deleted.", http.StatusOK},
	OutcomeCachePurged:                {StateSuccess, "Derivative cache purged.", http.StatusOK},
	OutcomeValidationFailed:           {StateError, "Validation failed.", http.StatusBadRequest},
	OutcomeTypeMismatch:               {StateError, "Identifier already holds media of another type.", http.StatusConflict},
	OutcomeSlotExpired:                {StateError, "Upload slot expired.", http.StatusNotFound},
	OutcomeSlotNotFound:               {StateError, "Upload slot not found.", http.StatusNotFound},
	OutcomeSlotInvalidated:            {StateError, "Upload slot was replaced by a newer reservation.", http.StatusNotFound},
	OutcomeNotFound:                   {StateError, "Not found.", http.StatusNotFound},
	OutcomeConflict:                   {StateError, "Conflicting concurrent modification.", http.StatusConflict},
	OutcomeStorageWriteFailed:         {StateError, "Could not store the file.", http.StatusInternalServerError},
	OutcomeCdnInvalidationFailed:      {StateError, "CDN invalidation failed, the version was rolled back.", http.StatusBadGateway},
	OutcomeTransformationFailed:       {StateError, "Transformation failed.", http.StatusInternalServerError},
	OutcomeNotificationDeliveryFailed: {StateError, "Notification could not be delivered.", http.StatusInternalServerError},
	OutcomeInternalError:              {StateError, "Internal error.", http.StatusInternalServerError},
}

// Outcomes lists every defined outcome.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeSlotReserved, OutcomeUploadProcessed, OutcomeTranscodingStarted,
		OutcomeTranscodingCompleted, OutcomeTranscodingFailed, OutcomeTranscodingAborted,
		OutcomeVersionSet, OutcomeVersionSetProcessing, OutcomeDeleted, OutcomeCachePurged,
		OutcomeValidationFailed, OutcomeTypeMismatch, OutcomeSlotExpired, OutcomeSlotNotFound,
		OutcomeSlotInvalidated, OutcomeNotFound, OutcomeConflict, OutcomeStorageWriteFailed,
		OutcomeCdnInvalidationFailed, OutcomeTransformationFailed,
		OutcomeNotificationDeliveryFailed, OutcomeInternalError,
	}
}

// Response returns the wire state and message for o. Unknown outcomes map
// to the internal error response.
func (o Outcome) Response() (WireState, string) {
	r, ok := responses[o]
	if !ok {
		r = responses[OutcomeInternalError]
	}
	return r.state, r.message
}

// HTTPStatus returns the status code a synchronous response for o carries.
func (o Outcome) HTTPStatus() int {
	r, ok := responses[o]
	if !ok {
		return http.StatusInternalServerError
	}
	return r.status
}

// IsError reports whether o is a failure.
func (o Outcome) IsError() bool {
	state, _ := o.Response()
	return state == StateError
}

// OutcomeFromError classifies err. A nil error maps to the empty outcome.
func OutcomeFromError(err error) Outcome {
	switch {
	case err == nil:
		return ""
	// ErrSlotInvalidated wraps ErrSlotNotFound and must be checked first.
	case errors.Is(err, ErrSlotInvalidated):
		return OutcomeSlotInvalidated
	case errors.Is(err, ErrSlotNotFound):
		return OutcomeSlotNotFound
	case errors.Is(err, ErrSlotExpired):
		return OutcomeSlotExpired
	case errors.Is(err, ErrTypeMismatch):
		return OutcomeTypeMismatch
	case errors.Is(err, ErrValidation):
		return OutcomeValidationFailed
	case errors.Is(err, ErrMediaNotFound), errors.Is(err, ErrVersionNotFound), errors.Is(err, ErrBlobNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrCdnInvalidationFailed):
		return OutcomeCdnInvalidationFailed
	case errors.Is(err, ErrStorageWrite):
		return OutcomeStorageWriteFailed
	case errors.Is(err, ErrTransformation):
		return OutcomeTransformationFailed
	case errors.Is(err, ErrTranscodingAborted):
		return OutcomeTranscodingAborted
	case errors.Is(err, ErrTranscodingFailed):
		return OutcomeTranscodingFailed
	case errors.Is(err, ErrNotificationDeliveryFailed):
		return OutcomeNotificationDeliveryFailed
	}
	return OutcomeInternalError
}
