package api

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Status is the state and message every JSON response carries
type Status struct {
	State   simplemedia.WireState `json:"state"`
	Message string                `json:"message"`
}

func statusOf(o simplemedia.Outcome) Status {
	state, message := o.Response()
	return Status{State: state, Message: message}
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Status
	Outcome simplemedia.Outcome `json:"outcome"`
	Error   string              `json:"error,omitempty"`
}

// ReserveUploadSlotRequest is the request body for reserving an upload slot
type ReserveUploadSlotRequest struct {
	Identifier  string `json:"identifier"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// ReserveUploadSlotResponse is the response body for a reserved slot
type ReserveUploadSlotResponse struct {
	Status
	Identifier  string    `json:"identifier"`
	UploadToken string    `json:"upload_token"`
	ValidUntil  time.Time `json:"valid_until"`
}

// UploadResponse is the response body for a received upload
type UploadResponse struct {
	Status
	Identifier  string `json:"identifier"`
	Version     int    `json:"version"`
	PublicPath  string `json:"public_path,omitempty"`
	UploadToken string `json:"upload_token"`
	Hash        string `json:"hash,omitempty"`
	JobID       string `json:"job_id,omitempty"`
}

// VersionsResponse is the response body for a version listing
type VersionsResponse struct {
	Status
	Identifier     string                     `json:"identifier"`
	CurrentVersion int                        `json:"current_version"`
	Versions       []simplemedia.VersionEntry `json:"versions"`
}

// SetVersionResponse is the response body for a version promotion
type SetVersionResponse struct {
	Status
	Identifier    string `json:"identifier"`
	Version       int    `json:"version"`
	SourceVersion int    `json:"source_version"`
	JobID         string `json:"job_id,omitempty"`
}

// DeleteResponse is the response body for a deleted media item
type DeleteResponse struct {
	Status
	Identifier string `json:"identifier"`
}

// PurgeRequest selects the media types to purge; empty means all
type PurgeRequest struct {
	Types []string `json:"types,omitempty"`
}

// PurgeResponse is the response body for a derivative purge
type PurgeResponse struct {
	Status
	Results                   []simplemedia.PurgeResult `json:"results"`
	CacheInvalidationRevision int64                     `json:"cache_invalidation_revision"`
}

// PublicKeyResponse carries the hex-encoded notification verification key
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func respond(w http.ResponseWriter, r *http.Request, o simplemedia.Outcome, body any) {
	render.Status(r, o.HTTPStatus())
	render.JSON(w, r, body)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	o := simplemedia.OutcomeFromError(err)
	if o.HTTPStatus() >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "outcome", o, "error", err)
	} else {
		h.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "outcome", o, "error", err)
	}
	resp := ErrorResponse{Status: statusOf(o), Outcome: o}
	if o.HTTPStatus() < http.StatusInternalServerError {
		resp.Error = err.Error()
	}
	respond(w, r, o, resp)
}

func jobID(job *simplemedia.JobHandle) string {
	if job == nil {
		return ""
	}
	return job.ID().String()
}
