package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DefaultMultipartMemory is how much of a multipart upload is held in memory
// before spilling to temporary files.
const DefaultMultipartMemory = 32 << 20

// DefaultMaxUploadBytes caps an upload request body: the largest per-type
// limit plus room for the multipart framing.
const DefaultMaxUploadBytes = 5<<30 + 1<<20

// Handler serves the media HTTP API over a simplemedia.Service
type Handler struct {
	service         simplemedia.Service
	logger          *slog.Logger
	multipartMemory int64
	maxUploadBytes  int64
	cacheControl    string
	metrics         http.Handler
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMultipartMemory sets the in-memory limit for multipart uploads
func WithMultipartMemory(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.multipartMemory = n
		}
	}
}

// WithMaxUploadBytes caps the size of an upload request body
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithCacheControl sets the Cache-Control header of delivered media
func WithCacheControl(value string) Option {
	return func(h *Handler) { h.cacheControl = value }
}

// WithMetrics mounts handler at /metrics
func WithMetrics(handler http.Handler) Option {
	return func(h *Handler) { h.metrics = handler }
}

// NewHandler creates a new media API handler
func NewHandler(service simplemedia.Service, opts ...Option) *Handler {
	h := &Handler{
		service:         service,
		logger:          slog.Default(),
		multipartMemory: DefaultMultipartMemory,
		maxUploadBytes:  DefaultMaxUploadBytes,
		cacheControl:    "public, max-age=86400",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for every media endpoint
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/publickey", h.PublicKey)
		r.Post("/cache/purge", h.PurgeCache)
		r.Post("/upload/{token}", h.Upload)

		r.Post("/{owner}/{type}/reserveUploadSlot", h.ReserveUploadSlot)
		r.Get("/{owner}/{identifier}/versions", h.ListVersions)
		r.Patch("/{owner}/{identifier}/version/{version}", h.SetVersion)
		r.Get("/{owner}/{identifier}/version/{version}/original", h.GetOriginal)
		r.Get("/{owner}/{identifier}/version/{version}/derivative", h.GetVersionDerivative)
		r.Get("/{owner}/{identifier}/version/{version}/derivative/{transformations}", h.GetVersionDerivative)
		r.Delete("/{owner}/{identifier}", h.DeleteMedia)
	})

	// Public delivery of the current version.
	r.Get("/{owner}/{identifier}", h.GetCurrentDerivative)
	r.Get("/{owner}/{identifier}/{transformations}", h.GetCurrentDerivative)

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

// ReserveUploadSlot reserves a single-use upload token for an identifier
func (h *Handler) ReserveUploadSlot(w http.ResponseWriter, r *http.Request) {
	mediaType, err := simplemedia.ParseMediaType(chi.URLParam(r, "type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req ReserveUploadSlotRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(w, r, fmt.Errorf("%w: invalid request body: %v", simplemedia.ErrValidation, err))
			return
		}
	}
	if req.Identifier == "" {
		req.Identifier = r.URL.Query().Get("identifier")
	}
	if req.CallbackURL == "" {
		req.CallbackURL = r.URL.Query().Get("callback_url")
	}

	slot, err := h.service.ReserveUploadSlot(r.Context(), simplemedia.ReserveUploadSlotRequest{
		Owner:       chi.URLParam(r, "owner"),
		Identifier:  req.Identifier,
		Type:        mediaType,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respond(w, r, simplemedia.OutcomeSlotReserved, ReserveUploadSlotResponse{
		Status:      statusOf(simplemedia.OutcomeSlotReserved),
		Identifier:  slot.Identifier,
		UploadToken: slot.Token,
		ValidUntil:  slot.ValidUntil,
	})
}

// Upload receives the multipart file for an upload token
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	// The body is not read for dead tokens.
	if _, err := h.service.ValidateUploadSlot(r.Context(), token); err != nil {
		h.respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.multipartMemory); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid multipart body: %v", simplemedia.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: file is required", simplemedia.ErrValidation))
		return
	}
	defer file.Close()

	result, err := h.service.Upload(r.Context(), simplemedia.UploadRequest{
		Token:      token,
		Identifier: r.FormValue("identifier"),
		Filename:   header.Filename,
		Reader:     file,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respond(w, r, result.Outcome, UploadResponse{
		Status:      statusOf(result.Outcome),
		Identifier:  result.Identifier,
		Version:     result.Version,
		PublicPath:  result.PublicPath,
		UploadToken: result.UploadToken,
		Hash:        result.Hash,
		JobID:       jobID(result.Job),
	})
}

// ListVersions returns the version history of an identifier
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListVersions(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "identifier"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, VersionsResponse{
		Status:         Status{State: simplemedia.StateSuccess, Message: "Versions listed."},
		Identifier:     list.Identifier,
		CurrentVersion: list.CurrentVersion,
		Versions:       list.Versions,
	})
}

// SetVersion promotes an existing version to a new current version
func (h *Handler) SetVersion(w http.ResponseWriter, r *http.Request) {
	number, err := versionParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.SetVersion(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "identifier"), number)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, r, result.Outcome, SetVersionResponse{
		Status:        statusOf(result.Outcome),
		Identifier:    result.Identifier,
		Version:       result.Version,
		SourceVersion: result.SourceVersion,
		JobID:         jobID(result.Job),
	})
}

// GetOriginal streams the original bytes of a processed version
func (h *Handler) GetOriginal(w http.ResponseWriter, r *http.Request) {
	number, err := versionParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	d, err := h.service.GetOriginal(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "identifier"), number)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeMedia(w, r, d)
}

// GetVersionDerivative serves a derivative of a specific processed version
func (h *Handler) GetVersionDerivative(w http.ResponseWriter, r *http.Request) {
	number, err := versionParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.serveDerivative(w, r, number)
}

// GetCurrentDerivative serves a derivative of the current version
func (h *Handler) GetCurrentDerivative(w http.ResponseWriter, r *http.Request) {
	h.serveDerivative(w, r, 0)
}

func (h *Handler) serveDerivative(w http.ResponseWriter, r *http.Request, number int) {
	d, err := h.service.GetDerivative(r.Context(), simplemedia.GetDerivativeRequest{
		Owner:           chi.URLParam(r, "owner"),
		Identifier:      chi.URLParam(r, "identifier"),
		Version:         number,
		Transformations: chi.URLParam(r, "transformations"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeMedia(w, r, d)
}

func (h *Handler) writeMedia(w http.ResponseWriter, r *http.Request, d *simplemedia.Derivative) {
	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Data)))
	w.Header().Set("X-Media-Version", strconv.Itoa(d.Version))
	if h.cacheControl != "" {
		w.Header().Set("Cache-Control", h.cacheControl)
	}
	if d.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := w.Write(d.Data); err != nil {
			h.logger.Debug("Failed to write media", "path", r.URL.Path, "error", err)
		}
	}
}

// DeleteMedia removes an identifier with every version and derivative
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.service.DeleteMedia(r.Context(), chi.URLParam(r, "owner"), identifier); err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, r, simplemedia.OutcomeDeleted, DeleteResponse{
		Status:     statusOf(simplemedia.OutcomeDeleted),
		Identifier: identifier,
	})
}

// PurgeCache deletes cached derivatives and bumps the cache revision
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(w, r, fmt.Errorf("%w: invalid request body: %v", simplemedia.ErrValidation, err))
			return
		}
	}
	if q := r.URL.Query().Get("types"); q != "" {
		req.Types = append(req.Types, strings.Split(q, ",")...)
	}

	types := make([]simplemedia.MediaType, 0, len(req.Types))
	for _, s := range req.Types {
		t, err := simplemedia.ParseMediaType(s)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		types = append(types, t)
	}

	result, err := h.service.PurgeDerivatives(r.Context(), types...)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, r, simplemedia.OutcomeCachePurged, PurgeResponse{
		Status:                    statusOf(simplemedia.OutcomeCachePurged),
		Results:                   result.Results,
		CacheInvalidationRevision: result.Revision,
	})
}

// PublicKey returns the key webhook receivers verify notifications with
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key := h.service.PublicKey()
	if len(key) == 0 {
		respond(w, r, simplemedia.OutcomeNotFound, ErrorResponse{
			Status:  statusOf(simplemedia.OutcomeNotFound),
			Outcome: simplemedia.OutcomeNotFound,
			Error:   "notification signing is not configured",
		})
		return
	}
	render.JSON(w, r, PublicKeyResponse{PublicKey: hex.EncodeToString(key)})
}

func versionParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "version")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: version must be a positive integer, got %q", simplemedia.ErrValidation, raw)
	}
	return n, nil
}
