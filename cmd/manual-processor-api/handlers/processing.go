// Package handlers provides HTTP handlers for the Manual Processor API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/observability"
)

// uploadField is the multipart form field carrying the PDF
const uploadField = "file"

// JobService is the subset of jobs.Manager the handlers depend on
type JobService interface {
	Submit(ctx context.Context, filename string, r io.Reader) (string, error)
	Poll(token string) (jobs.Snapshot, error)
	Cancel(token string) (jobs.CancelOutcome, error)
	ReferencePath(token string) (string, error)
	ImagePath(token, name string) (string, error)
}

// ProcessingHandler handles manual processing requests.
type ProcessingHandler struct {
	logger    *observability.Logger
	jobs      JobService
	maxUpload int64
}

// NewProcessingHandler creates a new processing handler. maxUpload bounds
// the request body; zero disables the limit.
func NewProcessingHandler(logger *observability.Logger, jobs JobService, maxUpload int64) *ProcessingHandler {
	return &ProcessingHandler{
		logger:    logger,
		jobs:      jobs,
		maxUpload: maxUpload,
	}
}

// SubmitResponseDTO is returned when a job is accepted.
type SubmitResponseDTO struct {
	Token string `json:"token"`
}

// CancelResponseDTO is returned by the cancel endpoint.
type CancelResponseDTO struct {
	Status string `json:"status"`
}

// Submit handles POST /manuals/process.
func (h *ProcessingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		// Room for the multipart envelope around the file itself
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "file is too large", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "no file provided", err.Error())
		return
	}
	defer file.Close()

	if header.Filename == "" {
		h.writeError(w, http.StatusBadRequest, "no file selected", "")
		return
	}

	token, err := h.jobs.Submit(r.Context(), header.Filename, file)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	h.requestLogger(r).Info().
		Str("job", token).
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("Processing job accepted")

	h.writeJSON(w, http.StatusAccepted, SubmitResponseDTO{Token: token})
}

// Status handles GET /manuals/process/{token}.
func (h *ProcessingHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.jobs.Poll(chi.URLParam(r, "token"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Cancel handles POST /manuals/process/{token}/cancel.
func (h *ProcessingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	outcome, err := h.jobs.Cancel(token)
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if outcome == jobs.CancelAlreadyFinished {
		status = http.StatusOK
	}
	h.writeJSON(w, status, CancelResponseDTO{Status: outcome.String()})
}

// Reference handles GET /manuals/process/{token}/reference.
func (h *ProcessingHandler) Reference(w http.ResponseWriter, r *http.Request) {
	path, err := h.jobs.ReferencePath(chi.URLParam(r, "token"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	http.ServeFile(w, r, path)
}

// Image handles GET /manuals/process/{token}/images/{name}.
func (h *ProcessingHandler) Image(w http.ResponseWriter, r *http.Request) {
	path, err := h.jobs.ImagePath(chi.URLParam(r, "token"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeJobError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// requestLogger tags the handler logger with the request ID set by the router
func (h *ProcessingHandler) requestLogger(r *http.Request) *observability.Logger {
	ctx := observability.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
	return h.logger.WithContext(ctx)
}

func (h *ProcessingHandler) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound), domain.IsType(err, domain.ErrorTypeNotFound):
		h.writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, jobs.ErrNotReady):
		h.writeError(w, http.StatusConflict, "job has not completed", "")
	case errors.Is(err, jobs.ErrClosed):
		h.writeError(w, http.StatusServiceUnavailable, "server is shutting down", "")
	case domain.IsType(err, domain.ErrorTypeValidation):
		h.writeError(w, http.StatusBadRequest, "invalid upload", err.Error())
	default:
		h.requestLogger(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (h *ProcessingHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *ProcessingHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
