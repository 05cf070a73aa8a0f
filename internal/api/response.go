package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
	"github.com/Lllllllleong/mathcheckin/internal/services"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeAuthRequired  = "AUTH_REQUIRED"
	CodeAuthExpired   = "AUTH_EXPIRED"
	CodeNotApproved   = "NOT_APPROVED"
	CodeInvalid       = "INVALID_REQUEST"
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeUnprocessable = "UNPROCESSABLE"
	CodeUnavailable   = "UNAVAILABLE"
	CodeInternal      = "INTERNAL_ERROR"
)

// errValidation wraps validator failures so they map to 400.
var errValidation = errors.New("validation failed")

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON response.", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write JSON response.", "error", err)
	}
}

// respondError classifies err and writes the JSON error body. Server-side
// failures are logged; client errors are not.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	requestID := chimiddleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed.", "method", r.Method, "path", r.URL.Path, "requestId", requestID, "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	respondJSON(w, status, errorBody(r, msg, code))
}

func errorBody(r *http.Request, msg, code string) models.ErrorResponse {
	return models.ErrorResponse{Error: msg, Code: code, RequestID: chimiddleware.GetReqID(r.Context())}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrExpired), errors.Is(err, filehost.ErrAuthExpired):
		return http.StatusUnauthorized, CodeAuthExpired
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, CodeAuthRequired
	case errors.Is(err, auth.ErrNotApproved):
		return http.StatusForbidden, CodeNotApproved
	case errors.Is(err, errValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, services.ErrSourceNotFound),
		errors.Is(err, services.ErrStudentNotFound),
		errors.Is(err, services.ErrQRCodeNotFound),
		errors.Is(err, filehost.ErrNotFound),
		errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, objectstore.ErrExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, objectstore.ErrInvalidKey),
		errors.Is(err, objectstore.ErrUnsupportedType),
		errors.Is(err, filehost.ErrUnsupportedMime),
		errors.Is(err, filehost.ErrNoAccessToken),
		errors.Is(err, filehost.ErrInvalidURL):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, services.ErrNoToken),
		errors.Is(err, services.ErrUnsupportedFile),
		errors.Is(err, segmenter.ErrInvalidPDF),
		errors.Is(err, segmenter.ErrNoPages),
		errors.Is(err, matcher.ErrMissingHeaders),
		errors.Is(err, matcher.ErrEmptyRoster),
		errors.Is(err, roster.ErrCenterColumnMissing):
		return http.StatusUnprocessableEntity, CodeUnprocessable
	case errors.Is(err, filehost.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// decodeJSON reads a JSON body into dst and validates it.
func (h *Handler) decodeJSON(r *http.Request, dst any) error {
	if err := readJSON(r, dst); err != nil {
		return err
	}
	return h.validateStruct(dst)
}

func readJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, 1<<20)
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", services.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", services.ErrInvalidRequest, err)
	}
	return nil
}

func (h *Handler) validateStruct(v any) error {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", errValidation, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	return nil
}
