// Package api is the HTTP surface of the check-in backend: job start and
// progress streaming, object store uploads, single QR uploads, roster reads
// and image resolution.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/services"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// BatchStarter starts mass QR upload jobs.
type BatchStarter interface {
	Start(ctx context.Context, src services.BatchSource) (string, error)
}

// CheckInStarter starts single check-in jobs.
type CheckInStarter interface {
	Start(ctx context.Context, req models.CheckInRequest) (string, error)
}

// QRUploader previews and confirms single QR uploads.
type QRUploader interface {
	Preview(ctx context.Context, pdf []byte, contentType string) (*models.QRUploadPreview, error)
	Confirm(ctx context.Context, up services.ConfirmUpload) (*models.QRUploadConfirmation, error)
}

// ImageResolver turns a QR link or student id into displayable data.
type ImageResolver interface {
	Resolve(ctx context.Context, req models.QRImageRequest) (*models.QRImageResponse, error)
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Auth     *auth.Authenticator
	Registry *jobs.Registry
	Batch    BatchStarter
	CheckIn  CheckInStarter
	QRUpload QRUploader
	Images   ImageResolver
	Objects  objectstore.Store
	Roster   roster.Store
}

// Options tune the HTTP layer.
type Options struct {
	AllowedOrigins []string
	// StartRateLimit is the per-IP limit on job start requests per minute.
	StartRateLimit int
	PresignTTL     time.Duration
	Heartbeat      time.Duration
	// MaxUploadBytes bounds multipart bodies.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 50 << 20

// Handler serves the API routes.
type Handler struct {
	deps     Deps
	opts     Options
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler.
func NewHandler(deps Deps, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = objectstore.DefaultPresignTTL
	}
	h := &Handler{
		deps:     deps,
		opts:     opts,
		validate: validator.New(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkWebSocketOrigin applies the CORS allowlist to WebSocket upgrades.
// Non-browser clients send no Origin and are let through; they still need
// the API key.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   h.deps.Registry.Len(),
	})
}
