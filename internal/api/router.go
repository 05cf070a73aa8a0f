package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the middleware stack and every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)
	r.Use(CORS(h.opts.AllowedOrigins))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	startLimit := StartRateLimit(h.opts.StartRateLimit)

	r.Route("/api/qr-codes/upload", func(r chi.Router) {
		r.Use(h.RequireAPIKey)
		r.With(startLimit).Post("/", h.StartBatch)
		r.Get("/stream", h.StreamBatch)
		r.Get("/ws", h.StreamBatchWS)
		r.Get("/{jobId}", h.JobStatus)
		r.Delete("/{jobId}", h.CancelJob)
	})

	r.Route("/api/check-in", func(r chi.Router) {
		// The terminal may send its key in the JSON body.
		r.With(startLimit).Post("/run", h.StartCheckIn)
		r.With(h.RequireAPIKey).Get("/stream", h.StreamCheckIn)
	})

	r.Post("/api/qr-image", h.QRImage)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)

		r.Post("/api/convert-pdf", h.QRImage)
		r.Get("/api/centers", h.Centers)
		r.Get("/api/students/by-center", h.StudentsByCenter)

		r.Route("/api/admin", func(r chi.Router) {
			r.Post("/r2/presign", h.PresignUpload)
			r.Post("/r2/upload", h.UploadObject)
			r.Post("/r2/clear", h.ClearObjects)
			r.Post("/upload-qr", h.UploadQR)
			r.Post("/confirm-qr-upload", h.ConfirmQRUpload)
			r.Get("/students", h.Students)
			r.Get("/qrcodes", h.QRCodes)
		})
	})

	return r
}
