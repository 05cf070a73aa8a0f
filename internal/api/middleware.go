package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// RequestIDWithLogging assigns an X-Request-ID (keeping a client supplied
// one), echoes it on the response and logs one line per request.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withID := chimiddleware.RequestID(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(chimiddleware.RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(chimiddleware.RequestIDHeader, requestID)
			}
			w.Header().Set(chimiddleware.RequestIDHeader, requestID)

			ww := wrapWriter(w, r)
			start := time.Now()
			withID.ServeHTTP(ww, r)

			slog.Info("HTTP request.",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestId", requestID,
			)
		})
	}
}

// wrapWriter reuses an existing status-recording writer so streaming
// handlers see at most one wrapper layer.
func wrapWriter(w http.ResponseWriter, r *http.Request) chimiddleware.WrapResponseWriter {
	if ww, ok := w.(chimiddleware.WrapResponseWriter); ok {
		return ww
	}
	return chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
}

// PrometheusMetrics records request counts and latency by route pattern.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := wrapWriter(w, r)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, route, status, time.Since(start))
	})
}

// CORS builds the go-chi/cors handler for the allowed origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			auth.APIKeyHeader, chimiddleware.RequestIDHeader,
			headerGoogleAccessToken, headerGoogleRefreshToken,
		},
		ExposedHeaders:   []string{chimiddleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// StartRateLimit limits job start requests per client IP per minute.
func StartRateLimit(requests int) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusTooManyRequests, errorBody(r, "too many requests", "RATE_LIMITED"))
		}),
	)
}

// RequireAPIKey rejects requests without the shared API key in the
// X-API-Key header or apiKey query parameter.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.deps.Auth.CheckAPIKey(auth.APIKeyFromRequest(r)); err != nil {
			respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession validates the bearer session token and stores its claims
// in the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.deps.Auth.ValidateSession(auth.BearerToken(r))
		if err != nil {
			respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}
