// Package api provides the HTTP surface of the upload coordinator.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/pkg/api/handlers"
	"github.com/ziplift/ziplift/pkg/upload"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - POST /upload/init - Create or resume an upload session
//   - POST /upload/chunk - Ingest one chunk (streamed multipart)
//   - GET /upload/{id}/status - Session progress snapshot
//   - GET /upload/{id}/contents - Archive entry listing (completed only)
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//
// Note: there is deliberately no router-level timeout on the chunk route;
// a slow client streaming a full chunk body is bounded by the server's
// read timeout instead.
func NewRouter(service *upload.Service) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(service)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	uploadHandler := handlers.NewUploadHandler(service)
	r.Route("/upload", func(r chi.Router) {
		r.Post("/init", uploadHandler.Init)
		r.Post("/chunk", uploadHandler.Chunk)
		r.Get("/{id}/status", uploadHandler.Status)
		r.Get("/{id}/contents", uploadHandler.Contents)
	})

	return r
}

// requestLogger logs each request through the structured logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Health probes log at DEBUG to keep the logs readable under k8s
		if strings.HasPrefix(r.URL.Path, "/health") {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
