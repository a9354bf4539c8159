package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/SYED-TAHER/mobile-dev/internal/metrics"
)

// NewRouter serves the public API: POST /upload only, with permissive CORS.
func NewRouter(upload *UploadHandler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use([]func(http.Handler) http.Handler{
		middleware.Logger,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"X-Request-ID"},
		}),
		metrics.Middleware,
	}...)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Post("/upload", upload.Upload)
	return r
}

// NewAdminRouter serves /metrics and the API docs.
func NewAdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	return r
}
