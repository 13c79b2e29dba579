package api

import (
	"net/http"
	"recorder/internal/health"
	"recorder/internal/observability"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Videos        Videos
	Jobs          Jobs
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	RateLimit     int // requests per minute per client IP on /v1, 0 disables
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Videos, cfg.Jobs, cfg.HealthChecker)

	r := chi.NewRouter()
	r.Use(RecoveryMiddleware())
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())

	// Probes stay unauthenticated.
	r.Get("/livez", h.Livez)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.Limit(cfg.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Use(AuthMiddleware(cfg.APIKey))

		r.Get("/videos/{videoId}", h.GetVideo)
		r.Get("/videos/{videoId}/job", h.GetVideoJob)
		r.Delete("/videos/{videoId}/job", h.DeleteVideoJob)
		r.Get("/jobs/{keyword}", h.GetJob)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
