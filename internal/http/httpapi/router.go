// Package httpapi assembles the chi router for the service.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vitrinastudio/server/internal/http/handlers"
	"github.com/vitrinastudio/server/internal/middleware"
)

// Options configures the router's ambient middleware.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
}

// NewRouter builds the HTTP surface.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsUpload)
		r.Get("/", app.JobsList)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.JobGet)
			r.Delete("/", app.JobDelete)
			r.Post("/mode", app.JobSelectMode)
			r.Post("/generate", app.JobGenerate)
			r.Post("/cancel", app.JobCancel)
			r.Post("/reset", app.JobReset)
			r.Get("/artifacts/{index}", app.JobArtifact)
		})
	})

	r.Post("/v1/generate-all", app.GenerateAll)

	return r
}
