// Package handlers exposes the presentation boundary: upload, mode selection,
// generation triggers, cancellation, reset, and artifact download. All
// orchestration semantics live in the orchestrator; handlers translate HTTP
// to those operations and job state back to JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/vitrinastudio/server/internal/domain"
	"github.com/vitrinastudio/server/internal/orchestrator"
	"github.com/vitrinastudio/server/internal/store"
)

// App bundles the dependencies shared by all handlers.
type App struct {
	Jobs           *store.Memory
	Orchestrator   *orchestrator.Orchestrator
	Logger         zerolog.Logger
	Validate       *validator.Validate
	MaxUploadBytes int64
}

// NewApp wires an App container.
func NewApp(jobs *store.Memory, orc *orchestrator.Orchestrator, logger zerolog.Logger, maxUploadBytes int64) *App {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	return &App{
		Jobs:           jobs,
		Orchestrator:   orc,
		Logger:         logger,
		Validate:       validator.New(validator.WithRequiredStructEnabled()),
		MaxUploadBytes: maxUploadBytes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// domainError maps the domain error taxonomy onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrJobBusy):
		a.error(w, http.StatusConflict, "busy", "generation already in flight for this job")
	case errors.Is(err, domain.ErrEmptyTheme):
		a.error(w, http.StatusBadRequest, "validation", "theme must not be empty")
	case errors.Is(err, domain.ErrEmptyVideoPrompt):
		a.error(w, http.StatusBadRequest, "validation", "video prompt must not be empty")
	case errors.Is(err, domain.ErrUnsupportedMode):
		a.error(w, http.StatusBadRequest, "validation", "unsupported generation mode")
	case errors.Is(err, domain.ErrNotTerminal):
		a.error(w, http.StatusConflict, "conflict", "job is not in a terminal state")
	case errors.Is(err, domain.ErrNoVideoInFlight):
		a.error(w, http.StatusConflict, "conflict", "no video generation in flight")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "conflict", "operation not allowed in the job's current state")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
