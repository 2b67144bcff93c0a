package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vitrinastudio/server/internal/domain"
	"github.com/vitrinastudio/server/internal/middleware"
	"github.com/vitrinastudio/server/internal/orchestrator"
)

type jobResponse struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	MIME          string    `json:"mime"`
	Status        string    `json:"status"`
	Mode          string    `json:"mode,omitempty"`
	Theme         string    `json:"theme,omitempty"`
	VideoPrompt   string    `json:"video_prompt,omitempty"`
	ArtifactCount int       `json:"artifact_count"`
	VideoURL      string    `json:"video_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		Filename:      j.Source.Filename,
		MIME:          j.Source.MIME,
		Status:        string(j.Status),
		Mode:          string(j.Mode),
		Theme:         j.Theme,
		VideoPrompt:   j.VideoPrompt,
		ArtifactCount: len(j.Artifacts),
		VideoURL:      j.VideoURL,
		Error:         j.ErrorMessage,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

var allowedUploadMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// JobsUpload accepts one or more images in a multipart form; each file part
// named "images" becomes one job in the pending state.
func (a *App) JobsUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		a.error(w, http.StatusBadRequest, "validation", "at least one image file part named \"images\" is required")
		return
	}

	created := make([]jobResponse, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable file part")
			return
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable file part")
			return
		}

		mime := header.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		if !allowedUploadMIME[mime] {
			a.error(w, http.StatusUnsupportedMediaType, "validation", fmt.Sprintf("unsupported image type %q", mime))
			return
		}

		job := domain.NewJob(uuid.NewString(), domain.SourceImage{
			Filename: header.Filename,
			MIME:     mime,
			Data:     data,
		})
		a.Jobs.Create(job)
		a.Logger.Info().Str("job_id", job.ID).Str("filename", job.Source.Filename).Msg("handlers: job created")
		created = append(created, toJobResponse(job))
	}

	a.json(w, http.StatusCreated, map[string]any{"jobs": created})
}

// JobsList returns all jobs in creation order.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	jobs := a.Jobs.List()
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, toJobResponse(job))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": items})
}

// JobGet returns one job.
func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// JobDelete discards a job entirely.
func (a *App) JobDelete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if job, err := a.Jobs.Get(jobID); err == nil && job.Status == domain.StatusProcessingVideo {
		_, _ = a.Orchestrator.CancelVideo(jobID)
	}
	if err := a.Jobs.Delete(jobID); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modeRequest struct {
	Mode        string `json:"mode" validate:"required,oneof=catalog thematic video"`
	Theme       string `json:"theme" validate:"omitempty,max=120"`
	VideoPrompt string `json:"video_prompt" validate:"omitempty,max=500"`
}

// JobSelectMode records the chosen generation mode for a job.
func (a *App) JobSelectMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	job, err := a.Orchestrator.SelectMode(chi.URLParam(r, "job_id"), domain.Mode(req.Mode), req.Theme, req.VideoPrompt)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

type generateRequest struct {
	Mode        string `json:"mode" validate:"omitempty,oneof=catalog thematic video"`
	Theme       string `json:"theme" validate:"omitempty,max=120"`
	VideoPrompt string `json:"video_prompt" validate:"omitempty,max=500"`
}

// JobGenerate starts generation for one job and returns immediately; the
// client observes progress by polling the job resource.
func (a *App) JobGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
		if err := a.Validate.Struct(req); err != nil {
			a.error(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
	}
	job, err := a.Orchestrator.Generate(chi.URLParam(r, "job_id"), orchestrator.GenerateInput{
		Mode:        domain.Mode(req.Mode),
		Theme:       req.Theme,
		VideoPrompt: req.VideoPrompt,
		Locale:      middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

type generateAllRequest struct {
	Mode  string `json:"mode" validate:"required,oneof=catalog thematic video"`
	Theme string `json:"theme" validate:"omitempty,max=120"`
}

// GenerateAll starts generation for every eligible job. Failures are reported
// per job and never abort the rest of the batch.
func (a *App) GenerateAll(w http.ResponseWriter, r *http.Request) {
	var req generateAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	started, failed := a.Orchestrator.GenerateAll(orchestrator.GenerateInput{
		Mode:   domain.Mode(req.Mode),
		Theme:  req.Theme,
		Locale: middleware.LocaleFromContext(r.Context()),
	})
	items := make([]jobResponse, 0, len(started))
	for _, job := range started {
		items = append(items, toJobResponse(job))
	}
	errs := make(map[string]string, len(failed))
	for id, err := range failed {
		errs[id] = err.Error()
	}
	a.json(w, http.StatusAccepted, map[string]any{"started": items, "failed": errs})
}

// JobCancel stops an in-flight video generation.
func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orchestrator.CancelVideo(chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// JobReset returns a terminal job to the pending state.
func (a *App) JobReset(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orchestrator.Reset(chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// JobArtifact streams one generated image for download or display.
func (a *App) JobArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(job.Artifacts) {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	artifact := job.Artifacts[index]
	w.Header().Set("Content-Type", artifact.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	_, _ = w.Write(artifact.Data)
}
