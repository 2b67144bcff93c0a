// Package orchestrator drives generation jobs through the provider: it owns
// the per-job state transitions, serializes thematic style calls with
// inter-call delays, wraps every provider call with retry, and runs the
// long-poll loop for video operations.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitrinastudio/server/internal/domain"
	"github.com/vitrinastudio/server/internal/genai"
	"github.com/vitrinastudio/server/internal/prompts"
	"github.com/vitrinastudio/server/internal/retry"
	"github.com/vitrinastudio/server/internal/store"
)

// Generator is the provider surface the orchestrator drives. *genai.Client
// satisfies it; tests substitute fakes.
type Generator interface {
	EditImage(ctx context.Context, req genai.ImageRequest) (genai.ImageResult, error)
	StartVideo(ctx context.Context, req genai.VideoRequest) (*genai.Operation, error)
	PollVideo(ctx context.Context, op *genai.Operation) (*genai.Operation, error)
	DownloadURL(uri string) string
}

var _ Generator = (*genai.Client)(nil)

// Options tunes the orchestration timings.
type Options struct {
	// Retry bounds each logical provider call.
	Retry retry.Policy
	// StyleDelay is the fixed wait between consecutive thematic style
	// calls for one job, keeping the provider rate limit honest.
	StyleDelay time.Duration
	// PollInterval is the fixed wait between video operation polls. Polls
	// are never issued more frequently than this.
	PollInterval time.Duration
	// CallTimeout bounds a single provider attempt, separate from retry
	// backoff, so a hung call cannot stall a job indefinitely.
	CallTimeout time.Duration
	// VideoAspectRatio and VideoResolution configure video output.
	VideoAspectRatio string
	VideoResolution  string
}

func (o *Options) applyDefaults() {
	if o.Retry.MaxAttempts == 0 && o.Retry.BaseDelay == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	if o.StyleDelay == 0 {
		o.StyleDelay = 5 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = 60 * time.Second
	}
}

// ErrClosed is returned by Generate once the orchestrator is shutting down.
var ErrClosed = errors.New("orchestrator: closed")

// pipeline identifies one running generation so deregistration can tell its
// own registry entry apart from a successor's for the same job.
type pipeline struct {
	cancel context.CancelFunc
}

// Orchestrator sequences generation calls for all jobs in the session.
type Orchestrator struct {
	store  *store.Memory
	gen    Generator
	logger zerolog.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*pipeline

	// sleep is context-aware and overridden in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. Close must be called on teardown so in-flight
// pipelines and poll loops stop.
func New(jobs *store.Memory, gen Generator, logger zerolog.Logger, opts Options) *Orchestrator {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    jobs,
		gen:      gen,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*pipeline),
		sleep:    sleepContext,
	}
}

// Close cancels every in-flight pipeline and poll loop and waits for them to
// stop. No provider calls are issued after Close returns. The mutex orders
// Close against Generate: once the root context is cancelled under the lock, a
// concurrent Generate cannot add to the wait group after Wait has started.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()
}

// SelectMode records the chosen mode on a job. A thematic selection without a
// theme parks the job in awaiting_theme; a video selection without a prompt
// parks it in awaiting_video_prompt. Selecting a mode on a finished job resets
// it first, same as Generate's retry affordance.
func (o *Orchestrator) SelectMode(jobID string, mode domain.Mode, theme, videoPrompt string) (*domain.Job, error) {
	if !mode.IsValid() {
		return nil, domain.ErrUnsupportedMode
	}
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.InFlight() {
		return nil, domain.ErrJobBusy
	}
	if job.Status.Terminal() {
		job, err = o.store.Transition(jobID, domain.StatusPending, nil)
		if err != nil {
			return nil, err
		}
	}

	theme = strings.TrimSpace(theme)
	videoPrompt = strings.TrimSpace(videoPrompt)
	target := domain.StatusPending
	switch {
	case mode == domain.ModeThematic && theme == "":
		target = domain.StatusAwaitingTheme
	case mode == domain.ModeVideo && videoPrompt == "":
		target = domain.StatusAwaitingVideoPrompt
	}

	mutate := func(j *domain.Job) {
		j.Mode = mode
		if theme != "" {
			j.Theme = theme
		}
		if videoPrompt != "" {
			j.VideoPrompt = videoPrompt
		}
	}
	if target == job.Status {
		return o.store.Update(jobID, func(j *domain.Job) { mutate(j) })
	}
	return o.store.Transition(jobID, target, mutate)
}

// GenerateInput carries the per-request parameters for starting a generation.
// Empty fields fall back to what the job already stores.
type GenerateInput struct {
	Mode        domain.Mode
	Theme       string
	VideoPrompt string
	Locale      string
}

// Generate validates the request, transitions the job into its processing
// state, and starts the pipeline in the background. A job already in flight is
// rejected; a job in a terminal state is reset first (the retry affordance).
func (o *Orchestrator) Generate(jobID string, in GenerateInput) (*domain.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, err
	}

	mode := in.Mode
	if mode == "" {
		mode = job.Mode
	}
	if !mode.IsValid() {
		return nil, domain.ErrUnsupportedMode
	}
	theme := strings.TrimSpace(in.Theme)
	if theme == "" {
		theme = strings.TrimSpace(job.Theme)
	}
	videoPrompt := strings.TrimSpace(in.VideoPrompt)
	if videoPrompt == "" {
		videoPrompt = strings.TrimSpace(job.VideoPrompt)
	}

	// Validation happens before any network call.
	switch mode {
	case domain.ModeThematic:
		if theme == "" {
			return nil, domain.ErrEmptyTheme
		}
	case domain.ModeVideo:
		if videoPrompt == "" {
			return nil, domain.ErrEmptyVideoPrompt
		}
	}

	target := domain.StatusProcessing
	if mode == domain.ModeVideo {
		target = domain.StatusProcessingVideo
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if _, busy := o.inflight[jobID]; busy {
		return nil, domain.ErrJobBusy
	}

	if job.Status.Terminal() {
		if _, err := o.store.Transition(jobID, domain.StatusPending, nil); err != nil {
			return nil, err
		}
	}

	updated, err := o.store.Transition(jobID, target, func(j *domain.Job) {
		j.Mode = mode
		j.Theme = theme
		j.VideoPrompt = videoPrompt
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && job.Status.InFlight() {
			return nil, domain.ErrJobBusy
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(o.ctx)
	p := &pipeline{cancel: cancel}
	o.inflight[jobID] = p
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.finish(jobID, p)
		switch mode {
		case domain.ModeCatalog:
			o.runCatalog(ctx, updated, in.Locale)
		case domain.ModeThematic:
			o.runThematic(ctx, updated, theme, in.Locale)
		case domain.ModeVideo:
			o.runVideo(ctx, updated, videoPrompt, in.Locale)
		}
	}()

	return updated, nil
}

// GenerateAll starts generation for every job that is not already in flight.
// Each job's pipeline is independent: one job failing to start never aborts
// its siblings.
func (o *Orchestrator) GenerateAll(in GenerateInput) (started []*domain.Job, failed map[string]error) {
	failed = make(map[string]error)
	for _, job := range o.store.List() {
		if job.Status.InFlight() {
			continue
		}
		updated, err := o.Generate(job.ID, in)
		if err != nil {
			failed[job.ID] = err
			continue
		}
		started = append(started, updated)
	}
	return started, failed
}

// Reset returns a terminal job to the initial pending state, discarding
// results and errors.
func (o *Orchestrator) Reset(jobID string) (*domain.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, domain.ErrNotTerminal
	}
	return o.store.Transition(jobID, domain.StatusPending, nil)
}

// finish releases a pipeline's own registration. The identity check matters:
// after a cancel the same job may already be running a successor pipeline, and
// a stale deferred finish must not tear that one down.
func (o *Orchestrator) finish(jobID string, p *pipeline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p.cancel()
	if o.inflight[jobID] == p {
		delete(o.inflight, jobID)
	}
}

func (o *Orchestrator) runCatalog(ctx context.Context, job *domain.Job, locale string) {
	instruction := prompts.CatalogInstruction(locale)
	result, err := o.editImage(ctx, job.Source, instruction)
	if err != nil {
		o.failJob(ctx, job.ID, err)
		return
	}
	o.succeedJob(ctx, job.ID, []domain.Artifact{{MIME: result.MIME, Data: result.Data}})
}

// runThematic issues one call per style variant, strictly in template order
// with a fixed delay between calls. A failing variant does not abort the rest:
// the partial set of successes is surfaced, and only zero successes is a hard
// failure.
func (o *Orchestrator) runThematic(ctx context.Context, job *domain.Job, theme, locale string) {
	variants := prompts.Variants()
	artifacts := make([]domain.Artifact, 0, len(variants))
	var lastErr error

	for i, variant := range variants {
		if i > 0 {
			if err := o.sleep(ctx, o.opts.StyleDelay); err != nil {
				return
			}
		}
		instruction := prompts.ThematicInstruction(locale, variant, theme)
		result, err := o.editImage(ctx, job.Source, instruction)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lastErr = err
			o.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("style", variant.Name).
				Msg("orchestrator: style variant failed")
			continue
		}
		artifacts = append(artifacts, domain.Artifact{MIME: result.MIME, Data: result.Data})
	}

	if len(artifacts) == 0 {
		o.failJob(ctx, job.ID, lastErr)
		return
	}
	if lastErr != nil {
		o.logger.Info().
			Str("job_id", job.ID).
			Int("succeeded", len(artifacts)).
			Int("requested", len(variants)).
			Msg("orchestrator: thematic batch finished partially")
	}
	o.succeedJob(ctx, job.ID, artifacts)
}

func (o *Orchestrator) runVideo(ctx context.Context, job *domain.Job, videoPrompt, locale string) {
	instruction := prompts.VideoInstruction(locale, videoPrompt)
	var op *genai.Operation
	err := retry.Do(ctx, o.opts.Retry, genai.IsTransient, func(ctx context.Context) error {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		started, err := o.gen.StartVideo(callCtx, genai.VideoRequest{
			ImageData:   job.Source.Data,
			MIME:        job.Source.MIME,
			Prompt:      instruction,
			AspectRatio: o.opts.VideoAspectRatio,
			Resolution:  o.opts.VideoResolution,
		})
		if err != nil {
			return err
		}
		op = started
		return nil
	})
	if err != nil {
		o.failJob(ctx, job.ID, err)
		return
	}

	if _, err := o.store.Update(job.ID, func(j *domain.Job) { j.OperationName = op.Name }); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: store operation handle failed")
		return
	}
	o.logger.Info().Str("job_id", job.ID).Str("operation", op.Name).Msg("orchestrator: video generation started")
	o.pollVideo(ctx, job.ID, op)
}

func (o *Orchestrator) editImage(ctx context.Context, src domain.SourceImage, instruction string) (genai.ImageResult, error) {
	var result genai.ImageResult
	err := retry.Do(ctx, o.opts.Retry, genai.IsTransient, func(ctx context.Context) error {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		res, err := o.gen.EditImage(callCtx, genai.ImageRequest{
			ImageData:   src.Data,
			MIME:        src.MIME,
			Instruction: instruction,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}

// failJob records the error on the job. Cancellation is not an error state:
// a cancelled pipeline leaves the job untouched for the next action.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	message := "generation failed"
	if cause != nil {
		message = cause.Error()
	}
	if _, err := o.store.Transition(jobID, domain.StatusError, func(j *domain.Job) {
		j.ErrorMessage = message
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: record failure failed")
		return
	}
	o.logger.Warn().Str("job_id", jobID).Str("error", message).Msg("orchestrator: job failed")
}

func (o *Orchestrator) succeedJob(ctx context.Context, jobID string, artifacts []domain.Artifact) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.store.Transition(jobID, domain.StatusSuccess, func(j *domain.Job) {
		j.Artifacts = artifacts
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: record success failed")
		return
	}
	o.logger.Info().Str("job_id", jobID).Int("artifacts", len(artifacts)).Msg("orchestrator: job succeeded")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
