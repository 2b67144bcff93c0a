package orchestrator

import (
	"context"

	"github.com/vitrinastudio/server/internal/domain"
	"github.com/vitrinastudio/server/internal/genai"
)

// pollVideo queries the provider for the operation state on a fixed interval
// until it reaches a terminal outcome or the context is cancelled. The
// interval is a floor: polls are never issued more frequently. Each
// non-terminal response refreshes the stored handle; every exit path stops the
// loop so no poller outlives its job.
func (o *Orchestrator) pollVideo(ctx context.Context, jobID string, op *genai.Operation) {
	for {
		if err := o.sleep(ctx, o.opts.PollInterval); err != nil {
			return
		}

		polled, err := o.gen.PollVideo(ctx, op)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if genai.IsTransient(err) {
				o.logger.Warn().Err(err).Str("job_id", jobID).Msg("orchestrator: video poll rate limited, keeping interval")
				continue
			}
			o.failJob(ctx, jobID, err)
			return
		}

		// A poll that raced a cancellation must not touch the job: the
		// job may already belong to a successor pipeline.
		if ctx.Err() != nil {
			return
		}

		op = polled
		if !op.Done {
			if _, err := o.store.Update(jobID, func(j *domain.Job) { j.OperationName = op.Name }); err != nil {
				o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: refresh operation handle failed")
				return
			}
			continue
		}

		switch {
		case op.Failure != nil:
			o.failJob(ctx, jobID, op.Failure)
		case op.VideoURI == "":
			// Done without a locator is fatal, distinct from "still processing".
			o.failJob(ctx, jobID, domain.ErrVideoNoResult)
		default:
			o.succeedVideo(ctx, jobID, o.gen.DownloadURL(op.VideoURI))
		}
		return
	}
}

func (o *Orchestrator) succeedVideo(ctx context.Context, jobID, videoURL string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.store.Transition(jobID, domain.StatusSuccessVideo, func(j *domain.Job) {
		j.VideoURL = videoURL
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: record video success failed")
		return
	}
	o.logger.Info().Str("job_id", jobID).Msg("orchestrator: video generation succeeded")
}

// CancelVideo stops the poll loop for a job with an in-flight video operation.
// The poll timer is cancelled immediately, the handle is discarded, and the
// job returns to pending; no further provider calls are made for the job.
func (o *Orchestrator) CancelVideo(jobID string) (*domain.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusProcessingVideo {
		return nil, domain.ErrNoVideoInFlight
	}

	o.mu.Lock()
	if p, ok := o.inflight[jobID]; ok {
		p.cancel()
		delete(o.inflight, jobID)
	}
	o.mu.Unlock()

	updated, err := o.store.Transition(jobID, domain.StatusPending, nil)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("job_id", jobID).Msg("orchestrator: video generation cancelled")
	return updated, nil
}
