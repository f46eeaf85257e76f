package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/provider"
	"github.com/digkill/PhotoForge/internal/repository"
)

// Outcome describes what one webhook delivery or poll did to a job.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeNoop means the signal lost a race or arrived after the job was terminal.
	OutcomeNoop Outcome = "noop"
)

// Reconciler applies provider results to jobs. Webhooks and polls share Apply, so both
// paths go through the same conditional transitions.
type Reconciler struct {
	cfg       config.Config
	log       *slog.Logger
	jobs      *repository.JobRepository
	providers provider.Registry
	finalizer *Finalizer
	now       func() time.Time
}

func NewReconciler(cfg config.Config, log *slog.Logger, jobs *repository.JobRepository, providers provider.Registry, finalizer *Finalizer) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		log:       log,
		jobs:      jobs,
		providers: providers,
		finalizer: finalizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile polls the provider for a processing job and applies the answer. A poll error
// leaves the job untouched and is returned wrapped in ErrProviderUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, jobID string) (*models.Job, Outcome, error) {
	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job == nil {
		return nil, "", fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if job.State != models.JobStateProcessing {
		return job, OutcomeNoop, nil
	}

	p, err := r.providers.Get(job.Provider)
	if err != nil {
		return job, "", err
	}

	timeout := r.cfg.PollTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := p.Poll(pollCtx, job.TrackingID)
	cancel()
	if err != nil {
		r.log.Warn("poll failed", "job_id", job.ID, "tracking_id", job.TrackingID, "provider", job.Provider, "stage", "poll", "err", err)
		return job, "", fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	r.log.Debug("poll result", "job_id", job.ID, "tracking_id", job.TrackingID, "provider", job.Provider,
		"status", res.Status, "raw_status", res.RawStatus, "terminal", res.Status.Terminal())

	outcome, err := r.Apply(ctx, job, res, "poll")
	if err != nil {
		return job, outcome, err
	}
	current, err := r.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return job, outcome, err
	}
	return current, outcome, nil
}

// HandleWebhook applies a generation callback body for providerName. Lookup failures are
// returned so the caller can answer 404/500; once the transition is attempted only the
// outcome is reported and errors are logged.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, body []byte) (Outcome, error) {
	p, err := r.providers.Get(providerName)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", providerName, ErrNotFound)
	}
	wp, ok := p.(provider.WebhookProvider)
	if !ok {
		return "", fmt.Errorf("provider %s accepts no webhooks: %w", providerName, ErrNotFound)
	}
	res, err := wp.ParseWebhook(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	job, err := r.jobs.GetByTrackingID(ctx, p.Name(), res.TrackingID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("tracking id %s: %w", res.TrackingID, ErrNotFound)
	}

	outcome, err := r.Apply(ctx, job, res, "webhook")
	if err != nil {
		r.log.Error("webhook apply failed", "job_id", job.ID, "tracking_id", res.TrackingID, "provider", p.Name(), "stage", "apply", "err", err)
	}
	return outcome, nil
}

// Apply moves job according to res. It is safe to call concurrently and repeatedly for
// the same job; only the first caller to win a conditional update has side effects.
func (r *Reconciler) Apply(ctx context.Context, job *models.Job, res *provider.Result, source string) (Outcome, error) {
	log := r.log.With("job_id", job.ID, "tracking_id", job.TrackingID, "provider", job.Provider, "source", source)

	if job.State.Terminal() {
		log.Debug("signal for finished job ignored", "state", job.State, "status", res.Status)
		return OutcomeNoop, nil
	}
	if job.State != models.JobStateProcessing {
		log.Warn("signal arrived before the tracking id was recorded", "state", job.State, "status", res.Status)
		return OutcomeNoop, nil
	}

	switch res.Status {
	case provider.StatusRunning:
		if source == "poll" {
			if err := r.jobs.Touch(ctx, job.ID, r.now()); err != nil {
				return OutcomeRunning, err
			}
		}
		return OutcomeRunning, nil

	case provider.StatusSucceeded:
		if res.OutputURL == "" {
			log.Warn("success without output", "stage", "apply")
			return r.fail(ctx, log, job, ErrMissingOutput.Error())
		}
		return r.finalizer.Finalize(ctx, job, res.OutputURL)

	case provider.StatusFailed, provider.StatusCanceled:
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("provider reported %s", res.Status)
		}
		return r.fail(ctx, log, job, msg)

	default:
		return OutcomeNoop, fmt.Errorf("unhandled provider status %q", res.Status)
	}
}

func (r *Reconciler) fail(ctx context.Context, log *slog.Logger, job *models.Job, msg string) (Outcome, error) {
	won, err := r.jobs.Fail(ctx, repository.FailParams{
		ID:      job.ID,
		From:    models.JobStateProcessing,
		Message: truncateError(msg),
		Now:     r.now(),
	})
	if err != nil {
		return OutcomeNoop, err
	}
	if !won {
		return OutcomeNoop, nil
	}
	log.Info("job failed", "error_message", truncateError(msg))
	return OutcomeFailed, nil
}
