package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/provider"
	"github.com/digkill/PhotoForge/internal/repository"
)

// JobService submits jobs to providers and serves owner-facing job reads.
type JobService struct {
	cfg        config.Config
	log        *slog.Logger
	jobs       *repository.JobRepository
	accounts   *AccountService
	providers  provider.Registry
	reconciler *Reconciler
	now        func() time.Time
}

type SubmitInput struct {
	Provider  string
	SourceURL string
	Style     string
	Module    string
	Prompt    string
}

func NewJobService(cfg config.Config, log *slog.Logger, jobs *repository.JobRepository, accounts *AccountService, providers provider.Registry, reconciler *Reconciler) *JobService {
	return &JobService{
		cfg:        cfg,
		log:        log,
		jobs:       jobs,
		accounts:   accounts,
		providers:  providers,
		reconciler: reconciler,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a job for userID and hands it to the provider. The returned job is either
// processing, or failed with the submission error recorded; in the latter case the error
// wraps ErrProviderUnavailable.
func (s *JobService) Submit(ctx context.Context, userID string, in SubmitInput) (*models.Job, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}
	in.SourceURL = strings.TrimSpace(in.SourceURL)
	if in.SourceURL == "" {
		return nil, fmt.Errorf("%w: source_url is required", ErrInvalidPayload)
	}
	providerName := strings.ToLower(strings.TrimSpace(in.Provider))
	if providerName == "" {
		providerName = s.cfg.GenerationProvider
	}
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ent, err := s.accounts.Entitlement(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}
	charge := 0
	if s.cfg.CreditsPerJob > 0 && ent.Credits >= s.cfg.CreditsPerJob {
		charge = s.cfg.CreditsPerJob
	}
	if charge == 0 && !ent.Paid() && !s.cfg.FreeTierEnabled {
		return nil, ErrCreditsRequired
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  p.Name(),
		SourceURL: in.SourceURL,
		Style:     in.Style,
		Module:    in.Module,
		Prompt:    in.Prompt,
		Watermark: !ent.Paid(),
		CreatedAt: s.now(),
	}
	if err := s.jobs.Create(ctx, job, charge); err != nil {
		return nil, err
	}
	// the conditional charge can lose to a concurrent submit
	if charge > 0 && job.CreditsCharged == 0 && !ent.Paid() && !s.cfg.FreeTierEnabled {
		if _, err := s.jobs.Fail(ctx, repository.FailParams{ID: job.ID, From: models.JobStatePending, Message: ErrCreditsRequired.Error(), Now: s.now()}); err != nil {
			return nil, err
		}
		return nil, ErrCreditsRequired
	}

	req := provider.SubmitRequest{
		JobID:     job.ID,
		SourceURL: job.SourceURL,
		Style:     job.Style,
		Module:    job.Module,
		Prompt:    job.Prompt,
		Watermark: job.Watermark,
	}
	if _, ok := p.(provider.WebhookProvider); ok {
		req.CallbackURL = s.cfg.CallbackURL(p.Name())
	}

	log := s.log.With("job_id", job.ID, "provider", p.Name(), "user_id", userID)
	trackingID, submitErr := p.Submit(ctx, req)
	// the outcome must be recorded even if the caller went away during the provider call
	ctx = context.WithoutCancel(ctx)
	if submitErr == nil && trackingID == "" {
		submitErr = errors.New("provider returned no tracking id")
	}
	if submitErr != nil {
		log.Error("submit failed", "stage", "submit", "err", submitErr)
		if _, err := s.jobs.Fail(ctx, repository.FailParams{
			ID:      job.ID,
			From:    models.JobStatePending,
			Message: truncateError("submit: " + submitErr.Error()),
			Now:     s.now(),
		}); err != nil {
			return nil, err
		}
		failed, err := s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		return failed, fmt.Errorf("%w: %w", ErrProviderUnavailable, submitErr)
	}

	ok, err := s.jobs.MarkProcessing(ctx, job.ID, trackingID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("job left pending before tracking id was recorded", "tracking_id", trackingID)
	}
	log.Info("job submitted", "tracking_id", trackingID, "watermark", job.Watermark, "credits_charged", job.CreditsCharged, "webhook", req.CallbackURL != "")
	return s.jobs.GetByID(ctx, job.ID)
}

// Get returns the owner's job. When it has been processing longer than PollAfter the
// provider is polled first; a failed poll still returns the stored job.
func (s *JobService) Get(ctx context.Context, userID, jobID string) (*models.Job, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateProcessing || s.now().Sub(job.UpdatedAt) < s.cfg.PollAfter {
		return job, nil
	}
	reconciled, _, err := s.reconciler.Reconcile(ctx, job.ID)
	if err != nil {
		s.log.Warn("status poll failed", "job_id", job.ID, "tracking_id", job.TrackingID, "provider", job.Provider, "err", err)
		return job, nil
	}
	return reconciled, nil
}

// Reconcile forces a provider poll for the owner's job.
func (s *JobService) Reconcile(ctx context.Context, userID, jobID string) (*models.Job, Outcome, error) {
	if _, err := s.owned(ctx, userID, jobID); err != nil {
		return nil, "", err
	}
	return s.reconciler.Reconcile(ctx, jobID)
}

func (s *JobService) owned(ctx context.Context, userID, jobID string) (*models.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthorized
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

func truncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= models.MaxErrorLength {
		return msg
	}
	return string(r[:models.MaxErrorLength])
}
