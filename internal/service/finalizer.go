package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/repository"
	"github.com/digkill/PhotoForge/internal/storage"
)

var errNotImage = errors.New("artifact is not a supported image")

// Finalizer copies a provider's output into our object store and completes the job.
// Only the holder of the finalize claim does any I/O.
type Finalizer struct {
	cfg    config.Config
	log    *slog.Logger
	jobs   *repository.JobRepository
	store  storage.ObjectStore
	client *http.Client
	now    func() time.Time
}

func NewFinalizer(cfg config.Config, log *slog.Logger, jobs *repository.JobRepository, store storage.ObjectStore) *Finalizer {
	return &Finalizer{
		cfg:    cfg,
		log:    log,
		jobs:   jobs,
		store:  store,
		client: &http.Client{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (f *Finalizer) Finalize(ctx context.Context, job *models.Job, outputURL string) (Outcome, error) {
	// the artifact copy must outlive a webhook request or a poll deadline
	ctx = context.WithoutCancel(ctx)
	log := f.log.With("job_id", job.ID, "tracking_id", job.TrackingID, "provider", job.Provider)

	lease := f.cfg.FinalizeLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	token := uuid.NewString()
	now := f.now()
	claimed, err := f.jobs.ClaimFinalize(ctx, job.ID, token, now, now.Add(-lease))
	if err != nil {
		return OutcomeNoop, err
	}
	if !claimed {
		log.Debug("finalize already claimed or job no longer processing")
		return OutcomeNoop, nil
	}

	url, err := f.copyArtifact(ctx, job, outputURL)
	if err != nil {
		log.Error("finalize failed", "stage", "finalize", "err", err)
		won, ferr := f.jobs.Fail(ctx, repository.FailParams{
			ID:      job.ID,
			From:    models.JobStateProcessing,
			Token:   token,
			Message: truncateError("finalize: " + err.Error()),
			Now:     f.now(),
		})
		if ferr != nil {
			return OutcomeNoop, ferr
		}
		if !won {
			return OutcomeNoop, nil
		}
		return OutcomeFailed, nil
	}

	won, err := f.jobs.Complete(ctx, job.ID, token, url, f.now())
	if err != nil {
		return OutcomeNoop, err
	}
	if !won {
		log.Warn("finalize claim lost before completion", "output_url", url)
		return OutcomeNoop, nil
	}
	log.Info("job completed", "output_url", url)
	return OutcomeCompleted, nil
}

func (f *Finalizer) copyArtifact(ctx context.Context, job *models.Job, sourceURL string) (string, error) {
	data, contentType, err := f.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	url, err := f.store.Put(ctx, storage.JobKey(job.UserID, job.ID, contentType), data, contentType)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return url, nil
}

func (f *Finalizer) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	timeout := f.cfg.ArtifactTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download artifact: status %d", resp.StatusCode)
	}

	limit := f.cfg.ArtifactMaxBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("artifact exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return nil, "", errors.New("artifact is empty")
	}
	contentType, err := normalizeImageContentType(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
		if idx := strings.Index(ct, ";"); idx > 0 {
			ct = ct[:idx]
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	case "image/gif":
		return "image/gif", nil
	default:
		return "", errNotImage
	}
}
