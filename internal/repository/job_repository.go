package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/PhotoForge/internal/models"
)

// JobRepository persists jobs. Every state change is a conditional UPDATE keyed on the
// expected predecessor state; the boolean results report whether this caller won.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, provider, COALESCE(tracking_id, ''), source_url, style, module, prompt, state,
COALESCE(output_url, ''), COALESCE(error_message, ''), watermark, credits_charged, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.UserID, &j.Provider, &j.TrackingID, &j.SourceURL, &j.Style, &j.Module, &j.Prompt, &j.State,
		&j.OutputURL, &j.ErrorMessage, &j.Watermark, &j.CreditsCharged, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// Create inserts a pending job. When charge > 0 and the owner holds enough credits, the
// credits are deducted in the same transaction, recorded on the job, and the job is
// unwatermarked.
func (r *JobRepository) Create(ctx context.Context, job *models.Job, charge int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job tx: %w", err)
	}
	defer tx.Rollback()

	job.CreditsCharged = 0
	if charge > 0 {
		const consume = `
UPDATE accounts SET credits = credits - ?, updated_at = ?
WHERE user_id = ? AND credits >= ?`
		res, err := tx.ExecContext(ctx, consume, charge, job.CreatedAt, job.UserID, charge)
		if err != nil {
			return fmt.Errorf("consume credits: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume credits rows affected: %w", err)
		}
		if affected > 0 {
			job.CreditsCharged = charge
			job.Watermark = false
		}
	}

	const insert = `
INSERT INTO jobs (id, user_id, provider, source_url, style, module, prompt, state, watermark, credits_charged, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, job.ID, job.UserID, job.Provider, job.SourceURL, job.Style, job.Module, job.Prompt,
		models.JobStatePending, job.Watermark, job.CreditsCharged, job.CreatedAt, job.CreatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job tx: %w", err)
	}
	job.State = models.JobStatePending
	job.UpdatedAt = job.CreatedAt
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) GetByTrackingID(ctx context.Context, provider, trackingID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE provider = ? AND tracking_id = ?`, provider, trackingID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job by tracking id: %w", err)
	}
	return job, nil
}

// ListStale returns processing jobs not touched since before cutoff, oldest first.
func (r *JobRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	return r.listIdle(ctx, models.JobStateProcessing, cutoff, limit)
}

// ListAbandoned returns pending jobs created before cutoff. A job stays pending only when
// the process died between creating it and recording the provider's answer.
func (r *JobRepository) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	return r.listIdle(ctx, models.JobStatePending, cutoff, limit)
}

func (r *JobRepository) listIdle(ctx context.Context, state models.JobState, cutoff time.Time, limit int) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+`
FROM jobs WHERE state = ? AND updated_at < ?
ORDER BY updated_at ASC
LIMIT ?`, state, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", state, err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s job: %w", state, err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkProcessing records the provider tracking id on a pending job.
func (r *JobRepository) MarkProcessing(ctx context.Context, id, trackingID string, now time.Time) (bool, error) {
	const query = `
UPDATE jobs SET state = ?, tracking_id = ?, updated_at = ?
WHERE id = ? AND state = ?`
	return r.execConditional(ctx, "mark processing", query, models.JobStateProcessing, trackingID, now, id, models.JobStatePending)
}

// Touch bumps updated_at on a processing job so the sweep backs off after a failed poll.
func (r *JobRepository) Touch(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE jobs SET updated_at = ? WHERE id = ? AND state = ?`
	if _, err := r.db.ExecContext(ctx, query, now, id, models.JobStateProcessing); err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

// ClaimFinalize takes the finalization lease on a processing job. An existing claim is
// only taken over once it was made before leaseCutoff.
func (r *JobRepository) ClaimFinalize(ctx context.Context, id, token string, now, leaseCutoff time.Time) (bool, error) {
	const query = `
UPDATE jobs SET finalize_token = ?, finalize_claimed_at = ?, updated_at = ?
WHERE id = ? AND state = ? AND (finalize_token IS NULL OR finalize_claimed_at < ?)`
	return r.execConditional(ctx, "claim finalize", query, token, now, now, id, models.JobStateProcessing, leaseCutoff)
}

// Complete moves a processing job held under token to completed.
func (r *JobRepository) Complete(ctx context.Context, id, token, outputURL string, now time.Time) (bool, error) {
	const query = `
UPDATE jobs SET state = ?, output_url = ?, completed_at = ?, updated_at = ?, finalize_token = NULL
WHERE id = ? AND state = ? AND finalize_token = ?`
	return r.execConditional(ctx, "complete job", query, models.JobStateCompleted, outputURL, now, now, id, models.JobStateProcessing, token)
}

// FailParams selects which predecessor a failure transition is conditioned on.
type FailParams struct {
	ID      string
	From    models.JobState
	Token   string // when set, only the finalize claim holder may fail the job
	Message string
	Now     time.Time
}

// Fail moves a job from p.From to failed and, if this call won the transition, refunds
// the credits charged at submission in the same transaction.
func (r *JobRepository) Fail(ctx context.Context, p FailParams) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback()

	query := `
UPDATE jobs SET state = ?, error_message = ?, completed_at = ?, updated_at = ?, finalize_token = NULL
WHERE id = ? AND state = ?`
	args := []any{models.JobStateFailed, p.Message, p.Now, p.Now, p.ID, p.From}
	if p.Token != "" {
		query += ` AND finalize_token = ?`
		args = append(args, p.Token)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail job rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	var userID string
	var charged int
	row := tx.QueryRowContext(ctx, `SELECT user_id, credits_charged FROM jobs WHERE id = ?`, p.ID)
	if err := row.Scan(&userID, &charged); err != nil {
		return false, fmt.Errorf("load job charge: %w", err)
	}
	if charged > 0 {
		const refund = `UPDATE accounts SET credits = credits + ?, updated_at = ? WHERE user_id = ?`
		if _, err := tx.ExecContext(ctx, refund, charged, p.Now, userID); err != nil {
			return false, fmt.Errorf("refund credits: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit fail tx: %w", err)
	}
	return true, nil
}

func (r *JobRepository) execConditional(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected > 0, nil
}
