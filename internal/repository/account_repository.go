package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/PhotoForge/internal/database"
	"github.com/digkill/PhotoForge/internal/models"
)

// AccountRepository owns account balances and the financial event history that feeds them.
type AccountRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewAccountRepository(db *sql.DB, dialect database.Dialect) *AccountRepository {
	return &AccountRepository{db: db, dialect: dialect}
}

func (r *AccountRepository) Get(ctx context.Context, userID string) (*models.Account, error) {
	const query = `
SELECT user_id, credits, purchased, COALESCE(subscription_status, ''), subscription_expires_at, subscription_event_at, created_at, updated_at
FROM accounts WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var a models.Account
	var expiresAt, eventAt sql.NullTime
	if err := row.Scan(&a.UserID, &a.Credits, &a.Purchased, &a.SubscriptionStatus, &expiresAt, &eventAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.SubscriptionExpiresAt = nullTimePtr(expiresAt)
	a.SubscriptionEventAt = nullTimePtr(eventAt)
	return &a, nil
}

// Ensure creates an empty account row if none exists.
func (r *AccountRepository) Ensure(ctx context.Context, userID string, now time.Time) error {
	return r.ensure(ctx, r.db, userID, now)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *AccountRepository) ensure(ctx context.Context, ex execer, userID string, now time.Time) error {
	query := r.dialect.InsertIgnore() + ` INTO accounts (user_id, credits, purchased, created_at, updated_at) VALUES (?, 0, 0, ?, ?)`
	if _, err := ex.ExecContext(ctx, query, userID, now, now); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// ApplyEvent records evt and applies its effect to the owner's balance in one transaction.
// It returns false without touching the balance when (provider, event id) was seen before.
func (r *AccountRepository) ApplyEvent(ctx context.Context, evt *models.FinancialEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO financial_events (provider, event_id, user_id, kind, credit_delta, subscription_status, subscription_expires_at, purchased, occurred_at, raw_payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, evt.Provider, evt.EventID, evt.UserID, evt.Kind, nullInt(evt.CreditDelta),
		nullString(evt.SubscriptionStatus), nullTime(evt.SubscriptionExpiresAt), evt.Purchased, evt.OccurredAt, evt.RawPayload, evt.CreatedAt); err != nil {
		if database.IsDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert financial event: %w", err)
	}

	now := evt.CreatedAt
	if err := r.ensure(ctx, tx, evt.UserID, now); err != nil {
		return false, err
	}

	if evt.CreditDelta != nil && *evt.CreditDelta != 0 {
		const credit = `
UPDATE accounts SET credits = CASE WHEN credits + ? < 0 THEN 0 ELSE credits + ? END, updated_at = ?
WHERE user_id = ?`
		if _, err := tx.ExecContext(ctx, credit, *evt.CreditDelta, *evt.CreditDelta, now, evt.UserID); err != nil {
			return false, fmt.Errorf("apply credit delta: %w", err)
		}
	}

	if evt.Purchased {
		const purchased = `UPDATE accounts SET purchased = 1, updated_at = ? WHERE user_id = ?`
		if _, err := tx.ExecContext(ctx, purchased, now, evt.UserID); err != nil {
			return false, fmt.Errorf("set purchased: %w", err)
		}
	}

	if evt.SubscriptionStatus != nil {
		const subscription = `
UPDATE accounts
SET subscription_status = ?, subscription_expires_at = COALESCE(?, subscription_expires_at), subscription_event_at = ?, updated_at = ?
WHERE user_id = ? AND (subscription_event_at IS NULL OR subscription_event_at <= ?)`
		if _, err := tx.ExecContext(ctx, subscription, *evt.SubscriptionStatus, nullTime(evt.SubscriptionExpiresAt),
			evt.OccurredAt, now, evt.UserID, evt.OccurredAt); err != nil {
			return false, fmt.Errorf("apply subscription state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return true, nil
}

// ListEvents returns the most recent financial events for a user.
func (r *AccountRepository) ListEvents(ctx context.Context, userID string, limit int) ([]models.FinancialEvent, error) {
	const query = `
SELECT provider, event_id, user_id, kind, credit_delta, subscription_status, subscription_expires_at, purchased, occurred_at, created_at
FROM financial_events WHERE user_id = ?
ORDER BY occurred_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list financial events: %w", err)
	}
	defer rows.Close()

	var events []models.FinancialEvent
	for rows.Next() {
		var e models.FinancialEvent
		var delta sql.NullInt64
		var status sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.Provider, &e.EventID, &e.UserID, &e.Kind, &delta, &status, &expiresAt, &e.Purchased, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan financial event: %w", err)
		}
		if delta.Valid {
			d := int(delta.Int64)
			e.CreditDelta = &d
		}
		if status.Valid {
			s := status.String
			e.SubscriptionStatus = &s
		}
		e.SubscriptionExpiresAt = nullTimePtr(expiresAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
