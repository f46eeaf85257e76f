package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/notify"
	"github.com/digkill/PhotoForge/internal/repository"
)

// defaultAlertTimeout bounds the operator alert sent before a payment webhook is acknowledged.
const defaultAlertTimeout = 3 * time.Second

// LedgerService is the only path through which payment events change account balances.
type LedgerService struct {
	provider string
	log      *slog.Logger
	accounts *repository.AccountRepository
	plans    *PlanService
	notifier notify.Notifier
	now      func() time.Time

	alertTimeout time.Duration
}

func NewLedgerService(providerName string, log *slog.Logger, accounts *repository.AccountRepository, plans *PlanService, notifier notify.Notifier) *LedgerService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &LedgerService{
		provider: providerName,
		log:      log,
		accounts: accounts,
		plans:    plans,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },

		alertTimeout: defaultAlertTimeout,
	}
}

// HandleWebhook parses a verified payment delivery and applies it. applied is false for
// replays and for event names without a ledger effect.
func (s *LedgerService) HandleWebhook(ctx context.Context, body []byte) (bool, error) {
	parsed, err := ParsePaymentEvent(s.provider, body, s.now())
	if err != nil {
		return false, err
	}
	if parsed.Event == nil {
		s.log.Info("payment event ignored", "event_name", parsed.Name)
		return false, nil
	}

	evt := parsed.Event
	if parsed.NeedsCredits {
		credits, err := s.plans.CreditsForVariant(ctx, parsed.VariantID)
		if err != nil {
			return false, fmt.Errorf("resolve plan credits: %w", err)
		}
		if credits > 0 {
			evt.CreditDelta = &credits
		} else {
			s.log.Warn("no credits resolved for paid event", "event_id", evt.EventID, "variant_id", parsed.VariantID)
		}
	}

	applied, err := s.Apply(ctx, evt)
	if err != nil {
		return false, err
	}

	alert := notify.FormatPayment(notify.Payment{
		Event:       evt,
		AmountMinor: parsed.AmountMinor,
		Currency:    parsed.Currency,
		Applied:     applied,
	})
	alertCtx, cancel := context.WithTimeout(ctx, s.alertTimeout)
	defer cancel()
	if err := s.notifier.Notify(alertCtx, alert); err != nil {
		s.log.Warn("payment alert not delivered", "event_id", evt.EventID, "err", err)
	}
	return applied, nil
}

// Apply records evt and its effect once per (provider, event id).
func (s *LedgerService) Apply(ctx context.Context, evt *models.FinancialEvent) (bool, error) {
	if evt.UserID == "" {
		return false, ErrMissingOwner
	}
	if evt.EventID == "" {
		return false, fmt.Errorf("%w: event id is required", ErrInvalidPayload)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.now()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = evt.CreatedAt
	}
	applied, err := s.accounts.ApplyEvent(ctx, evt)
	if err != nil {
		return false, err
	}
	log := s.log.With("provider", evt.Provider, "event_id", evt.EventID, "user_id", evt.UserID, "kind", evt.Kind)
	if applied {
		log.Info("financial event applied")
	} else {
		log.Info("financial event replay ignored")
	}
	return applied, nil
}
