// Package notify sends operator alerts. Delivery is best effort: callers log failures and
// never let them affect ledger state.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/PhotoForge/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert. Used when no alert channel is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// sendTimeout bounds one Bot API round trip.
const sendTimeout = 10 * time.Second

type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

// NewTelegram connects to the Bot API with token. A zero chatID yields a Nop notifier.
func NewTelegram(token string, chatID int64, log *slog.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		return Nop{}, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	if log != nil {
		log.Info("telegram alerts enabled", "bot", api.Self.UserName, "chat_id", chatID)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// Notify returns when the message is sent or ctx is done, whichever comes first. The Bot
// API call itself takes no context, so an abandoned send finishes in the background.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send telegram alert: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send telegram alert: %w", ctx.Err())
	}
}

// Payment is what an operator sees about one financial event.
type Payment struct {
	Event       *models.FinancialEvent
	AmountMinor int64
	Currency    string
	Applied     bool
}

// FormatPayment renders a financial event alert. Amounts arrive in minor units.
func FormatPayment(p Payment) string {
	var b strings.Builder
	evt := p.Event
	fmt.Fprintf(&b, "%s via %s\n", evt.Kind, evt.Provider)
	fmt.Fprintf(&b, "user: %s\n", evt.UserID)
	fmt.Fprintf(&b, "event: %s\n", evt.EventID)
	if p.AmountMinor != 0 {
		amount := decimal.New(p.AmountMinor, -2).StringFixed(2)
		fmt.Fprintf(&b, "amount: %s %s\n", amount, strings.ToUpper(p.Currency))
	}
	if evt.CreditDelta != nil {
		fmt.Fprintf(&b, "credits: %+d\n", *evt.CreditDelta)
	}
	if evt.SubscriptionStatus != nil {
		fmt.Fprintf(&b, "subscription: %s", *evt.SubscriptionStatus)
		if evt.SubscriptionExpiresAt != nil {
			fmt.Fprintf(&b, " until %s", evt.SubscriptionExpiresAt.UTC().Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	if !p.Applied {
		b.WriteString("duplicate delivery, no change")
	}
	return strings.TrimRight(b.String(), "\n")
}
