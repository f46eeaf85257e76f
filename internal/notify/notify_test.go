package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PhotoForge/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegram_Notify(t *testing.T) {
	fake := &fakeSender{}
	n := &Telegram{api: fake, chatID: 42}

	require.NoError(t, n.Notify(context.Background(), "hello"))
	require.Len(t, fake.sent, 1)
	msg := fake.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "hello", msg.Text)

	fake.err = errors.New("forbidden")
	require.Error(t, n.Notify(context.Background(), "again"))
}

type slowSender struct {
	release chan struct{}
}

func (s *slowSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-s.release
	return tgbotapi.Message{}, nil
}

func TestTelegram_NotifyHonorsDeadline(t *testing.T) {
	slow := &slowSender{release: make(chan struct{})}
	defer close(slow.release)
	n := &Telegram{api: slow, chatID: 42}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Notify(ctx, "hello")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewTelegram_DisabledWithoutChat(t *testing.T) {
	n, err := NewTelegram("", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
}

func TestFormatPayment(t *testing.T) {
	credits := 10
	status := models.SubscriptionActive
	expires := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	text := FormatPayment(Payment{
		Event: &models.FinancialEvent{
			Provider:              "lemonsqueezy",
			EventID:               "order_created:1",
			UserID:                "u1",
			Kind:                  models.EventPurchase,
			CreditDelta:           &credits,
			SubscriptionStatus:    &status,
			SubscriptionExpiresAt: &expires,
		},
		AmountMinor: 1999,
		Currency:    "usd",
		Applied:     true,
	})
	assert.Contains(t, text, "purchase via lemonsqueezy")
	assert.Contains(t, text, "amount: 19.99 USD")
	assert.Contains(t, text, "credits: +10")
	assert.Contains(t, text, "subscription: active until 2025-04-01")
	assert.NotContains(t, text, "duplicate")

	dup := FormatPayment(Payment{Event: &models.FinancialEvent{Provider: "lemonsqueezy", EventID: "x", Kind: models.EventPurchase}})
	assert.Contains(t, dup, "duplicate delivery")
}
