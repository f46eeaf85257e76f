package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/digkill/PhotoForge/internal/models"
)

// paymentWebhookSchema is the minimal shape every Lemon Squeezy delivery has.
const paymentWebhookSchema = `{
  "type": "object",
  "required": ["meta", "data"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["event_name"],
      "properties": {
        "event_name": {"type": "string", "minLength": 1},
        "custom_data": {"type": ["object", "null"]}
      }
    },
    "data": {
      "type": "object",
      "required": ["id", "attributes"],
      "properties": {
        "id": {"type": ["string", "integer"]},
        "type": {"type": "string"},
        "attributes": {"type": "object"}
      }
    }
  }
}`

var (
	paymentSchemaOnce sync.Once
	paymentSchema     *jsonschema.Schema
	paymentSchemaErr  error
)

func compiledPaymentSchema() (*jsonschema.Schema, error) {
	paymentSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payment_webhook.json", strings.NewReader(paymentWebhookSchema)); err != nil {
			paymentSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		paymentSchema, paymentSchemaErr = compiler.Compile("payment_webhook.json")
	})
	return paymentSchema, paymentSchemaErr
}

// PaymentEvent is a parsed delivery. Event is nil for event names that carry no ledger effect.
type PaymentEvent struct {
	Name        string
	Event       *models.FinancialEvent
	VariantID   string
	AmountMinor int64
	Currency    string
	// NeedsCredits is set when the event grants credits but custom_data carried no amount.
	NeedsCredits bool
}

type lsPayload struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         flexID `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status         string     `json:"status"`
			Total          int64      `json:"total"`
			Currency       string     `json:"currency"`
			VariantID      flexID     `json:"variant_id"`
			SubscriptionID flexID     `json:"subscription_id"`
			RenewsAt       *time.Time `json:"renews_at"`
			EndsAt         *time.Time `json:"ends_at"`
			CreatedAt      *time.Time `json:"created_at"`
			UpdatedAt      *time.Time `json:"updated_at"`
			FirstOrderItem struct {
				VariantID flexID `json:"variant_id"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParsePaymentEvent validates and decodes a payment webhook body into a ledger event.
// received stamps CreatedAt and stands in for a missing provider timestamp.
func ParsePaymentEvent(providerName string, body []byte, received time.Time) (*PaymentEvent, error) {
	schema, err := compiledPaymentSchema()
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var p lsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	attrs := p.Data.Attributes
	name := p.Meta.EventName
	out := &PaymentEvent{
		Name:        name,
		AmountMinor: attrs.Total,
		Currency:    attrs.Currency,
		VariantID:   firstNonEmpty(string(attrs.FirstOrderItem.VariantID), string(attrs.VariantID)),
	}

	occurred := received
	switch {
	case attrs.UpdatedAt != nil:
		occurred = attrs.UpdatedAt.UTC()
	case attrs.CreatedAt != nil:
		occurred = attrs.CreatedAt.UTC()
	}

	evt := &models.FinancialEvent{
		Provider:   providerName,
		OccurredAt: occurred,
		RawPayload: string(body),
		CreatedAt:  received,
	}
	dataID := string(p.Data.ID)
	credits, hasCredits := customCredits(p.Meta.CustomData)

	switch name {
	case "order_created":
		if attrs.Status != "" && attrs.Status != "paid" {
			return out, nil
		}
		evt.Kind = models.EventPurchase
		evt.EventID = name + ":" + dataID
		evt.Purchased = true
		if hasCredits {
			evt.CreditDelta = &credits
		} else {
			out.NeedsCredits = true
		}

	case "subscription_created":
		evt.Kind = models.EventSubscriptionCreated
		evt.EventID = name + ":" + dataID
		evt.Purchased = true
		evt.SubscriptionStatus = strPtr(firstNonEmpty(subscriptionStatus(attrs.Status), models.SubscriptionActive))
		evt.SubscriptionExpiresAt = firstTime(attrs.RenewsAt, attrs.EndsAt)

	case "subscription_updated", "subscription_resumed", "subscription_expired", "subscription_paused", "subscription_unpaused":
		evt.Kind = models.EventSubscriptionUpdated
		evt.EventID = name + ":" + dataID + ":" + occurred.Format(time.RFC3339Nano)
		status := subscriptionStatus(attrs.Status)
		if status == "" && name == "subscription_expired" {
			status = models.SubscriptionExpired
		}
		if status != "" {
			evt.SubscriptionStatus = strPtr(status)
		}
		if status == models.SubscriptionCancelled || status == models.SubscriptionExpired {
			evt.SubscriptionExpiresAt = firstTime(attrs.EndsAt, attrs.RenewsAt)
		} else {
			evt.SubscriptionExpiresAt = firstTime(attrs.RenewsAt, attrs.EndsAt)
		}

	case "subscription_cancelled":
		evt.Kind = models.EventSubscriptionCancelled
		evt.EventID = name + ":" + dataID + ":" + occurred.Format(time.RFC3339Nano)
		evt.SubscriptionStatus = strPtr(models.SubscriptionCancelled)
		evt.SubscriptionExpiresAt = firstTime(attrs.EndsAt, attrs.RenewsAt)

	case "subscription_payment_success":
		evt.Kind = models.EventSubscriptionRenewed
		evt.EventID = name + ":" + dataID
		evt.Purchased = true
		evt.SubscriptionStatus = strPtr(models.SubscriptionActive)
		if hasCredits {
			evt.CreditDelta = &credits
		} else {
			out.NeedsCredits = true
		}

	case "subscription_payment_recovered":
		evt.Kind = models.EventSubscriptionRenewed
		evt.EventID = name + ":" + dataID
		evt.SubscriptionStatus = strPtr(models.SubscriptionActive)

	case "subscription_payment_failed":
		evt.Kind = models.EventSubscriptionPaymentFailed
		evt.EventID = name + ":" + dataID
		evt.SubscriptionStatus = strPtr(models.SubscriptionPastDue)

	default:
		return out, nil
	}

	userID := strings.TrimSpace(customString(p.Meta.CustomData, "user_id"))
	if userID == "" {
		return nil, ErrMissingOwner
	}
	evt.UserID = userID
	out.Event = evt
	return out, nil
}

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

func subscriptionStatus(s string) string {
	switch s {
	case "unpaid":
		return models.SubscriptionPastDue
	default:
		return s
	}
}

// customCredits reads custom_data.credits, which checkout links pass as a string.
func customCredits(data map[string]any) (int, bool) {
	switch v := data["credits"].(type) {
	case float64:
		if v < 1 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil || n < 1 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func customString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil {
			t := v.UTC()
			return &t
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
