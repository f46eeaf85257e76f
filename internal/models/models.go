package models

import "time"

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transition is allowed from the state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// MaxErrorLength bounds the provider error text persisted on a job.
const MaxErrorLength = 1000

type Job struct {
	ID             string
	UserID         string
	Provider       string
	TrackingID     string
	SourceURL      string
	Style          string
	Module         string
	Prompt         string
	State          JobState
	OutputURL      string
	ErrorMessage   string
	Watermark      bool
	CreditsCharged int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

type EventKind string

const (
	EventPurchase                  EventKind = "purchase"
	EventSubscriptionCreated       EventKind = "subscription_created"
	EventSubscriptionRenewed       EventKind = "subscription_renewed"
	EventSubscriptionUpdated       EventKind = "subscription_updated"
	EventSubscriptionCancelled     EventKind = "subscription_cancelled"
	EventSubscriptionPaymentFailed EventKind = "subscription_payment_failed"
)

const (
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// FinancialEvent is one distinct payment notification, deduplicated by (Provider, EventID).
type FinancialEvent struct {
	Provider              string
	EventID               string
	UserID                string
	Kind                  EventKind
	CreditDelta           *int
	SubscriptionStatus    *string
	SubscriptionExpiresAt *time.Time
	Purchased             bool
	OccurredAt            time.Time
	RawPayload            string
	CreatedAt             time.Time
}

type Account struct {
	UserID                string
	Credits               int
	Purchased             bool
	SubscriptionStatus    string
	SubscriptionExpiresAt *time.Time
	SubscriptionEventAt   *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SubscriptionActiveAt reports whether the subscription grants entitlement at now.
func (a Account) SubscriptionActiveAt(now time.Time) bool {
	switch a.SubscriptionStatus {
	case SubscriptionActive, "on_trial":
	case SubscriptionCancelled:
		// cancelled subscriptions stay usable until the paid period ends
	default:
		return false
	}
	if a.SubscriptionExpiresAt == nil {
		return a.SubscriptionStatus != SubscriptionCancelled
	}
	return a.SubscriptionExpiresAt.After(now)
}

// Plan maps a payment provider variant to the credits it grants.
type Plan struct {
	ID          int64
	VariantID   string
	Title       string
	Description string
	Credits     int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
