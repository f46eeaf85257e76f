// Package provider defines the capability interface every image generation backend
// implements. Reconciliation only depends on this package.
package provider

import (
	"context"
	"fmt"
	"strings"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the provider is done with the job.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// SubmitRequest carries one job to a provider.
type SubmitRequest struct {
	JobID       string
	SourceURL   string
	Style       string
	Module      string
	Prompt      string
	Watermark   bool
	CallbackURL string
}

// Result is the provider's view of a job, from either a poll or a webhook delivery.
type Result struct {
	TrackingID string
	Status     Status
	RawStatus  string
	OutputURL  string
	Error      string
}

type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, trackingID string) (*Result, error)
}

// WebhookProvider is implemented by providers that push completion callbacks.
type WebhookProvider interface {
	Provider
	ParseWebhook(body []byte) (*Result, error)
}

// Registry looks providers up by name.
type Registry map[string]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

// TruncateBody shortens provider response bodies for logs and error messages.
func TruncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
