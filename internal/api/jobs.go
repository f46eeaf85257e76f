package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/service"
)

type submitJobRequest struct {
	Provider  string `json:"provider"`
	SourceURL string `json:"source_url"`
	Style     string `json:"style"`
	Module    string `json:"module"`
	Prompt    string `json:"prompt"`
}

type jobResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	State        string     `json:"state"`
	OutputURL    string     `json:"output_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Watermark    bool       `json:"watermark"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		UserID:       j.UserID,
		Provider:     j.Provider,
		State:        string(j.State),
		OutputURL:    j.OutputURL,
		ErrorMessage: j.ErrorMessage,
		Watermark:    j.Watermark,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), ownerFrom(r.Context()), service.SubmitInput{
		Provider:  req.Provider,
		SourceURL: req.SourceURL,
		Style:     req.Style,
		Module:    req.Module,
		Prompt:    req.Prompt,
	})
	if err != nil {
		// the job exists and is failed; show it alongside the gateway error
		if errors.Is(err, service.ErrProviderUnavailable) && job != nil {
			s.writeJSON(w, http.StatusBadGateway, toJobResponse(job))
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleReconcileJob(w http.ResponseWriter, r *http.Request) {
	job, outcome, err := s.deps.Jobs.Reconcile(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job":     toJobResponse(job),
		"outcome": outcome,
	})
}

type accountResponse struct {
	UserID                string     `json:"user_id"`
	Credits               int        `json:"credits"`
	Purchased             bool       `json:"purchased"`
	SubscriptionStatus    string     `json:"subscription_status,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	SubscriptionActive    bool       `json:"subscription_active"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Accounts.Get(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accountResponse{
		UserID:                acct.UserID,
		Credits:               acct.Credits,
		Purchased:             acct.Purchased,
		SubscriptionStatus:    acct.SubscriptionStatus,
		SubscriptionExpiresAt: acct.SubscriptionExpiresAt,
		SubscriptionActive:    acct.SubscriptionActiveAt(time.Now().UTC()),
	})
}

type eventResponse struct {
	Provider           string           `json:"provider"`
	EventID            string           `json:"event_id"`
	Kind               models.EventKind `json:"kind"`
	CreditDelta        *int             `json:"credit_delta,omitempty"`
	SubscriptionStatus *string          `json:"subscription_status,omitempty"`
	Purchased          bool             `json:"purchased"`
	OccurredAt         time.Time        `json:"occurred_at"`
}

func (s *Server) handleListAccountEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.deps.Accounts.Events(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			Provider:           e.Provider,
			EventID:            e.EventID,
			Kind:               e.Kind,
			CreditDelta:        e.CreditDelta,
			SubscriptionStatus: e.SubscriptionStatus,
			Purchased:          e.Purchased,
			OccurredAt:         e.OccurredAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
