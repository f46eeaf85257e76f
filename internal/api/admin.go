package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/PhotoForge/internal/service"
)

type planRequest struct {
	VariantID   string `json:"variant_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Credits     int    `json:"credits"`
	IsActive    *bool  `json:"is_active"`
}

type planUpdateRequest struct {
	VariantID   *string `json:"variant_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Credits     *int    `json:"credits"`
	IsActive    *bool   `json:"is_active"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	plan, err := s.deps.Plans.Create(r.Context(), service.CreatePlanInput{
		VariantID:   req.VariantID,
		Title:       req.Title,
		Description: req.Description,
		Credits:     req.Credits,
		IsActive:    req.IsActive,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			s.badRequest(w, err)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req planUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	plan, err := s.deps.Plans.Update(r.Context(), id, service.UpdatePlanInput{
		VariantID:   req.VariantID,
		Title:       req.Title,
		Description: req.Description,
		Credits:     req.Credits,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.deps.Plans.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSweep runs one poll sweep on demand.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		http.Error(w, "sweeper disabled", http.StatusNotFound)
		return
	}
	stats, err := s.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
