package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/PhotoForge/internal/service"
)

// handleGenerationWebhook acknowledges with 200 whenever the transition was attempted, even
// when the job was already terminal or finalization failed. Only lookups that fail
// before that answer with an error status so the provider redelivers.
func (s *Server) handleGenerationWebhook(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "provider"))
	verifier, ok := s.deps.GenerationVerifiers[name]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := verifier.Verify(r.Header, body); err != nil {
		s.log.Warn("generation webhook rejected", "provider", name, "err", err, "request_id", requestID(r))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	outcome, err := s.deps.Reconciler.HandleWebhook(r.Context(), name, body)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.log.Warn("generation webhook for unknown job", "provider", name, "err", err)
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.deps.PaymentVerifier.Verify(r.Header, body); err != nil {
		s.log.Warn("payment webhook rejected", "err", err, "request_id", requestID(r))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	applied, err := s.deps.Ledger.HandleWebhook(r.Context(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}
