package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/engine"
)

// POST /v1/payments
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req engine.PaymentRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.payments.AuthorizeAndSettle(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

// GET /v1/approvals/{id} — опрос агентом после pending_approval.
func (s *Server) pollApproval(w http.ResponseWriter, r *http.Request) {
	res, err := s.payments.ResolveApproval(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

type quoteRequest struct {
	UserID string       `json:"user_id"`
	Amount domain.Money `json:"amount"`
}

// POST /v1/quotes
func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := actsFor(r, req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.payments.Quote(r.Context(), req.UserID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Alias  string `json:"payment_method_alias"`
}

// POST /v1/credentials/tokens
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := actsFor(r, req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := s.payments.IssueToken(r.Context(), req.UserID, req.Alias)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// GET /v1/accounts/{userID}/credit
func (s *Server) creditStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := actsFor(r, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.payments.CreditStatus(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /v1/accounts/{userID}/methods?accepted=SOHO_CREDIT,CARD
func (s *Server) paymentMethods(w http.ResponseWriter, r *http.Request) {
	var accepted []string
	if raw := r.URL.Query().Get("accepted"); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				accepted = append(accepted, m)
			}
		}
	}
	userID := chi.URLParam(r, "userID")
	if err := actsFor(r, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	aliases, err := s.payments.PaymentMethods(r.Context(), userID, accepted)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_method_aliases": aliases})
}
