package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

// agentActions — операторские действия над агентом.
var agentActions = map[string]domain.AgentStatus{
	"block":      domain.AgentBlocked,
	"unblock":    domain.AgentActive,
	"quarantine": domain.AgentQuarantine,
	"sandbox":    domain.AgentSandbox,
}

// GET /v1/accounts/{userID}/limits
func (s *Server) getLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.payments.SpendLimits(chi.URLParam(r, "userID")))
}

// PUT /v1/accounts/{userID}/limits — частичное обновление, пустые поля не меняются.
func (s *Server) setLimits(w http.ResponseWriter, r *http.Request) {
	var req domain.SpendLimits
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.SetSpendLimits(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /v1/payments/{mandateID}/chargeback
func (s *Server) chargeback(w http.ResponseWriter, r *http.Request) {
	rc, err := s.payments.Chargeback(r.Context(), chi.URLParam(r, "mandateID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// POST /v1/agents/{id}/{action} — block, unblock, quarantine, sandbox.
func (s *Server) agentAction(w http.ResponseWriter, r *http.Request) {
	id, action := chi.URLParam(r, "id"), chi.URLParam(r, "action")
	status, ok := agentActions[action]
	if !ok {
		http.Error(w, "unknown agent action", http.StatusNotFound)
		return
	}
	if err := s.payments.SetAgentStatus(r.Context(), id, status); err != nil {
		s.writeError(w, r, err)
		return
	}

	operator := ""
	if c := auth.ClaimsFrom(r.Context()); c != nil {
		operator = c.ClientID
	}
	s.logger.Info("agent status set by operator",
		zap.String("agent_id", id), zap.String("status", string(status)), zap.String("operator", operator))
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": string(status)})
}

// GET /v1/dashboard
func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	if s.dashboard == nil {
		http.Error(w, "dashboard requires database", http.StatusNotFound)
		return
	}
	d, err := s.dashboard.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
