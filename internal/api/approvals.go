package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentpay/internal/domain"
)

// POST /v1/approvals/{id}/attestation — тело: запись аттестации с устройства.
func (s *Server) attest(w http.ResponseWriter, r *http.Request) {
	var att domain.Attestation
	if err := decode(w, r, &att); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.payments.SubmitAttestation(r.Context(), chi.URLParam(r, "id"), &att)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// POST /v1/approvals/{id}/reject
func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if r.ContentLength > 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.payments.RejectApproval(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

// GET /v1/approvals — очередь ожидающих подтверждений.
func (s *Server) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := s.payments.PendingApprovals(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}
