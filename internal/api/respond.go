package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/engine"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	// errBadRequest — тело запроса не разобралось как JSON.
	errBadRequest   = domain.NewError("BAD_REQUEST", domain.KindValidation, "malformed request body")
	errUserMismatch = domain.NewError("USER_NOT_PERMITTED", domain.KindResource, "token cannot act for this user")
)

type errorBody struct {
	Error     *domain.Error `json:"error"`
	RequestID string        `json:"request_id,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return de
		}
		return errBadRequest.With("%v", err)
	}
	return nil
}

// statusFor: класс ошибки определяет HTTP-статус, код уточняет его внутри класса.
func statusFor(e *domain.Error) int {
	switch e.Kind {
	case domain.KindValidation:
		if e.Code == errBadRequest.Code {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case domain.KindState:
		return http.StatusConflict
	case domain.KindResource:
		switch {
		case strings.HasSuffix(e.Code, "_NOT_FOUND"):
			return http.StatusNotFound
		case e.Code == domain.CodeInsufficientCredit, e.Code == domain.CodeLimitExceeded:
			return http.StatusPaymentRequired
		case e.Code == domain.CodeAgentBlocked, e.Code == errUserMismatch.Code:
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		s.logger.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", engine.TraceIDFrom(r.Context())),
			zap.Error(err),
		)
		de = domain.NewError("INTERNAL", "", "internal error")
	}

	status := statusFor(de)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{
		Error:     de,
		RequestID: middleware.GetReqID(r.Context()),
		TraceID:   engine.TraceIDFrom(r.Context()),
	})
}

// actsFor сверяет user_id запроса с sub токена вызывающей стороны.
func actsFor(r *http.Request, userID string) error {
	if c := auth.ClaimsFrom(r.Context()); c != nil && !c.ActsFor(userID) {
		return errUserMismatch.With("token subject %s cannot act for user %s", c.Subject, userID)
	}
	return nil
}

// writeResult: ожидание подтверждения — 202, остальные исходы — 200.
func writeResult(w http.ResponseWriter, res *engine.Result) {
	status := http.StatusOK
	if res.Status == engine.OutcomePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}
