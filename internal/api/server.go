// Package api — HTTP-поверхность движка: платежи агентов, подтверждения с устройства и операторские ручки.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/agentpay/internal/credential"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/engine"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"github.com/xela07ax/agentpay/internal/repository/postgres"
	"go.uber.org/zap"
)

// PaymentService — то, что HTTP-слою нужно от ядра (*engine.PaymentCore).
type PaymentService interface {
	AuthorizeAndSettle(ctx context.Context, req engine.PaymentRequest) (*engine.Result, error)
	ResolveApproval(ctx context.Context, approvalID string) (*engine.Result, error)
	SubmitAttestation(ctx context.Context, approvalID string, att *domain.Attestation) (*engine.Result, error)
	RejectApproval(ctx context.Context, approvalID, reason string) (*engine.Result, error)
	PendingApprovals(ctx context.Context) ([]*domain.ApprovalRequest, error)

	Quote(ctx context.Context, userID string, amount domain.Money) (*engine.QuoteResult, error)
	IssueToken(ctx context.Context, userID, alias string) (credential.Token, error)
	PaymentMethods(ctx context.Context, userID string, accepted []string) ([]string, error)
	CreditStatus(ctx context.Context, userID string) (*engine.CreditStatus, error)

	SpendLimits(userID string) domain.SpendPolicy
	SetSpendLimits(ctx context.Context, userID string, l domain.SpendLimits) (domain.SpendPolicy, error)
	Chargeback(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error)
	SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error
}

// DashboardSource — сводка для операторов (PostgreSQL). nil — ручка отвечает 404.
type DashboardSource interface {
	Summary(ctx context.Context) (*postgres.Dashboard, error)
}

type Server struct {
	router    *chi.Mux
	logger    *zap.Logger
	payments  PaymentService
	validator auth.TokenValidator
	dashboard DashboardSource
	gatherer  prometheus.Gatherer
}

func NewServer(payments PaymentService, validator auth.TokenValidator, dashboard DashboardSource, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("http-api"),
		payments:  payments,
		validator: validator,
		dashboard: dashboard,
		gatherer:  gatherer,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. Публичные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// --- 3. Защищенный периметр (RS256) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		// Агенты и платежные процессоры
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopePayments))
			r.Post("/v1/payments", s.authorize)
			r.Get("/v1/approvals/{id}", s.pollApproval)
			r.Post("/v1/quotes", s.quote)
			r.Post("/v1/credentials/tokens", s.issueToken)
			r.Get("/v1/accounts/{userID}/credit", s.creditStatus)
			r.Get("/v1/accounts/{userID}/methods", s.paymentMethods)
		})

		// Мобильное приложение пользователя
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeDevice))
			r.Post("/v1/approvals/{id}/attestation", s.attest)
			r.Post("/v1/approvals/{id}/reject", s.reject)
		})

		// Операторы
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeOperator))
			r.Get("/v1/approvals", s.pendingApprovals)
			r.Get("/v1/accounts/{userID}/limits", s.getLimits)
			r.Put("/v1/accounts/{userID}/limits", s.setLimits)
			r.Post("/v1/payments/{mandateID}/chargeback", s.chargeback)
			r.Post("/v1/agents/{id}/{action}", s.agentAction)
			r.Get("/v1/dashboard", s.dashboardStats)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
