package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/approval"
	"github.com/xela07ax/agentpay/internal/bnpl"
	"github.com/xela07ax/agentpay/internal/credential"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/events"
	"github.com/xela07ax/agentpay/internal/ledger"
	"github.com/xela07ax/agentpay/internal/limits"
	"github.com/xela07ax/agentpay/internal/lock"
	"github.com/xela07ax/agentpay/internal/mandate"
	"github.com/xela07ax/agentpay/internal/policy"
	"github.com/xela07ax/agentpay/internal/settlement"
	"go.uber.org/zap"
)

// Outcome — внешний статус платежа.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomePending  Outcome = "pending_approval"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
)

// PaymentRequest — цепочка мандатов от агента. IntentMandate необязателен.
type PaymentRequest struct {
	Intent  *domain.IntentMandate `json:"intent_mandate,omitempty"`
	Cart    domain.CartMandate    `json:"cart_mandate"`
	Payment domain.PaymentMandate `json:"payment_mandate"`
}

// Result — квитанция (approved) либо handle запроса подтверждения.
type Result struct {
	Status   Outcome                 `json:"status"`
	Receipt  *domain.PaymentReceipt  `json:"receipt,omitempty"`
	Approval *domain.ApprovalRequest `json:"approval,omitempty"`
}

// Deps — компоненты, из которых собирается ядро.
type Deps struct {
	Validator  *mandate.Validator
	Quotes     *bnpl.Engine
	Tokens     *credential.Service
	Directory  credential.AccountDirectory
	Approvals  *approval.Machine
	Settlement *settlement.Executor
	Ledger     ledger.Ledger
	Limits     *policy.MemoLimits
	Spend      limits.Counter
	Agents     *AgentStateManager
	Locker     lock.Locker
	Events     events.Publisher
	Metrics    *Metrics
	Logger     *zap.Logger
}

// PaymentCore — оркестратор: мандаты → токен → step-up → расчет.
// Ожидание подтверждения не блокирует вызов: AuthorizeAndSettle возвращает handle,
// расчет продолжается в ResolveApproval / SubmitAttestation.
type PaymentCore struct {
	validator  *mandate.Validator
	quotes     *bnpl.Engine
	tokens     *credential.Service
	directory  credential.AccountDirectory
	approvals  *approval.Machine
	settlement *settlement.Executor
	ledger     ledger.Ledger
	limits     *policy.MemoLimits
	spend      limits.Counter
	agents     *AgentStateManager
	locker     lock.Locker
	events     events.Publisher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewPaymentCore(d Deps) *PaymentCore {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Events == nil {
		d.Events = events.Fanout{}
	}
	return &PaymentCore{
		validator:  d.Validator,
		quotes:     d.Quotes,
		tokens:     d.Tokens,
		directory:  d.Directory,
		approvals:  d.Approvals,
		settlement: d.Settlement,
		ledger:     d.Ledger,
		limits:     d.Limits,
		spend:      d.Spend,
		agents:     d.Agents,
		locker:     d.Locker,
		events:     d.Events,
		metrics:    d.Metrics,
		logger:     d.Logger.Named("core"),
		now:        time.Now,
	}
}

// settleTarget — все, что нужно для расчета, независимо от того, пришли мы из авторизации или из подтверждения.
type settleTarget struct {
	MandateID  string
	UserID     string
	AgentID    string
	BorrowerID string
	MerchantID string
	Amount     domain.Money
	Plan       domain.PaymentPlan
	Approval   *domain.ApprovalRequest
}

// AuthorizeAndSettle — вход платежа. Повтор уже рассчитанного мандата возвращает ту же квитанцию.
func (p *PaymentCore) AuthorizeAndSettle(ctx context.Context, req PaymentRequest) (res *Result, err error) {
	start := time.Now()
	defer func() { p.observe("authorize", start, res, err) }()

	pm, cart := req.Payment, req.Cart
	base := domain.PaymentEvent{MandateID: pm.ID, AgentID: pm.AgentID, Amount: cart.Contents.Total}

	if strings.TrimSpace(pm.ID) == "" {
		return nil, p.fail(ctx, base, domain.ErrMalformedMandate.With("payment mandate id is empty"))
	}

	rc, err := p.settlement.Receipt(ctx, pm.ID)
	switch {
	case err == nil:
		return &Result{Status: OutcomeApproved, Receipt: rc}, nil
	case !errors.Is(err, domain.ErrReceiptNotFound):
		return nil, err
	}

	// 1. Kill-Switch (самый дешевый, in-memory)
	if p.agents.IsBlocked(pm.AgentID) {
		return nil, p.fail(ctx, base, domain.ErrAgentBlocked.With("agent %s", pm.AgentID))
	}

	// 2. Цепочка мандатов
	if req.Intent != nil {
		if err := mandate.ValidateIntent(*req.Intent, cart); err != nil {
			return nil, p.fail(ctx, base, err)
		}
	}
	if err := p.validator.Validate(ctx, cart, pm); err != nil {
		return nil, p.fail(ctx, base, err)
	}

	// 3. Токен способа оплаты: одноразовая привязка к мандату
	info, err := p.tokens.Verify(ctx, pm.CredentialToken, pm.ID)
	if err != nil {
		return nil, p.fail(ctx, base, err)
	}
	if !strings.EqualFold(info.Type, pm.Method) {
		return nil, p.fail(ctx, base, domain.ErrMethodNotAccepted.With("token is for %s, mandate names %s", info.Type, pm.Method))
	}
	if info.PlanID != "" && info.PlanID != pm.Plan.ID {
		return nil, p.fail(ctx, base, domain.ErrPlanMismatch.With("token plan %s, mandate plan %s", info.PlanID, pm.Plan.ID))
	}

	// 4. План должен выводиться из суммы корзины
	plan, err := p.quotes.Check(pm.Plan, cart.Contents.Total, pm.CreatedAt)
	if err != nil {
		return nil, p.fail(ctx, base, err)
	}

	acct, err := p.directory.Account(ctx, info.UserID)
	if err != nil {
		return nil, p.fail(ctx, base, err)
	}
	pol := p.limits.Get(info.UserID)
	amount := cart.Contents.Total

	if caps := limits.CapsOf(pol); caps.PerTransaction > 0 && amount.Minor > caps.PerTransaction {
		return nil, p.fail(ctx, base, domain.ErrLimitExceeded.With("amount %s exceeds per-transaction limit %s", amount, pol.PerTransaction))
	}

	// 5. Step-up
	dec, err := p.approvals.Decide(ctx, approval.Input{
		MandateID:   pm.ID,
		UserID:      info.UserID,
		AgentID:     pm.AgentID,
		BorrowerID:  info.BorrowerID,
		MerchantID:  cart.Contents.MerchantID,
		DeviceID:    acct.DeviceID,
		Amount:      amount,
		Plan:        plan,
		Policy:      pol,
		Attestation: pm.UserAuthorization,
		MandateAt:   pm.CreatedAt,
		Quarantined: p.agents.IsQuarantined(pm.AgentID),
	})
	if err != nil {
		return nil, p.fail(ctx, base, err)
	}

	switch dec.Status {
	case domain.StatusPendingApproval:
		p.metrics.Approvals.WithLabelValues(string(domain.StatusPendingApproval)).Inc()
		base.ApprovalID = dec.Request.ID
		base.Status = string(domain.StatusPendingApproval)
		p.emit(ctx, domain.EventPaymentPending, base)
		return &Result{Status: OutcomePending, Approval: dec.Request}, nil
	case domain.StatusRejected, domain.StatusExpired:
		return p.terminated(ctx, dec.Request), nil
	}

	// 6. APPROVED: сразу или ранее подтвержденный запрос
	return p.settle(ctx, settleTarget{
		MandateID:  pm.ID,
		UserID:     info.UserID,
		AgentID:    pm.AgentID,
		BorrowerID: info.BorrowerID,
		MerchantID: cart.Contents.MerchantID,
		Amount:     amount,
		Plan:       plan,
		Approval:   dec.Request,
	})
}

// ResolveApproval — опрос запроса подтверждения. Когда он APPROVED, расчет выполняется ровно один раз.
func (p *PaymentCore) ResolveApproval(ctx context.Context, approvalID string) (res *Result, err error) {
	start := time.Now()
	defer func() { p.observe("resolve", start, res, err) }()

	req, err := p.approvals.Status(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.StatusPendingApproval:
		return &Result{Status: OutcomePending, Approval: req}, nil
	case domain.StatusRejected, domain.StatusExpired:
		return p.terminated(ctx, req), nil
	}

	return p.settle(ctx, settleTarget{
		MandateID:  req.MandateID,
		UserID:     req.UserID,
		AgentID:    req.AgentID,
		BorrowerID: req.BorrowerID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Plan:       req.Plan,
		Approval:   req,
	})
}

// SubmitAttestation — событие с устройства. Подтверждение сразу продолжает поток расчета.
func (p *PaymentCore) SubmitAttestation(ctx context.Context, approvalID string, att *domain.Attestation) (*Result, error) {
	req, err := p.approvals.Attest(ctx, approvalID, att)
	if err != nil {
		p.countError(err)
		return nil, err
	}
	if req.Status == domain.StatusApproved {
		p.metrics.Approvals.WithLabelValues(string(domain.StatusApproved)).Inc()
		p.emit(ctx, domain.EventPaymentApproved, domain.PaymentEvent{
			MandateID:  req.MandateID,
			ApprovalID: req.ID,
			AgentID:    req.AgentID,
			Amount:     req.Amount,
			Status:     string(req.Status),
		})
	}
	return p.ResolveApproval(ctx, approvalID)
}

// RejectApproval — пользователь отклонил покупку на устройстве.
func (p *PaymentCore) RejectApproval(ctx context.Context, approvalID, reason string) (*Result, error) {
	req, err := p.approvals.Reject(ctx, approvalID, reason)
	if err != nil {
		p.countError(err)
		return nil, err
	}
	if req.Status == domain.StatusRejected {
		p.metrics.Approvals.WithLabelValues(string(domain.StatusRejected)).Inc()
	}
	return p.ResolveApproval(ctx, approvalID)
}

// PendingApprovals — очередь подтверждений для операторов.
func (p *PaymentCore) PendingApprovals(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return p.approvals.Pending(ctx)
}

func (p *PaymentCore) settle(ctx context.Context, t settleTarget) (*Result, error) {
	base := domain.PaymentEvent{MandateID: t.MandateID, AgentID: t.AgentID, Amount: t.Amount}
	if t.Approval != nil {
		base.ApprovalID = t.Approval.ID
	}

	// Резерв лимитов и расчет — одна критическая секция на мандат
	unlock, err := p.locker.Lock(ctx, "settle:"+t.MandateID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if rc, err := p.settlement.Receipt(ctx, t.MandateID); err == nil {
		return &Result{Status: OutcomeApproved, Receipt: rc, Approval: t.Approval}, nil
	}

	at := p.now()
	pol := p.limits.Get(t.UserID)
	if err := p.spend.Reserve(ctx, t.UserID, t.Amount, limits.CapsOf(pol), at); err != nil {
		return nil, p.fail(ctx, base, err)
	}

	rc, err := p.settlement.Settle(ctx, settlement.Request{
		MandateID:  t.MandateID,
		BorrowerID: t.BorrowerID,
		MerchantID: t.MerchantID,
		Amount:     t.Amount,
		Plan:       t.Plan,
		Sandbox:    p.agents.IsSandbox(t.AgentID),
	})
	if err != nil {
		if rerr := p.spend.Release(ctx, t.UserID, t.Amount, at); rerr != nil {
			p.logger.Error("spend release failed", zap.String("mandate_id", t.MandateID), zap.Error(rerr))
		}
		return nil, p.fail(ctx, base, err)
	}

	p.metrics.SettledAmount.WithLabelValues(rc.Amount.Currency, string(rc.Mode)).Add(rc.Amount.Float64())
	base.Status = "COMPLETED"
	base.ReceiptRef = rc.SettlementRef
	p.emit(ctx, domain.EventPaymentCompleted, base)
	return &Result{Status: OutcomeApproved, Receipt: rc, Approval: t.Approval}, nil
}

// terminated — REJECTED/EXPIRED: расчета не будет, покупку нужно начинать заново.
func (p *PaymentCore) terminated(ctx context.Context, req *domain.ApprovalRequest) *Result {
	p.emit(ctx, domain.EventPaymentFailed, domain.PaymentEvent{
		MandateID:  req.MandateID,
		ApprovalID: req.ID,
		AgentID:    req.AgentID,
		Amount:     req.Amount,
		Status:     string(req.Status),
		Code:       string(req.Status),
		Error:      req.Reason,
	})
	out := OutcomeRejected
	if req.Status == domain.StatusExpired {
		out = OutcomeExpired
	}
	return &Result{Status: out, Approval: req}
}

// fail логирует отказ, шлет payment.failed и возвращает исходную ошибку.
func (p *PaymentCore) fail(ctx context.Context, e domain.PaymentEvent, err error) error {
	code := domain.CodeOf(err)
	p.countError(err)
	p.logger.Warn("payment failed",
		zap.String("mandate_id", e.MandateID),
		zap.String("trace_id", TraceIDFrom(ctx)),
		zap.String("code", code),
		zap.Error(err),
	)
	e.Status = "FAILED"
	e.Code = code
	e.Error = err.Error()
	p.emit(ctx, domain.EventPaymentFailed, e)
	return err
}

func (p *PaymentCore) countError(err error) {
	p.metrics.ErrorTotal.WithLabelValues(domain.CodeOf(err), string(domain.KindOf(err))).Inc()
}

// emit: ID события детерминирован (мандат + тип + код), получатель дедуплицирует повторы.
func (p *PaymentCore) emit(ctx context.Context, typ domain.EventType, e domain.PaymentEvent) {
	e.Type = typ
	e.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(e.MandateID+"|"+string(typ)+"|"+e.Code)).String()
	e.TraceID = TraceIDFrom(ctx)
	e.Timestamp = p.now()
	p.events.Publish(ctx, e)
}

func (p *PaymentCore) observe(op string, start time.Time, res *Result, err error) {
	outcome, mode := "error", ""
	if err == nil && res != nil {
		outcome = string(res.Status)
		if res.Receipt != nil {
			mode = string(res.Receipt.Mode)
		}
	}
	p.metrics.RequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	p.metrics.Payments.WithLabelValues(outcome, mode).Inc()
}
