package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/lock"
	"go.uber.org/zap"
)

const DefaultTTL = 30 * time.Minute

// Input — контекст платежа, по которому принимается решение о step-up.
type Input struct {
	MandateID   string
	UserID      string
	AgentID     string
	BorrowerID  string
	MerchantID  string
	DeviceID    string
	Amount      domain.Money
	Plan        domain.PaymentPlan
	Policy      domain.SpendPolicy
	Attestation *domain.Attestation
	MandateAt   time.Time
	Quarantined bool
}

// Decision — итог входа в автомат. Request == nil, если подтверждение не понадобилось.
type Decision struct {
	Status  domain.ApprovalStatus
	Request *domain.ApprovalRequest
}

// Machine — автомат PENDING_APPROVAL → APPROVED | REJECTED | EXPIRED.
// Все переходы выполняются под блокировкой запроса, терминальные статусы не меняются.
type Machine struct {
	store    Store
	locker   lock.Locker
	notifier Notifier
	analyzer *Analyzer
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewMachine(store Store, locker lock.Locker, notifier Notifier, analyzer *Analyzer, ttl time.Duration, logger *zap.Logger) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Machine{
		store:    store,
		locker:   locker,
		notifier: notifier,
		analyzer: analyzer,
		ttl:      ttl,
		logger:   logger.Named("approval"),
		now:      time.Now,
	}
}

// Decide — вход в автомат. Повторный вызов для того же мандата возвращает уже созданный запрос.
func (m *Machine) Decide(ctx context.Context, in Input) (Decision, error) {
	att := in.Attestation
	if att != nil && in.DeviceID != "" && att.DeviceID != in.DeviceID {
		// аттестация чужого устройства не заменяет step-up
		m.logger.Warn("attestation from unregistered device ignored",
			zap.String("mandate_id", in.MandateID), zap.String("device_id", att.DeviceID))
		att = nil
	}
	if !m.analyzer.StepUpRequired(in.Amount, in.Policy, att, in.MandateAt, in.Quarantined) {
		return Decision{Status: domain.StatusApproved}, nil
	}

	unlock, err := m.locker.Lock(ctx, "mandate:"+in.MandateID)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()

	existing, err := m.store.ByMandate(ctx, in.MandateID)
	switch {
	case err == nil:
		// истечение — переход, он идет под той же блокировкой заявки, что Attest и Reject
		var req *domain.ApprovalRequest
		if err := m.withRequest(ctx, existing.ID, func(cur *domain.ApprovalRequest) error {
			req = cur
			return nil
		}); err != nil {
			return Decision{}, err
		}
		return Decision{Status: req.Status, Request: req}, nil
	case !errors.Is(err, domain.ErrApprovalNotFound):
		return Decision{}, err
	}

	now := m.now()
	req := &domain.ApprovalRequest{
		ID:         uuid.NewString(),
		MandateID:  in.MandateID,
		UserID:     in.UserID,
		AgentID:    in.AgentID,
		BorrowerID: in.BorrowerID,
		MerchantID: in.MerchantID,
		DeviceID:   in.DeviceID,
		Plan:       in.Plan,
		Amount:     in.Amount,
		Status:     domain.StatusPendingApproval,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		UpdatedAt:  now,
	}
	if err := m.store.Create(ctx, req); err != nil {
		return Decision{}, err
	}

	// Запрос уже создан: сбой доставки не отменяет его, пользователь может запросить prompt повторно
	if err := m.notifier.Deliver(ctx, req, in.DeviceID); err != nil {
		m.logger.Warn("approval prompt delivery failed",
			zap.String("approval_id", req.ID), zap.Error(err))
	}

	m.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("mandate_id", req.MandateID),
		zap.String("amount", req.Amount.String()),
	)
	return Decision{Status: req.Status, Request: req}, nil
}

// Status — чтение состояния. Единственный побочный эффект — ленивое истечение TTL.
func (m *Machine) Status(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.ExpiredAt(m.now()) {
		return req, nil
	}

	var out *domain.ApprovalRequest
	err = m.withRequest(ctx, id, func(cur *domain.ApprovalRequest) error {
		out = cur
		return nil
	})
	return out, err
}

// Attest — событие аттестации с устройства. PENDING_APPROVAL → APPROVED ровно один раз.
func (m *Machine) Attest(ctx context.Context, id string, att *domain.Attestation) (*domain.ApprovalRequest, error) {
	var out *domain.ApprovalRequest
	err := m.withRequest(ctx, id, func(cur *domain.ApprovalRequest) error {
		out = cur
		if cur.Status.IsTerminal() {
			return nil
		}
		if err := att.WellFormed(); err != nil {
			return err
		}
		if cur.DeviceID != "" && att.DeviceID != cur.DeviceID {
			return domain.ErrMalformedAttest.With("attestation from device %s, prompt was sent to %s", att.DeviceID, cur.DeviceID)
		}
		if !att.InWindow(cur.CreatedAt, cur.ExpiresAt) {
			return domain.ErrAttestOutOfWindow.With("timestamp %s outside [%s, %s]",
				att.Timestamp.Format(time.RFC3339), cur.CreatedAt.Format(time.RFC3339), cur.ExpiresAt.Format(time.RFC3339))
		}

		next := *cur
		next.Status = domain.StatusApproved
		next.Attestation = att
		next.UpdatedAt = m.now()
		if err := m.transition(ctx, cur, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reject — явный отказ пользователя. Терминальный запрос возвращается как есть.
func (m *Machine) Reject(ctx context.Context, id, reason string) (*domain.ApprovalRequest, error) {
	var out *domain.ApprovalRequest
	err := m.withRequest(ctx, id, func(cur *domain.ApprovalRequest) error {
		out = cur
		if cur.Status.IsTerminal() {
			return nil
		}
		next := *cur
		next.Status = domain.StatusRejected
		next.Reason = reason
		next.UpdatedAt = m.now()
		if err := m.transition(ctx, cur, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pending — очередь ожидающих запросов (операторский просмотр); просроченные истекают по пути.
func (m *Machine) Pending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	list, err := m.store.ListByStatus(ctx, domain.StatusPendingApproval)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]*domain.ApprovalRequest, 0, len(list))
	for _, req := range list {
		if req.ExpiredAt(now) {
			if _, err := m.Status(ctx, req.ID); err != nil {
				m.logger.Warn("lazy expiry failed", zap.String("approval_id", req.ID), zap.Error(err))
			}
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// withRequest перечитывает запрос под блокировкой, применяет истечение и передает его fn.
func (m *Machine) withRequest(ctx context.Context, id string, fn func(cur *domain.ApprovalRequest) error) error {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	cur, err = m.expireLocked(ctx, cur)
	if err != nil {
		return err
	}
	return fn(cur)
}

func (m *Machine) expireLocked(ctx context.Context, cur *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	now := m.now()
	if !cur.ExpiredAt(now) {
		return cur, nil
	}
	next := *cur
	next.Status = domain.StatusExpired
	next.UpdatedAt = now
	if err := m.transition(ctx, cur, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (m *Machine) transition(ctx context.Context, cur, next *domain.ApprovalRequest) error {
	if err := cur.CanTransitionTo(next.Status); err != nil {
		return err
	}
	if err := m.store.Update(ctx, next); err != nil {
		return err
	}
	m.logger.Info("approval transition",
		zap.String("approval_id", next.ID),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(next.Status)),
	)
	return nil
}
