// Package settlement исполняет расчет по кредитной линии: авторизация, затем списание.
package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/ledger"
	"github.com/xela07ax/agentpay/internal/lock"
	"go.uber.org/zap"
)

// Request — что и кому списать. MandateID — ключ идемпотентности расчета.
type Request struct {
	MandateID  string
	BorrowerID string
	MerchantID string
	Amount     domain.Money
	Plan       domain.PaymentPlan
	Sandbox    bool
}

// Executor — исполнитель расчета. Один mandate id — одна квитанция.
type Executor struct {
	ledger   ledger.Ledger
	receipts ReceiptStore
	locker   lock.Locker
	logger   *zap.Logger
	now      func() time.Time
}

func NewExecutor(l ledger.Ledger, receipts ReceiptStore, locker lock.Locker, logger *zap.Logger) *Executor {
	return &Executor{
		ledger:   l,
		receipts: receipts,
		locker:   locker,
		logger:   logger.Named("settlement"),
		now:      time.Now,
	}
}

// Receipt — ранее выданная квитанция по мандату.
func (e *Executor) Receipt(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	return e.receipts.Get(ctx, mandateID)
}

// Settle: повтор для уже рассчитанного мандата возвращает сохраненную квитанцию без обращения к леджеру.
func (e *Executor) Settle(ctx context.Context, req Request) (*domain.PaymentReceipt, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount.With("settle amount %s", req.Amount)
	}
	if r, err := e.cached(ctx, req.MandateID); r != nil || err != nil {
		return r, err
	}

	unlock, err := e.locker.Lock(ctx, req.MandateID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Пока ждали блокировку, мандат мог рассчитать соседний запрос
	if r, err := e.cached(ctx, req.MandateID); r != nil || err != nil {
		return r, err
	}

	var receipt *domain.PaymentReceipt
	if req.Sandbox {
		receipt = e.sandbox(ctx, req)
	} else {
		receipt, err = e.execute(ctx, req)
		if err != nil {
			e.logger.Warn("settlement failed",
				zap.String("mandate_id", req.MandateID),
				zap.String("code", domain.CodeOf(err)),
				zap.Error(err),
			)
			return nil, unavailable(err)
		}
	}

	if err := e.receipts.Save(ctx, receipt); err != nil {
		// Деньги уже списаны: без квитанции повтор ушел бы в леджер, где ключ идемпотентности вернет ту же ссылку
		e.logger.Error("receipt persist failed", zap.String("mandate_id", req.MandateID), zap.Error(err))
		return nil, domain.ErrSettlementUnavailable.With("receipt persist: %v", err)
	}

	e.logger.Info("settled",
		zap.String("mandate_id", receipt.MandateID),
		zap.String("ref", receipt.SettlementRef),
		zap.String("amount", receipt.Amount.String()),
		zap.String("mode", string(receipt.Mode)),
	)
	return receipt, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (*domain.PaymentReceipt, error) {
	ok, err := e.ledger.IsRegistered(ctx, req.BorrowerID, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotRegistered.With("borrower %s / merchant %s", req.BorrowerID, req.MerchantID)
	}

	line, err := e.ledger.CreditLine(ctx, req.BorrowerID)
	if err != nil {
		return nil, err
	}
	if req.Amount.Cmp(line.Available()) > 0 {
		return nil, domain.ErrInsufficientCredit.With("amount %s exceeds available credit %s", req.Amount, line.Available())
	}

	// Шаг 1: авторизация, шаг 2: списание
	if err := e.ledger.SetSpendAuthorization(ctx, req.BorrowerID, req.Amount); err != nil {
		return nil, err
	}
	ref, err := e.ledger.ExecuteSpend(ctx, ledger.SpendRequest{
		Key:        req.MandateID,
		BorrowerID: req.BorrowerID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
	})
	if err != nil {
		return nil, err
	}

	after, err := e.ledger.CreditLine(ctx, req.BorrowerID)
	if err != nil {
		// списание прошло, снимок считаем от состояния до него
		after = line
		after.Outstanding.Minor += req.Amount.Minor
	}

	r := e.receipt(req, ref, domain.ExecLive)
	r.OutstandingDebt = after.Outstanding
	r.AvailableCredit = after.Available()
	return r, nil
}

// sandbox строит квитанцию без изменений в леджере.
func (e *Executor) sandbox(ctx context.Context, req Request) *domain.PaymentReceipt {
	ref := "sandbox:" + strings.TrimPrefix(ledger.Reference(req.BorrowerID, req.MerchantID, req.Amount, 0), "0x")
	r := e.receipt(req, ref, domain.ExecSandbox)
	if line, err := e.ledger.CreditLine(ctx, req.BorrowerID); err == nil {
		r.OutstandingDebt = line.Outstanding
		r.AvailableCredit = line.Available()
	}
	return r
}

func (e *Executor) receipt(req Request, ref string, mode domain.ExecutionMode) *domain.PaymentReceipt {
	return &domain.PaymentReceipt{
		PaymentID:     uuid.NewString(),
		MandateID:     req.MandateID,
		SettlementRef: ref,
		BorrowerID:    req.BorrowerID,
		MerchantID:    req.MerchantID,
		Amount:        req.Amount,
		Plan:          req.Plan.ID,
		Schedule:      req.Plan.Schedule,
		Mode:          mode,
		CreatedAt:     e.now(),
	}
}

// Chargeback возвращает сумму квитанции на кредитную линию. Повтор — ALREADY_CHARGED_BACK.
func (e *Executor) Chargeback(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	unlock, err := e.locker.Lock(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := e.receipts.Get(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if r.ChargedBack {
		return nil, domain.ErrAlreadyChargeback.With("mandate %s", mandateID)
	}
	if r.Mode == domain.ExecLive {
		if err := e.ledger.Chargeback(ctx, r.BorrowerID, r.Amount, r.SettlementRef); err != nil {
			return nil, unavailable(err)
		}
	}
	if err := e.receipts.MarkChargedBack(ctx, mandateID); err != nil {
		return nil, err
	}
	r.ChargedBack = true

	e.logger.Info("charged back", zap.String("mandate_id", mandateID), zap.String("amount", r.Amount.String()))
	return r, nil
}

func (e *Executor) cached(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	r, err := e.receipts.Get(ctx, mandateID)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, domain.ErrReceiptNotFound) {
		return nil, nil
	}
	return nil, err
}

// unavailable переводит исчерпанные временные сбои леджера в SETTLEMENT_UNAVAILABLE.
func unavailable(err error) error {
	if domain.IsTransient(err) || domain.KindOf(err) == "" {
		return domain.ErrSettlementUnavailable.With("%v", err)
	}
	return err
}
