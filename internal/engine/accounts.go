package engine

import (
	"context"

	"github.com/xela07ax/agentpay/internal/credential"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

const (
	QuoteApproved = "approved"
	QuoteDeclined = "declined"
)

// LimitsCheck — остаток лимитов с учетом запрошенной суммы. Нулевой лимит не ограничен.
type LimitsCheck struct {
	PerTransaction    domain.Money `json:"per_transaction_limit"`
	PerDayRemaining   domain.Money `json:"per_day_remaining"`
	PerMonthRemaining domain.Money `json:"per_month_remaining"`
}

// QuoteResult — ответ на запрос BNPL-предложения.
type QuoteResult struct {
	Status          string               `json:"validation_status"`
	Reason          string               `json:"reason,omitempty"`
	AvailableCredit domain.Money         `json:"available_credit"`
	Amount          domain.Money         `json:"transaction_amount"`
	Plans           []domain.PaymentPlan `json:"bnpl_options,omitempty"`
	Limits          *LimitsCheck         `json:"limits_check,omitempty"`
}

// CreditStatus — кредитный профиль пользователя.
type CreditStatus struct {
	UserID          string             `json:"user_id"`
	BorrowerID      string             `json:"borrower_address"`
	CreditLine      domain.CreditLine  `json:"credit_profile"`
	AvailableCredit domain.Money       `json:"available_credit"`
	Limits          domain.SpendPolicy `json:"spending_limits"`
	SpentToday      domain.Money       `json:"spent_today"`
	SpentThisMonth  domain.Money       `json:"spent_this_month"`
	Status          string             `json:"status"`
}

// Quote — BNPL-варианты после проверки доступного кредита. Нехватка кредита — не ошибка, а declined.
func (p *PaymentCore) Quote(ctx context.Context, userID string, amount domain.Money) (*QuoteResult, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount.With("quote amount %s", amount)
	}
	acct, err := p.directory.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	line, err := p.ledger.CreditLine(ctx, acct.BorrowerID)
	if err != nil {
		return nil, err
	}

	available := line.Available()
	res := &QuoteResult{AvailableCredit: available, Amount: amount}
	if amount.Cmp(available) > 0 {
		res.Status = QuoteDeclined
		res.Reason = "insufficient_credit"
		return res, nil
	}

	now := p.now()
	plans, err := p.quotes.Quote(amount, now)
	if err != nil {
		return nil, err
	}
	res.Status = QuoteApproved
	res.Plans = plans

	pol := p.limits.Get(userID)
	day, month, err := p.spend.Spent(ctx, userID, now)
	if err != nil {
		p.logger.Warn("spend counters unavailable", zap.String("user_id", userID), zap.Error(err))
		return res, nil
	}
	res.Limits = &LimitsCheck{
		PerTransaction:    pol.PerTransaction,
		PerDayRemaining:   remaining(pol.PerDay, day, amount),
		PerMonthRemaining: remaining(pol.PerMonth, month, amount),
	}
	return res, nil
}

func remaining(limit domain.Money, spent int64, amount domain.Money) domain.Money {
	if limit.IsZero() {
		return limit
	}
	return domain.NewMoney(max(limit.Minor-spent-amount.Minor, 0), amount.Currency)
}

// IssueToken — credential-токен способа оплаты для агента.
func (p *PaymentCore) IssueToken(ctx context.Context, userID, alias string) (credential.Token, error) {
	return p.tokens.Issue(ctx, userID, alias)
}

// PaymentMethods — алиасы способов пользователя, подходящие мерчанту. Пустой accepted — все.
func (p *PaymentCore) PaymentMethods(ctx context.Context, userID string, accepted []string) ([]string, error) {
	acct, err := p.directory.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		out := make([]string, 0, len(acct.Methods))
		for _, m := range acct.Methods {
			out = append(out, m.Alias)
		}
		return out, nil
	}
	return acct.Aliases(accepted), nil
}

func (p *PaymentCore) CreditStatus(ctx context.Context, userID string) (*CreditStatus, error) {
	acct, err := p.directory.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	line, err := p.ledger.CreditLine(ctx, acct.BorrowerID)
	if err != nil {
		return nil, err
	}
	day, month, err := p.spend.Spent(ctx, userID, p.now())
	if err != nil {
		return nil, err
	}

	pol := p.limits.Get(userID)
	pol.CreditLimit = line.Limit
	pol.OutstandingDebt = line.Outstanding
	cur := line.Limit.Currency
	return &CreditStatus{
		UserID:          userID,
		BorrowerID:      acct.BorrowerID,
		CreditLine:      line,
		AvailableCredit: line.Available(),
		Limits:          pol,
		SpentToday:      domain.NewMoney(day, cur),
		SpentThisMonth:  domain.NewMoney(month, cur),
		Status:          "active",
	}, nil
}

// SetSpendLimits — операторское изменение лимитов. Кредитный лимит меняется в леджере.
func (p *PaymentCore) SetSpendLimits(ctx context.Context, userID string, l domain.SpendLimits) (domain.SpendPolicy, error) {
	if l.CreditLimit != nil {
		if l.CreditLimit.Minor < 0 {
			return domain.SpendPolicy{}, domain.ErrInvalidAmount.With("credit limit %s must not be negative", l.CreditLimit)
		}
		acct, err := p.directory.Account(ctx, userID)
		if err != nil {
			return domain.SpendPolicy{}, err
		}
		if err := p.ledger.SetCreditLimit(ctx, acct.BorrowerID, *l.CreditLimit); err != nil {
			return domain.SpendPolicy{}, err
		}
	}
	return p.limits.Update(ctx, userID, l)
}

// SpendLimits — текущая политика пользователя.
func (p *PaymentCore) SpendLimits(userID string) domain.SpendPolicy {
	return p.limits.Get(userID)
}

// Chargeback — возврат расчета: долг уменьшается на сумму квитанции один раз.
func (p *PaymentCore) Chargeback(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	rc, err := p.settlement.Chargeback(ctx, mandateID)
	if err != nil {
		p.countError(err)
		return nil, err
	}
	p.logger.Info("payment charged back",
		zap.String("mandate_id", mandateID),
		zap.String("amount", rc.Amount.String()),
		zap.String("trace_id", TraceIDFrom(ctx)),
	)
	return rc, nil
}

// SetAgentStatus — Kill-switch, карантин, песочница или снятие ограничений.
func (p *PaymentCore) SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	return p.agents.SetStatus(ctx, agentID, status)
}
