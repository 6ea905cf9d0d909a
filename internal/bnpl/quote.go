// Package bnpl рассчитывает планы рассрочки (Buy Now Pay Later) для суммы корзины.
package bnpl

import (
	"math"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

const (
	DefaultSettlementOffsetDays = 30
	DefaultRateBps              = 599 // 5.99% годовых за 12 месяцев

	payIn4Step   = 14 // дней между платежами
	monthDays    = 30
	bpsDenom     = 10000
	payIn4Count  = 4
	payIn12Count = 12
)

// Engine — детерминированный калькулятор планов: одинаковые amount и today дают одинаковый результат.
type Engine struct {
	SettlementOffsetDays int
	RateBps              int64
}

func NewEngine(offsetDays int, rateBps int64) *Engine {
	if offsetDays <= 0 {
		offsetDays = DefaultSettlementOffsetDays
	}
	if rateBps < 0 {
		rateBps = DefaultRateBps
	}
	return &Engine{SettlementOffsetDays: offsetDays, RateBps: rateBps}
}

// Quote возвращает планы в фиксированном порядке: pay_in_full, pay_in_4, pay_in_12.
func (e *Engine) Quote(amount domain.Money, today time.Time) ([]domain.PaymentPlan, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount.With("quote amount %s must be positive", amount)
	}
	// сумма с процентами и поправкой на округление должна оставаться в int64
	if amount.Minor > (math.MaxInt64-bpsDenom*payIn12Count)/(bpsDenom+e.RateBps) {
		return nil, domain.ErrInvalidAmount.With("quote amount %s is out of range", amount)
	}
	day := anchor(today)

	return []domain.PaymentPlan{
		e.payInFull(amount, day),
		e.payIn4(amount, day),
		e.payIn12(amount, day),
	}, nil
}

func (e *Engine) payInFull(amount domain.Money, day time.Time) domain.PaymentPlan {
	plan := domain.PaymentPlan{
		ID:             domain.PlanPayInFull,
		Name:           "Pay in Full",
		Installments:   1,
		PerInstallment: amount,
		Total:          amount,
		Schedule: []domain.Installment{
			{Due: day.AddDate(0, 0, e.SettlementOffsetDays), Amount: amount},
		},
	}
	return plan
}

func (e *Engine) payIn4(amount domain.Money, day time.Time) domain.PaymentPlan {
	per := fitInstallment(amount.Minor, roundDiv(amount.Minor, payIn4Count), payIn4Count)
	plan := domain.PaymentPlan{
		ID:             domain.PlanPayIn4,
		Name:           "Pay in 4",
		Installments:   payIn4Count,
		PerInstallment: domain.NewMoney(per, amount.Currency),
		Total:          amount,
	}
	plan.Schedule = split(amount.Minor, per, payIn4Count, amount.Currency, func(i int) time.Time {
		return day.AddDate(0, 0, i*payIn4Step)
	})
	flagZero(&plan)
	return plan
}

func (e *Engine) payIn12(amount domain.Money, day time.Time) domain.PaymentPlan {
	scaled := amount.Minor * (bpsDenom + e.RateBps)
	total := roundDiv(scaled, bpsDenom)
	per := fitInstallment(total, roundDiv(scaled, bpsDenom*payIn12Count), payIn12Count)

	plan := domain.PaymentPlan{
		ID:             domain.PlanPayIn12,
		Name:           "12 Monthly Payments",
		Installments:   payIn12Count,
		PerInstallment: domain.NewMoney(per, amount.Currency),
		InterestBps:    e.RateBps,
		Total:          domain.NewMoney(total, amount.Currency),
	}
	plan.Schedule = split(total, per, payIn12Count, amount.Currency, func(i int) time.Time {
		return day.AddDate(0, 0, (i+1)*monthDays)
	})
	flagZero(&plan)
	return plan
}

// split строит график: n-1 равных платежей и последний с остатком округления.
func split(total, per int64, n int, currency string, due func(i int) time.Time) []domain.Installment {
	out := make([]domain.Installment, n)
	for i := 0; i < n; i++ {
		amt := per
		if i == n-1 {
			amt = total - per*int64(n-1)
		}
		out[i] = domain.Installment{Due: due(i), Amount: domain.NewMoney(amt, currency)}
	}
	return out
}

// fitInstallment: на копеечных суммах округление вверх может увести последний платеж в минус,
// тогда платеж округляется вниз.
func fitInstallment(total, per int64, n int) int64 {
	if total-per*int64(n-1) < 0 {
		return total / int64(n)
	}
	return per
}

func flagZero(p *domain.PaymentPlan) {
	for _, in := range p.Schedule {
		if in.Amount.Minor <= 0 {
			p.Flags = append(p.Flags, domain.FlagZeroInstallment)
			return
		}
	}
}

// roundDiv — деление с округлением половины от нуля.
func roundDiv(num, den int64) int64 {
	if num < 0 {
		return -roundDiv(-num, den)
	}
	return (num + den/2) / den
}

// anchor отбрасывает время суток: даты графика считаются от календарного дня.
func anchor(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
