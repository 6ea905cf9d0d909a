package domain

import "time"

// PlanID — идентификатор BNPL-плана.
type PlanID string

const (
	PlanPayInFull PlanID = "pay_in_full"
	PlanPayIn4    PlanID = "pay_in_4"
	PlanPayIn12   PlanID = "pay_in_12"
)

// FlagZeroInstallment ставится, если платеж округлился до нуля (очень малые суммы).
const FlagZeroInstallment = "ZERO_INSTALLMENT"

type Installment struct {
	Due    time.Time `json:"due_date"`
	Amount Money     `json:"amount"`
}

// PaymentPlan — производная от суммы корзины, не хранится как вход.
// Инвариант: Σ Schedule.Amount == Total.
type PaymentPlan struct {
	ID             PlanID        `json:"plan_id"`
	Name           string        `json:"name"`
	Installments   int           `json:"installments"`
	PerInstallment Money         `json:"amount_per_installment"`
	InterestBps    int64         `json:"interest_rate_bps"`
	Total          Money         `json:"total_amount"`
	Schedule       []Installment `json:"schedule"`
	Flags          []string      `json:"flags,omitempty"`
}

// ScheduleSum суммирует график платежей.
func (p PaymentPlan) ScheduleSum() Money {
	sum := Money{Currency: p.Total.Currency}
	for _, in := range p.Schedule {
		sum.Minor += in.Amount.Minor
	}
	return sum
}

// HasFlag проверяет наличие пометки у плана.
func (p PaymentPlan) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
