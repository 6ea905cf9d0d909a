package domain

import "time"

// ExecutionMode — где был исполнен расчет.
type ExecutionMode string

const (
	ExecLive    ExecutionMode = "LIVE"
	ExecSandbox ExecutionMode = "SANDBOX"
)

// PaymentReceipt — терминальная запись расчета. Одна квитанция на mandate id.
type PaymentReceipt struct {
	PaymentID     string        `json:"payment_id"`
	MandateID     string        `json:"mandate_id"`
	SettlementRef string        `json:"settlement_ref"` // «хэш транзакции»
	BorrowerID    string        `json:"borrower_id"`
	MerchantID    string        `json:"merchant_id"`
	Amount        Money         `json:"amount"`
	Plan          PlanID        `json:"plan_id"`
	Schedule      []Installment `json:"schedule"`

	// Снимок кредитной линии сразу после списания
	OutstandingDebt Money `json:"outstanding_debt"`
	AvailableCredit Money `json:"available_credit"`

	Mode        ExecutionMode `json:"mode"`
	ChargedBack bool          `json:"charged_back,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
