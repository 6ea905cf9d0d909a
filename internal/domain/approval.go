package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusNone            ApprovalStatus = "NONE" // step-up не нужен
	StatusPendingApproval ApprovalStatus = "PENDING_APPROVAL"
	StatusApproved        ApprovalStatus = "APPROVED"
	StatusRejected        ApprovalStatus = "REJECTED"
	StatusExpired         ApprovalStatus = "EXPIRED"
)

var ErrInvalidTransition = errors.New("invalid approval status transition")

// IsTerminal — терминальные статусы «липкие»: после них переходов нет.
func (s ApprovalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// ApprovalRequest — запрос на step-up подтверждение (биометрия на устройстве).
// Кроме суммы хранит контекст расчета, чтобы ResolveApproval мог продолжить поток.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	MandateID  string         `json:"mandate_id"`
	UserID     string         `json:"user_id"`
	AgentID    string         `json:"agent_id,omitempty"`
	BorrowerID string         `json:"borrower_id"`
	MerchantID string         `json:"merchant_id"`
	DeviceID   string         `json:"device_id,omitempty"` // устройство, куда ушел prompt
	Plan       PaymentPlan    `json:"payment_plan"`
	Amount     Money          `json:"amount"`
	Status     ApprovalStatus `json:"status"`

	Attestation *Attestation `json:"attestation,omitempty"` // только для APPROVED
	Reason      string       `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPendingApproval {
		return ErrApprovalTerminal
	}
	if !next.IsTerminal() {
		return ErrInvalidTransition
	}
	return nil
}

// ExpiredAt — истек ли TTL к моменту now (абсолютное время, не скользящее окно).
func (a *ApprovalRequest) ExpiredAt(now time.Time) bool {
	return a.Status == StatusPendingApproval && now.After(a.ExpiresAt)
}
