package domain

import "time"

// EventType — тип вебхук-уведомления.
type EventType string

const (
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentApproved  EventType = "payment.approved"
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentFailed    EventType = "payment.failed"
)

// PaymentEvent доставляется потребителям at-least-once; ID служит ключом дедупликации.
type PaymentEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TraceID    string    `json:"trace_id"`
	MandateID  string    `json:"mandate_id"`
	ApprovalID string    `json:"approval_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Amount     Money     `json:"amount"`
	Status     string    `json:"status"`
	Code       string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	ReceiptRef string    `json:"settlement_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
