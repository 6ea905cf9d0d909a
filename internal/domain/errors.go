package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — класс ошибки: определяет, можно ли повторять операцию.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // никогда не ретраим
	KindState      ErrorKind = "state"      // охрана идемпотентности
	KindResource   ErrorKind = "resource"   // терминально, без ретраев
	KindTransient  ErrorKind = "transient"  // ретраится исполнителем
	KindTimeout    ErrorKind = "timeout"
)

// Стабильные машиночитаемые коды ошибок движка.
const (
	CodeInconsistentTotal  = "INCONSISTENT_TOTAL"
	CodeHashMismatch       = "HASH_MISMATCH"
	CodeCartExpired        = "CART_EXPIRED"
	CodeMethodNotAccepted  = "METHOD_NOT_ACCEPTED"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeIntentExpired      = "INTENT_EXPIRED"
	CodeMerchantNotAllowed = "MERCHANT_NOT_ALLOWED"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodePlanMismatch       = "PLAN_MISMATCH"
	CodeMethodNotFound     = "METHOD_NOT_FOUND"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	CodeMalformedAttest    = "MALFORMED_ATTESTATION"
	CodeAttestOutOfWindow  = "ATTESTATION_OUT_OF_WINDOW"
	CodeApprovalNotFound   = "APPROVAL_NOT_FOUND"
	CodeApprovalTerminal   = "APPROVAL_TERMINAL"
	CodeInsufficientCredit = "INSUFFICIENT_CREDIT"
	CodeNotRegistered      = "NOT_REGISTERED"
	CodeSettlementUnavail  = "SETTLEMENT_UNAVAILABLE"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeAgentBlocked       = "AGENT_BLOCKED"
	CodeNoApprovalDevice   = "NO_APPROVAL_DEVICE"
	CodeReceiptNotFound    = "RECEIPT_NOT_FOUND"
	CodeAlreadyChargedBack = "ALREADY_CHARGED_BACK"
	CodeLedgerUnavailable  = "LEDGER_UNAVAILABLE"
	CodeUnknownAccount     = "ACCOUNT_NOT_FOUND"
	CodeMalformedMandate   = "MALFORMED_MANDATE"
)

// Error — типизированная ошибка движка с кодом и классом.
type Error struct {
	Code    string    `json:"code"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func NewError(code string, kind ErrorKind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is сравнивает по коду, поэтому errors.Is(err, ErrHashMismatch) работает
// и для ошибок с уточненным сообщением.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With возвращает копию ошибки с уточненным сообщением.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInconsistentTotal  = NewError(CodeInconsistentTotal, KindValidation, "cart total does not match line items")
	ErrHashMismatch       = NewError(CodeHashMismatch, KindValidation, "payment mandate does not reference this cart")
	ErrCartExpired        = NewError(CodeCartExpired, KindValidation, "payment mandate is outside the cart offer window")
	ErrMethodNotAccepted  = NewError(CodeMethodNotAccepted, KindValidation, "payment method is not accepted by merchant")
	ErrInvalidSignature   = NewError(CodeInvalidSignature, KindValidation, "merchant authorization is invalid")
	ErrIntentExpired      = NewError(CodeIntentExpired, KindValidation, "intent mandate expired")
	ErrMerchantNotAllowed = NewError(CodeMerchantNotAllowed, KindValidation, "cart violates intent constraints")
	ErrInvalidAmount      = NewError(CodeInvalidAmount, KindValidation, "amount must be positive")
	ErrPlanMismatch       = NewError(CodePlanMismatch, KindValidation, "selected plan does not match the cart")
	ErrMalformedAttest    = NewError(CodeMalformedAttest, KindValidation, "attestation is malformed")
	ErrAttestOutOfWindow  = NewError(CodeAttestOutOfWindow, KindValidation, "attestation timestamp outside approval window")
	ErrMalformedMandate   = NewError(CodeMalformedMandate, KindValidation, "payment mandate is malformed")

	ErrMethodNotFound    = NewError(CodeMethodNotFound, KindResource, "payment method not found")
	ErrUnknownAccount    = NewError(CodeUnknownAccount, KindResource, "account not found")
	ErrInvalidToken      = NewError(CodeInvalidToken, KindValidation, "credential token is invalid or expired")
	ErrTokenAlreadyUsed  = NewError(CodeTokenAlreadyUsed, KindState, "credential token already bound to another mandate")
	ErrApprovalNotFound  = NewError(CodeApprovalNotFound, KindResource, "approval request not found")
	ErrApprovalTerminal  = NewError(CodeApprovalTerminal, KindState, "approval request already processed")
	ErrReceiptNotFound   = NewError(CodeReceiptNotFound, KindResource, "receipt not found")
	ErrAlreadyChargeback = NewError(CodeAlreadyChargedBack, KindState, "payment already charged back")

	ErrInsufficientCredit = NewError(CodeInsufficientCredit, KindResource, "insufficient credit")
	ErrNotRegistered      = NewError(CodeNotRegistered, KindResource, "borrower or merchant not registered")
	ErrLimitExceeded      = NewError(CodeLimitExceeded, KindResource, "spend limit exceeded")
	ErrAgentBlocked       = NewError(CodeAgentBlocked, KindResource, "agent is blocked")
	ErrNoApprovalDevice   = NewError(CodeNoApprovalDevice, KindResource, "account has no device for step-up approval")

	ErrLedgerUnavailable     = NewError(CodeLedgerUnavailable, KindTransient, "credit ledger unavailable")
	ErrSettlementUnavailable = NewError(CodeSettlementUnavail, KindTransient, "settlement unavailable, retry later")
)

// CodeOf достает код из цепочки ошибок; для чужих ошибок — "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// KindOf достает класс ошибки; пустая строка — ошибка не движка.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient — можно ли повторить вызов.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
