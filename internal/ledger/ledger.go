// Package ledger — кредитный леджер заемщиков: кредитная линия, авторизация и списание.
package ledger

import (
	"context"

	"github.com/xela07ax/agentpay/internal/domain"
)

// SpendRequest — вторая фаза расчета. Key (mandate id) делает повтор списания идемпотентным.
type SpendRequest struct {
	Key        string
	BorrowerID string
	MerchantID string
	Amount     domain.Money
}

// Ledger — контракт кредитной линии. Реализации: Memory (симуляция) и внешние адаптеры.
type Ledger interface {
	IsRegistered(ctx context.Context, borrowerID, merchantID string) (bool, error)
	CreditLine(ctx context.Context, borrowerID string) (domain.CreditLine, error)
	// SetSpendAuthorization — первая фаза: мгновенное разрешение на сумму не меньше amount.
	SetSpendAuthorization(ctx context.Context, borrowerID string, amount domain.Money) error
	ExecuteSpend(ctx context.Context, req SpendRequest) (string, error)
	Chargeback(ctx context.Context, borrowerID string, amount domain.Money, ref string) error
	SetCreditLimit(ctx context.Context, borrowerID string, limit domain.Money) error
}
