package credential

import (
	"context"
	"strings"
	"sync"

	"github.com/xela07ax/agentpay/internal/domain"
)

// AccountDirectory — источник профилей пользователей и их способов оплаты.
type AccountDirectory interface {
	Account(ctx context.Context, userID string) (*domain.Account, error)
}

// ValidateAccount — предусловие регистрации: без устройства step-up подтверждение невозможно.
func ValidateAccount(a *domain.Account) error {
	if a.UserID == "" || a.BorrowerID == "" {
		return domain.ErrUnknownAccount.With("account must have user_id and borrower_id")
	}
	if strings.TrimSpace(a.DeviceID) == "" {
		return domain.ErrNoApprovalDevice.With("user %s", a.UserID)
	}
	return nil
}

// MemoryDirectory — справочник аккаунтов в памяти (sandbox, тесты).
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]domain.Account)}
}

func (d *MemoryDirectory) Register(a domain.Account) error {
	if err := ValidateAccount(&a); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.UserID] = a
	return nil
}

func (d *MemoryDirectory) Account(_ context.Context, userID string) (*domain.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[userID]
	if !ok {
		return nil, domain.ErrUnknownAccount.With("user %s", userID)
	}
	out := a
	out.Methods = append([]domain.PaymentMethod(nil), a.Methods...)
	return &out, nil
}
