package settlement

import (
	"context"
	"sync"

	"github.com/xela07ax/agentpay/internal/domain"
)

// ReceiptStore — квитанции по mandate id. Save идемпотентен: первая запись побеждает.
type ReceiptStore interface {
	Get(ctx context.Context, mandateID string) (*domain.PaymentReceipt, error)
	Save(ctx context.Context, r *domain.PaymentReceipt) error
	MarkChargedBack(ctx context.Context, mandateID string) error
}

type MemoryReceipts struct {
	mu    sync.RWMutex
	items map[string]domain.PaymentReceipt
}

func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{items: make(map[string]domain.PaymentReceipt)}
}

func (s *MemoryReceipts) Get(_ context.Context, mandateID string) (*domain.PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[mandateID]
	if !ok {
		return nil, domain.ErrReceiptNotFound.With("mandate %s", mandateID)
	}
	return &r, nil
}

func (s *MemoryReceipts) Save(_ context.Context, r *domain.PaymentReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[r.MandateID]; !ok {
		s.items[r.MandateID] = *r
	}
	return nil
}

func (s *MemoryReceipts) MarkChargedBack(_ context.Context, mandateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[mandateID]
	if !ok {
		return domain.ErrReceiptNotFound.With("mandate %s", mandateID)
	}
	if r.ChargedBack {
		return domain.ErrAlreadyChargeback.With("mandate %s", mandateID)
	}
	r.ChargedBack = true
	s.items[mandateID] = r
	return nil
}
