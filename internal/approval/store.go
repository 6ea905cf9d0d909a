package approval

import (
	"context"
	"sort"
	"sync"

	"github.com/xela07ax/agentpay/internal/domain"
)

// Store — хранилище запросов на подтверждение.
type Store interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ByMandate(ctx context.Context, mandateID string) (*domain.ApprovalRequest, error)
	// Update сохраняет переход из PENDING_APPROVAL; вызывается под блокировкой запроса.
	Update(ctx context.Context, req *domain.ApprovalRequest) error
	ListByStatus(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
}

// MemoryStore — хранилище в памяти. Возвращает копии, чтобы вызывающий не менял состояние мимо автомата.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]domain.ApprovalRequest
	byMandate map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]domain.ApprovalRequest),
		byMandate: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[req.ID] = *req
	s.byMandate[req.MandateID] = req.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound.With("approval %s", id)
	}
	return &req, nil
}

func (s *MemoryStore) ByMandate(ctx context.Context, mandateID string) (*domain.ApprovalRequest, error) {
	s.mu.RLock()
	id, ok := s.byMandate[mandateID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrApprovalNotFound.With("no approval for mandate %s", mandateID)
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) Update(_ context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[req.ID]
	if !ok {
		return domain.ErrApprovalNotFound.With("approval %s", req.ID)
	}
	if cur.Status.IsTerminal() {
		return domain.ErrApprovalTerminal.With("approval %s is %s", req.ID, cur.Status)
	}
	s.byID[req.ID] = *req
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ApprovalRequest, 0)
	for _, req := range s.byID {
		if status == "" || req.Status == status {
			r := req
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
