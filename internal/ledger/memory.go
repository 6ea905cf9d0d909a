package ledger

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
	"golang.org/x/crypto/sha3"
)

// Операции для инъекции сбоев
const (
	OpRegistration = "registration"
	OpCreditLine   = "credit_line"
	OpAuthorize    = "authorize"
	OpExecute      = "execute"
	OpChargeback   = "chargeback"
)

type borrower struct {
	limit       int64
	outstanding int64
	authorized  int64
	nonce       uint64
	currency    string
}

type fault struct {
	remaining int
	err       error
}

// Memory — симуляция кредитного контракта. Ссылка на расчет имитирует хэш транзакции:
// 0x + Keccak-256(borrower|merchant|amount|nonce).
type Memory struct {
	mu        sync.Mutex
	borrowers map[string]*borrower
	merchants map[string]struct{}
	executed  map[string]string // key -> ref
	faults    map[string]*fault
	latency   time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		borrowers: make(map[string]*borrower),
		merchants: make(map[string]struct{}),
		executed:  make(map[string]string),
		faults:    make(map[string]*fault),
	}
}

// RegisterBorrower открывает кредитную линию.
func (m *Memory) RegisterBorrower(id string, limit domain.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrowers[id] = &borrower{limit: limit.Minor, currency: limit.Currency}
}

func (m *Memory) RegisterMerchant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merchants[id] = struct{}{}
}

// WithLatency имитирует сетевую задержку каждого вызова.
func (m *Memory) WithLatency(d time.Duration) *Memory {
	m.latency = d
	return m
}

// FailNext заставляет следующие n вызовов операции op вернуть err.
func (m *Memory) FailNext(op string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = &fault{remaining: n, err: err}
}

func (m *Memory) enter(ctx context.Context, op string) error {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f, ok := m.faults[op]; ok && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

func (m *Memory) IsRegistered(ctx context.Context, borrowerID, merchantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpRegistration); err != nil {
		return false, err
	}
	_, b := m.borrowers[borrowerID]
	_, mer := m.merchants[merchantID]
	return b && mer, nil
}

func (m *Memory) CreditLine(ctx context.Context, borrowerID string) (domain.CreditLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCreditLine); err != nil {
		return domain.CreditLine{}, err
	}
	b, ok := m.borrowers[borrowerID]
	if !ok {
		return domain.CreditLine{}, domain.ErrNotRegistered.With("borrower %s", borrowerID)
	}
	return b.line(borrowerID), nil
}

func (m *Memory) SetSpendAuthorization(ctx context.Context, borrowerID string, amount domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpAuthorize); err != nil {
		return err
	}
	b, ok := m.borrowers[borrowerID]
	if !ok {
		return domain.ErrNotRegistered.With("borrower %s", borrowerID)
	}
	if amount.Minor > b.limit-b.outstanding {
		return domain.ErrInsufficientCredit.With("authorization %s exceeds available %s",
			amount, domain.NewMoney(b.limit-b.outstanding, b.currency))
	}
	// «не меньше amount»: повторная авторизация не уменьшает уже выданную
	if b.authorized < amount.Minor {
		b.authorized = amount.Minor
	}
	return nil
}

func (m *Memory) ExecuteSpend(ctx context.Context, req SpendRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpExecute); err != nil {
		return "", err
	}
	if ref, ok := m.executed[req.Key]; ok && req.Key != "" {
		return ref, nil
	}

	b, ok := m.borrowers[req.BorrowerID]
	if !ok {
		return "", domain.ErrNotRegistered.With("borrower %s", req.BorrowerID)
	}
	if _, ok := m.merchants[req.MerchantID]; !ok {
		return "", domain.ErrNotRegistered.With("merchant %s", req.MerchantID)
	}
	if req.Amount.Minor > b.authorized {
		return "", domain.ErrInsufficientCredit.With("spend %s exceeds authorization %s",
			req.Amount, domain.NewMoney(b.authorized, b.currency))
	}
	if req.Amount.Minor > b.limit-b.outstanding {
		return "", domain.ErrInsufficientCredit.With("spend %s exceeds available credit", req.Amount)
	}

	b.nonce++
	b.authorized -= req.Amount.Minor
	b.outstanding += req.Amount.Minor

	ref := Reference(req.BorrowerID, req.MerchantID, req.Amount, b.nonce)
	if req.Key != "" {
		m.executed[req.Key] = ref
	}
	return ref, nil
}

func (m *Memory) Chargeback(ctx context.Context, borrowerID string, amount domain.Money, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpChargeback); err != nil {
		return err
	}
	b, ok := m.borrowers[borrowerID]
	if !ok {
		return domain.ErrNotRegistered.With("borrower %s", borrowerID)
	}
	if amount.Minor > b.outstanding {
		return domain.ErrInvalidAmount.With("chargeback %s for %s exceeds outstanding debt", amount, ref)
	}
	b.outstanding -= amount.Minor
	return nil
}

func (m *Memory) SetCreditLimit(_ context.Context, borrowerID string, limit domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.borrowers[borrowerID]
	if !ok {
		return domain.ErrNotRegistered.With("borrower %s", borrowerID)
	}
	b.limit = limit.Minor
	if limit.Currency != "" {
		b.currency = limit.Currency
	}
	return nil
}

func (b *borrower) line(id string) domain.CreditLine {
	return domain.CreditLine{
		BorrowerID:  id,
		Limit:       domain.NewMoney(b.limit, b.currency),
		Outstanding: domain.NewMoney(b.outstanding, b.currency),
		Authorized:  domain.NewMoney(b.authorized, b.currency),
	}
}

// Reference — детерминированная ссылка на расчет.
func Reference(borrowerID, merchantID string, amount domain.Money, nonce uint64) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(borrowerID + "|" + merchantID + "|" + amount.String() + "|" + strconv.FormatUint(nonce, 10)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
