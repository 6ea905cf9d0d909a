// Package limits считает траты пользователя за день и месяц и проверяет лимиты SpendPolicy.
package limits

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

// Caps — лимиты в минорных единицах; 0 — без ограничения.
type Caps struct {
	PerTransaction int64
	PerDay         int64
	PerMonth       int64
}

func CapsOf(p domain.SpendPolicy) Caps {
	return Caps{
		PerTransaction: p.PerTransaction.Minor,
		PerDay:         p.PerDay.Minor,
		PerMonth:       p.PerMonth.Minor,
	}
}

// Counter резервирует сумму в дневном и месячном окне атомарно с проверкой лимитов.
type Counter interface {
	Reserve(ctx context.Context, userID string, amount domain.Money, caps Caps, at time.Time) error
	Release(ctx context.Context, userID string, amount domain.Money, at time.Time) error
	Spent(ctx context.Context, userID string, at time.Time) (day, month int64, err error)
}

// Buckets — ключи окон в UTC: "d:2025-10-01", "m:2025-10".
func Buckets(at time.Time) (day, month string) {
	u := at.UTC()
	return "d:" + u.Format("2006-01-02"), "m:" + u.Format("2006-01")
}

func checkTransaction(amount domain.Money, caps Caps) error {
	if caps.PerTransaction > 0 && amount.Minor > caps.PerTransaction {
		return domain.ErrLimitExceeded.With("amount %s exceeds per-transaction limit %s",
			amount, domain.NewMoney(caps.PerTransaction, amount.Currency))
	}
	return nil
}

// Memory — счетчики в памяти процесса.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

func (m *Memory) Reserve(_ context.Context, userID string, amount domain.Money, caps Caps, at time.Time) error {
	if err := checkTransaction(amount, caps); err != nil {
		return err
	}
	d, mo := Buckets(at)
	dk, mk := userID+":"+d, userID+":"+mo

	m.mu.Lock()
	defer m.mu.Unlock()
	if caps.PerDay > 0 && m.counts[dk]+amount.Minor > caps.PerDay {
		return domain.ErrLimitExceeded.With("daily limit %s reached", domain.NewMoney(caps.PerDay, amount.Currency))
	}
	if caps.PerMonth > 0 && m.counts[mk]+amount.Minor > caps.PerMonth {
		return domain.ErrLimitExceeded.With("monthly limit %s reached", domain.NewMoney(caps.PerMonth, amount.Currency))
	}
	m.counts[dk] += amount.Minor
	m.counts[mk] += amount.Minor
	return nil
}

func (m *Memory) Release(_ context.Context, userID string, amount domain.Money, at time.Time) error {
	d, mo := Buckets(at)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID+":"+d] -= amount.Minor
	m.counts[userID+":"+mo] -= amount.Minor
	return nil
}

func (m *Memory) Spent(_ context.Context, userID string, at time.Time) (int64, int64, error) {
	d, mo := Buckets(at)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID+":"+d], m.counts[userID+":"+mo], nil
}
