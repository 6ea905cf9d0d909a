// Package policy — кэш пользовательских лимитов трат (SpendPolicy) в памяти движка.
package policy

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

// LimitsRepository — долговременное хранение лимитов.
type LimitsRepository interface {
	GetAllSpendPolicies(ctx context.Context) ([]domain.SpendPolicy, error)
	GetSpendPolicy(ctx context.Context, userID string) (*domain.SpendPolicy, error)
	SaveSpendPolicy(ctx context.Context, p domain.SpendPolicy) error
}

// Defaults — лимиты для пользователей без персональной настройки.
func Defaults(currency string) domain.SpendPolicy {
	return domain.SpendPolicy{
		AgentSpendLimit: domain.NewMoney(50000, currency),
		PerTransaction:  domain.NewMoney(100000, currency),
		PerDay:          domain.NewMoney(200000, currency),
		PerMonth:        domain.NewMoney(500000, currency),
	}
}

// MemoLimits — in-memory кэш лимитов. В рантайме движок читает только память,
// Postgres используется для холодной загрузки и записи, Redis — для инвалидации на других инстансах.
type MemoLimits struct {
	mu       sync.RWMutex
	policies map[string]domain.SpendPolicy
	defaults domain.SpendPolicy

	repo   LimitsRepository // nil — только память
	rdb    *redis.Client    // nil — без синхронизации между инстансами
	logger *zap.Logger
}

func NewMemoLimits(repo LimitsRepository, rdb *redis.Client, defaults domain.SpendPolicy, logger *zap.Logger) *MemoLimits {
	return &MemoLimits{
		policies: make(map[string]domain.SpendPolicy),
		defaults: defaults,
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("limits"),
	}
}

// Get — Hot Path: только память.
func (e *MemoLimits) Get(userID string) domain.SpendPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[userID]; ok {
		return p
	}
	p := e.defaults
	p.UserID = userID
	return p
}

// Update применяет частичное изменение, сохраняет и оповещает остальные инстансы.
func (e *MemoLimits) Update(ctx context.Context, userID string, l domain.SpendLimits) (domain.SpendPolicy, error) {
	for _, m := range []*domain.Money{l.AgentSpendLimit, l.PerTransaction, l.PerDay, l.PerMonth, l.CreditLimit} {
		if m != nil && m.Minor < 0 {
			return domain.SpendPolicy{}, domain.ErrInvalidAmount.With("limit %s must not be negative", m)
		}
	}

	p := l.Apply(e.Get(userID))
	p.UserID = userID
	if e.repo != nil {
		if err := e.repo.SaveSpendPolicy(ctx, p); err != nil {
			return domain.SpendPolicy{}, err
		}
	}
	e.set(p)

	if e.rdb != nil {
		if err := e.rdb.Publish(ctx, infra.RedisChanLimitsUpdate, userID).Err(); err != nil {
			e.logger.Warn("limits update broadcast failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	e.logger.Info("spend limits updated", zap.String("user_id", userID))
	return p, nil
}

func (e *MemoLimits) set(p domain.SpendPolicy) {
	e.mu.Lock()
	e.policies[p.UserID] = p
	e.mu.Unlock()
}

// Refresh — «холодная загрузка» всех лимитов из PostgreSQL в память (при старте и переподключении).
func (e *MemoLimits) Refresh(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	all, err := e.repo.GetAllSpendPolicies(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.SpendPolicy, len(all))
	for _, p := range all {
		fresh[p.UserID] = p
	}

	e.mu.Lock()
	e.policies = fresh
	e.mu.Unlock()

	e.logger.Info("limits cache refreshed", zap.Int("count", len(fresh)))
	return nil
}

// reload перечитывает лимиты одного пользователя по сигналу другого инстанса.
func (e *MemoLimits) reload(ctx context.Context, userID string) {
	if e.repo == nil {
		return
	}
	p, err := e.repo.GetSpendPolicy(ctx, userID)
	if err != nil {
		e.logger.Error("limits reload failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if p == nil {
		e.mu.Lock()
		delete(e.policies, userID)
		e.mu.Unlock()
		return
	}
	e.set(*p)
}
