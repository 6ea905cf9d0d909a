package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

type memRepo struct {
	mu   sync.Mutex
	data map[string]domain.SpendPolicy
}

func newMemRepo() *memRepo { return &memRepo{data: map[string]domain.SpendPolicy{}} }

func (r *memRepo) GetAllSpendPolicies(context.Context) ([]domain.SpendPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SpendPolicy, 0, len(r.data))
	for _, p := range r.data {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) GetSpendPolicy(_ context.Context, userID string) (*domain.SpendPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memRepo) SaveSpendPolicy(_ context.Context, p domain.SpendPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.UserID] = p
	return nil
}

func ptr(m domain.Money) *domain.Money { return &m }

func TestDefaultsAndUpdate(t *testing.T) {
	repo := newMemRepo()
	l := NewMemoLimits(repo, nil, Defaults("USD"), zap.NewNop())
	ctx := context.Background()

	p := l.Get("user-1")
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "500.00", p.AgentSpendLimit.String())
	assert.Equal(t, "1000.00", p.PerTransaction.String())

	updated, err := l.Update(ctx, "user-1", domain.SpendLimits{AgentSpendLimit: ptr(domain.MustMoney("50.00", "USD"))})
	require.NoError(t, err)
	assert.Equal(t, "50.00", updated.AgentSpendLimit.String())
	assert.Equal(t, "1000.00", updated.PerTransaction.String())
	assert.Equal(t, "50.00", l.Get("user-1").AgentSpendLimit.String())
	assert.Equal(t, "50.00", repo.data["user-1"].AgentSpendLimit.String())

	_, err = l.Update(ctx, "user-1", domain.SpendLimits{PerDay: ptr(domain.MustMoney("-1.00", "USD"))})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRefresh(t *testing.T) {
	repo := newMemRepo()
	repo.data["user-2"] = domain.SpendPolicy{UserID: "user-2", AgentSpendLimit: domain.MustMoney("5.00", "USD")}
	l := NewMemoLimits(repo, nil, Defaults("USD"), zap.NewNop())

	require.NoError(t, l.Refresh(context.Background()))
	assert.Equal(t, "5.00", l.Get("user-2").AgentSpendLimit.String())
}

func TestListenerReloadsFromOtherInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newMemRepo()

	writer := NewMemoLimits(repo, rdb, Defaults("USD"), zap.NewNop())
	reader := NewMemoLimits(repo, rdb, Defaults("USD"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reader.StartListener(ctx)

	// ждем подписку
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, time.Second, 10*time.Millisecond)

	_, err := writer.Update(ctx, "user-3", domain.SpendLimits{AgentSpendLimit: ptr(domain.MustMoney("7.00", "USD"))})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return reader.Get("user-3").AgentSpendLimit.String() == "7.00"
	}, time.Second, 10*time.Millisecond)
}
