package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/infra"
)

// BindingStore хранит привязку токена (jti) к платежному мандату. Первый записавший побеждает.
type BindingStore interface {
	// Bind возвращает мандат, к которому токен привязан после вызова.
	Bind(ctx context.Context, jti, mandateID string, ttl time.Duration) (string, error)
}

// MemoryBindings — привязки в памяти процесса.
type MemoryBindings struct {
	mu    sync.Mutex
	items map[string]binding
	now   func() time.Time
}

type binding struct {
	mandateID string
	expires   time.Time
}

func NewMemoryBindings() *MemoryBindings {
	return &MemoryBindings{items: make(map[string]binding), now: time.Now}
}

func (m *MemoryBindings) Bind(_ context.Context, jti, mandateID string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if b, ok := m.items[jti]; ok && now.Before(b.expires) {
		return b.mandateID, nil
	}
	m.items[jti] = binding{mandateID: mandateID, expires: now.Add(ttl)}

	// чистка протухших записей
	for k, b := range m.items {
		if !now.Before(b.expires) {
			delete(m.items, k)
		}
	}
	return mandateID, nil
}

// RedisBindings — привязки через SETNX, общие для всех инстансов.
type RedisBindings struct {
	rdb *redis.Client
}

func NewRedisBindings(rdb *redis.Client) *RedisBindings {
	return &RedisBindings{rdb: rdb}
}

func (r *RedisBindings) Bind(ctx context.Context, jti, mandateID string, ttl time.Duration) (string, error) {
	key := infra.RedisKeyTokenBinding + jti
	ok, err := r.rdb.SetNX(ctx, key, mandateID, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("bind token: %w", err)
	}
	if ok {
		return mandateID, nil
	}
	current, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("read token binding: %w", err)
	}
	return current, nil
}
