package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
	"go.uber.org/zap"
)

// RedisPublisher транслирует события в канал agentpay:payments:events для внутренних потребителей.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger.Named("events-redis")}
}

func (p *RedisPublisher) Publish(ctx context.Context, e domain.PaymentEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event failed", zap.String("event_id", e.ID), zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, infra.RedisChanPaymentEvents, body).Err(); err != nil {
		p.logger.Warn("event publish failed", zap.String("event_id", e.ID), zap.Error(err))
	}
}
