package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const warmupLockTTL = 30 * time.Second

// WarmupState прогревает L1 (RAM) и L2 (Redis) состояние одного режима агентов.
// Redis заливается из БД только если множество пусто, и только одним инстансом.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	setKey string,
	lockKey string,
	updateL1 func([]string),
) error {
	updateL1(ids)
	if len(ids) == 0 {
		return nil
	}

	ok, err := rdb.SetNX(ctx, lockKey, "warming", warmupLockTTL).Result()
	if err != nil {
		logger.Warn("warm-up lock unavailable, skipping L2", zap.String("key", setKey), zap.Error(err))
		return nil
	}
	if !ok {
		return nil // другой инстанс уже греет кэш
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)

	size, err := rdb.SCard(ctx, setKey).Result()
	if err != nil {
		logger.Warn("could not check Redis set size, proceeding with warm-up", zap.String("key", setKey), zap.Error(err))
		size = 0
	}
	if size > 0 {
		return nil
	}

	logger.Info("agent state set is empty, warming up from DB", zap.String("key", setKey), zap.Int("count", len(ids)))
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return rdb.SAdd(ctx, setKey, members...).Err()
}
