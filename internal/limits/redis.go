package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra"
)

// reserveScript проверяет оба окна и увеличивает их одной операцией.
var reserveScript = redis.NewScript(`
local day = tonumber(redis.call("GET", KEYS[1]) or "0")
local month = tonumber(redis.call("GET", KEYS[2]) or "0")
local amount = tonumber(ARGV[1])
local dayCap = tonumber(ARGV[2])
local monthCap = tonumber(ARGV[3])
if dayCap > 0 and day + amount > dayCap then
	return -1
end
if monthCap > 0 and month + amount > monthCap then
	return -2
end
redis.call("INCRBY", KEYS[1], amount)
redis.call("EXPIRE", KEYS[1], ARGV[4])
redis.call("INCRBY", KEYS[2], amount)
redis.call("EXPIRE", KEYS[2], ARGV[5])
return 1
`)

const (
	dayTTL   = 48 * time.Hour
	monthTTL = 32 * 24 * time.Hour
)

// Redis — счетчики, общие для всех инстансов движка.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) keys(userID string, at time.Time) []string {
	d, m := Buckets(at)
	return []string{infra.SpendCounterKey(userID, d), infra.SpendCounterKey(userID, m)}
}

func (r *Redis) Reserve(ctx context.Context, userID string, amount domain.Money, caps Caps, at time.Time) error {
	if err := checkTransaction(amount, caps); err != nil {
		return err
	}
	res, err := reserveScript.Run(ctx, r.rdb, r.keys(userID, at),
		amount.Minor, caps.PerDay, caps.PerMonth, int64(dayTTL.Seconds()), int64(monthTTL.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("reserve spend: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrLimitExceeded.With("daily limit %s reached", domain.NewMoney(caps.PerDay, amount.Currency))
	case -2:
		return domain.ErrLimitExceeded.With("monthly limit %s reached", domain.NewMoney(caps.PerMonth, amount.Currency))
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, userID string, amount domain.Money, at time.Time) error {
	pipe := r.rdb.Pipeline()
	for _, k := range r.keys(userID, at) {
		pipe.DecrBy(ctx, k, amount.Minor)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Spent(ctx context.Context, userID string, at time.Time) (int64, int64, error) {
	keys := r.keys(userID, at)
	vals := make([]int64, 2)
	for i, k := range keys {
		v, err := r.rdb.Get(ctx, k).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, 0, err
		}
		vals[i] = v
	}
	return vals[0], vals[1], nil
}
