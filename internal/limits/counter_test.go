package limits

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
)

var day1 = time.Date(2025, 10, 1, 23, 30, 0, 0, time.UTC)

func usd(v string) domain.Money { return domain.MustMoney(v, "USD") }

func counters(t *testing.T) map[string]Counter {
	mr := miniredis.RunT(t)
	return map[string]Counter{
		"memory": NewMemory(),
		"redis":  NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
}

func TestReserveCaps(t *testing.T) {
	caps := Caps{PerTransaction: 100000, PerDay: 200000, PerMonth: 500000}
	ctx := context.Background()

	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			err := c.Reserve(ctx, "user-1", usd("1000.01"), caps, day1)
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)

			require.NoError(t, c.Reserve(ctx, "user-1", usd("1000.00"), caps, day1))
			require.NoError(t, c.Reserve(ctx, "user-1", usd("1000.00"), caps, day1))
			err = c.Reserve(ctx, "user-1", usd("0.01"), caps, day1)
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)

			// новый день, тот же месяц
			day2 := day1.Add(time.Hour)
			require.NoError(t, c.Reserve(ctx, "user-1", usd("1000.00"), caps, day2))
			require.NoError(t, c.Reserve(ctx, "user-1", usd("1000.00"), caps, day2))
			day3 := day2.Add(24 * time.Hour)
			require.NoError(t, c.Reserve(ctx, "user-1", usd("1000.00"), caps, day3))
			err = c.Reserve(ctx, "user-1", usd("0.01"), caps, day3)
			assert.ErrorIs(t, err, domain.ErrLimitExceeded)

			d, m, err := c.Spent(ctx, "user-1", day3)
			require.NoError(t, err)
			assert.Equal(t, int64(100000), d)
			assert.Equal(t, int64(500000), m)

			// другие пользователи не затронуты
			require.NoError(t, c.Reserve(ctx, "user-2", usd("10.00"), caps, day3))
		})
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			caps := Caps{PerDay: 10000}
			require.NoError(t, c.Reserve(ctx, "user-1", usd("100.00"), caps, day1))
			assert.ErrorIs(t, c.Reserve(ctx, "user-1", usd("1.00"), caps, day1), domain.ErrLimitExceeded)

			require.NoError(t, c.Release(ctx, "user-1", usd("100.00"), day1))
			require.NoError(t, c.Reserve(ctx, "user-1", usd("1.00"), caps, day1))
		})
	}
}

func TestUnlimited(t *testing.T) {
	ctx := context.Background()
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, c.Reserve(ctx, "user-1", usd("999999.00"), Caps{}, day1))
			}
		})
	}
}
