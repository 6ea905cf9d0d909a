package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/ledger"
	"golang.org/x/time/rate"
)

// ReliableConfig — параметры устойчивости вызовов леджера.
type ReliableConfig struct {
	RateLimit     float64
	RateBurst     int
	Attempts      uint
	Delay         time.Duration
	MaxDelay      time.Duration
	CallTimeout   time.Duration
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32
}

func (c *ReliableConfig) setDefaults() {
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.CBFailures == 0 {
		c.CBFailures = 5
	}
}

// ReliableLedger оборачивает леджер: rate limiter → circuit breaker → retry с бэкоффом.
// Повторяются только временные сбои, ошибки валидации и ресурсов возвращаются сразу.
type ReliableLedger struct {
	next    ledger.Ledger
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliableConfig
}

func NewReliableLedger(next ledger.Ledger, cfg ReliableConfig) *ReliableLedger {
	cfg.setDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "credit-ledger",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailures
		},
		// Бизнес-отказы (нет кредита, не зарегистрирован) не считаются сбоем леджера
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
	})

	return &ReliableLedger{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
	}
}

// retryable — временная ошибка движка, троттлинг или неизвестная ошибка транспорта.
func retryable(err error) bool {
	var tErr *ledger.ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	kind := domain.KindOf(err)
	return kind == domain.KindTransient || kind == domain.KindTimeout || kind == ""
}

func call[T any](ctx context.Context, w *ReliableLedger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return zero, domain.ErrLedgerUnavailable.With("rate limit wait: %v", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var out T
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.Delay(w.cfg.Delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
			// Троттлинг: ждем ровно столько, сколько попросил леджер
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ledger.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return min(retry.BackOffDelay(n, err, config), w.cfg.MaxDelay)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			var callErr error
			out, callErr = fn(tCtx)
			return callErr
		})
		return out, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, domain.ErrLedgerUnavailable.With("circuit breaker: %v", err)
		}
		if retryable(err) && domain.KindOf(err) == "" {
			return zero, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
		}
		return zero, err
	}
	return res.(T), nil
}

func (w *ReliableLedger) IsRegistered(ctx context.Context, borrowerID, merchantID string) (bool, error) {
	return call(ctx, w, func(ctx context.Context) (bool, error) {
		return w.next.IsRegistered(ctx, borrowerID, merchantID)
	})
}

func (w *ReliableLedger) CreditLine(ctx context.Context, borrowerID string) (domain.CreditLine, error) {
	return call(ctx, w, func(ctx context.Context) (domain.CreditLine, error) {
		return w.next.CreditLine(ctx, borrowerID)
	})
}

func (w *ReliableLedger) SetSpendAuthorization(ctx context.Context, borrowerID string, amount domain.Money) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.next.SetSpendAuthorization(ctx, borrowerID, amount)
	})
	return err
}

func (w *ReliableLedger) ExecuteSpend(ctx context.Context, req ledger.SpendRequest) (string, error) {
	return call(ctx, w, func(ctx context.Context) (string, error) {
		return w.next.ExecuteSpend(ctx, req)
	})
}

func (w *ReliableLedger) Chargeback(ctx context.Context, borrowerID string, amount domain.Money, ref string) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.next.Chargeback(ctx, borrowerID, amount, ref)
	})
	return err
}

func (w *ReliableLedger) SetCreditLimit(ctx context.Context, borrowerID string, limit domain.Money) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.next.SetCreditLimit(ctx, borrowerID, limit)
	})
	return err
}

// State — состояние предохранителя для метрик и health-check.
func (w *ReliableLedger) State() string {
	return w.cb.State().String()
}
