package bnpl

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
)

var today = time.Date(2025, 10, 1, 15, 30, 0, 0, time.UTC)

func TestQuoteOrderAndTotals(t *testing.T) {
	e := NewEngine(0, DefaultRateBps)
	amount := domain.MustMoney("139.42", "USD")

	plans, err := e.Quote(amount, today)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	assert.Equal(t, domain.PlanPayInFull, plans[0].ID)
	assert.Equal(t, domain.PlanPayIn4, plans[1].ID)
	assert.Equal(t, domain.PlanPayIn12, plans[2].ID)

	for _, p := range plans {
		assert.Equal(t, p.Total, p.ScheduleSum(), "plan %s", p.ID)
		assert.Len(t, p.Schedule, p.Installments)
		assert.Empty(t, p.Flags)
	}
}

func TestPayInFull(t *testing.T) {
	plans, err := NewEngine(30, DefaultRateBps).Quote(domain.MustMoney("139.42", "USD"), today)
	require.NoError(t, err)

	full := plans[0]
	assert.Equal(t, "139.42", full.Total.String())
	assert.Equal(t, int64(0), full.InterestBps)
	assert.Equal(t, time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC), full.Schedule[0].Due)
}

func TestPayIn4Remainder(t *testing.T) {
	plans, err := NewEngine(0, DefaultRateBps).Quote(domain.MustMoney("139.42", "USD"), today)
	require.NoError(t, err)

	p4 := plans[1]
	assert.Equal(t, "34.86", p4.PerInstallment.String())
	got := make([]string, 0, 4)
	for _, in := range p4.Schedule {
		got = append(got, in.Amount.String())
	}
	assert.Equal(t, []string{"34.86", "34.86", "34.86", "34.84"}, got)
	assert.Equal(t, "139.42", p4.Total.String())

	day := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, offset := range []int{0, 14, 28, 42} {
		assert.Equal(t, day.AddDate(0, 0, offset), p4.Schedule[i].Due)
	}
}

func TestPayIn12Interest(t *testing.T) {
	plans, err := NewEngine(0, DefaultRateBps).Quote(domain.MustMoney("139.42", "USD"), today)
	require.NoError(t, err)

	p12 := plans[2]
	// 139.42 × 1.0599 = 147.771258 → 147.77
	assert.Equal(t, "147.77", p12.Total.String())
	assert.Equal(t, "12.31", p12.PerInstallment.String())
	assert.Equal(t, "12.36", p12.Schedule[11].Amount.String())
	assert.Equal(t, int64(599), p12.InterestBps)

	day := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day.AddDate(0, 0, 30), p12.Schedule[0].Due)
	assert.Equal(t, day.AddDate(0, 0, 360), p12.Schedule[11].Due)
}

func TestQuoteRejectsNonPositive(t *testing.T) {
	e := NewEngine(0, DefaultRateBps)
	_, err := e.Quote(domain.MustMoney("0", "USD"), today)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Quote(domain.MustMoney("-1.00", "USD"), today)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestQuoteRejectsOutOfRange(t *testing.T) {
	e := NewEngine(0, DefaultRateBps)
	_, err := e.Quote(domain.NewMoney(math.MaxInt64/2, "USD"), today)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// крупная, но представимая сумма считается без переполнения
	plans, err := e.Quote(domain.NewMoney(100_000_000_000_000, "USD"), today)
	require.NoError(t, err)
	assert.Greater(t, plans[2].Total.Minor, plans[0].Total.Minor)
	assert.Positive(t, plans[2].Schedule[11].Amount.Minor)
}

func TestTinyAmountFlagged(t *testing.T) {
	plans, err := NewEngine(0, DefaultRateBps).Quote(domain.MustMoney("0.03", "USD"), today)
	require.NoError(t, err)

	p4 := plans[1]
	assert.True(t, p4.HasFlag(domain.FlagZeroInstallment))
	assert.Equal(t, p4.Total, p4.ScheduleSum())

	p12 := plans[2]
	assert.True(t, p12.HasFlag(domain.FlagZeroInstallment))
	for _, in := range p12.Schedule {
		assert.GreaterOrEqual(t, in.Amount.Minor, int64(0))
	}
}

func TestQuoteDeterministic(t *testing.T) {
	e := NewEngine(0, DefaultRateBps)
	a, _ := e.Quote(domain.MustMoney("57.01", "USD"), today)
	b, _ := e.Quote(domain.MustMoney("57.01", "USD"), today.Add(3*time.Hour))
	assert.Equal(t, a, b)
}

func TestCheck(t *testing.T) {
	e := NewEngine(0, DefaultRateBps)
	amount := domain.MustMoney("139.42", "USD")
	plans, _ := e.Quote(amount, today)

	got, err := e.Check(plans[1], amount, today)
	require.NoError(t, err)
	assert.Equal(t, plans[1], got)

	forged := plans[2]
	forged.Total = amount
	_, err = e.Check(forged, amount, today)
	assert.ErrorIs(t, err, domain.ErrPlanMismatch)

	_, err = e.Check(domain.PaymentPlan{ID: "pay_in_7"}, amount, today)
	assert.ErrorIs(t, err, domain.ErrPlanMismatch)

	// другая сумма корзины — план уже не сходится
	_, err = e.Check(plans[1], domain.MustMoney("140.00", "USD"), today)
	assert.ErrorIs(t, err, domain.ErrPlanMismatch)
}
