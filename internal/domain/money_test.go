package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"139.42", 13942},
		{"139.4", 13940},
		{"139", 13900},
		{"0.01", 1},
		{".5", 50},
		{"-12.30", -1230},
	}
	for _, tc := range cases {
		m, err := ParseMoney(tc.in, "USD")
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, m.Minor, tc.in)
	}

	_, err := ParseMoney("1.234", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseMoney("abc", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseMoney("1.-5", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseMoney("--1", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// целая часть помещается в int64, а в центах уже нет
	_, err = ParseMoney("184467440737095517.00", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	var m Money
	err = json.Unmarshal([]byte(`{"currency":"USD","value":"184467440737095517"}`), &m)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	largest, err := ParseMoney("92233720368547757.99", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775799), largest.Minor)
	_, err = ParseMoney("92233720368547758.00", "USD")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMoneyMulOverflow(t *testing.T) {
	m, err := MustMoney("49.99", "USD").Mul(2)
	require.NoError(t, err)
	assert.Equal(t, "99.98", m.String())

	_, err = NewMoney(math.MaxInt64/2+1, "USD").Mul(2)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = NewMoney(-math.MaxInt64/2-2, "USD").Mul(2)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, ok := AddMinor(math.MaxInt64, 1)
	assert.False(t, ok)
	v, ok := AddMinor(math.MaxInt64, -1)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64-1), v)
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(MustMoney("34.86", "USD"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"currency":"USD","value":"34.86"}`, string(b))

	var fromString, fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`{"currency":"USD","value":"139.42"}`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`{"currency":"USD","value":139.42}`), &fromNumber))
	assert.Equal(t, fromString, fromNumber)
	assert.Equal(t, int64(13942), fromNumber.Minor)

	var bad Money
	assert.Error(t, json.Unmarshal([]byte(`{"currency":"USD","value":1.005}`), &bad))
}

func TestMoneyArithmetic(t *testing.T) {
	a := MustMoney("10.00", "USD")
	b := MustMoney("2.50", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "12.50", sum.String())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, "-7.50", diff.String())

	_, err = a.Add(MustMoney("1", "EUR"))
	assert.Error(t, err)
}

func TestErrorMatchingByCode(t *testing.T) {
	err := ErrHashMismatch.With("cart %s", "c-1")
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.NotErrorIs(t, err, ErrCartExpired)
	assert.Equal(t, CodeHashMismatch, CodeOf(err))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsTransient(ErrLedgerUnavailable))
}

func TestSpendPolicyAvailableCreditClamped(t *testing.T) {
	p := SpendPolicy{
		CreditLimit:     MustMoney("100.00", "USD"),
		OutstandingDebt: MustMoney("150.00", "USD"),
	}
	assert.Equal(t, int64(0), p.AvailableCredit().Minor)
}
