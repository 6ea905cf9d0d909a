package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// maxWhole: наибольшая целая часть, которая помещается в int64 после перевода в центы.
const maxWhole = (math.MaxInt64 - 99) / 100

// Money — сумма в минорных единицах (центах) с фиксированной точностью 2 знака.
// Целочисленная арифметика исключает ошибки округления float.
type Money struct {
	Minor    int64  `json:"-"`
	Currency string `json:"-"`
}

// NewMoney создает сумму из минорных единиц.
func NewMoney(minor int64, currency string) Money {
	return Money{Minor: minor, Currency: currency}
}

// ParseMoney разбирает десятичную строку вида "139.42".
// Больше двух знаков после точки — ошибка INVALID_AMOUNT (валидация на границе).
func ParseMoney(value, currency string) (Money, error) {
	minor, err := parseMinor(value)
	if err != nil {
		return Money{}, err
	}
	return Money{Minor: minor, Currency: currency}, nil
}

// MustMoney — хелпер для тестов и сидов.
func MustMoney(value, currency string) Money {
	m, err := ParseMoney(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func parseMinor(value string) (int64, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, NewError(CodeInvalidAmount, KindValidation, "empty amount")
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, NewError(CodeInvalidAmount, KindValidation, fmt.Sprintf("amount %q has more than 2 decimals", value))
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, NewError(CodeInvalidAmount, KindValidation, fmt.Sprintf("invalid amount %q", value))
	}
	f, err := strconv.ParseUint(frac, 10, 8)
	if err != nil || strings.ContainsAny(whole, "+-") {
		return 0, NewError(CodeInvalidAmount, KindValidation, fmt.Sprintf("invalid amount %q", value))
	}

	if w > maxWhole {
		return 0, NewError(CodeInvalidAmount, KindValidation, fmt.Sprintf("amount %q is out of range", value))
	}

	minor := w*100 + int64(f)
	if neg {
		minor = -minor
	}
	return minor, nil
}

// String возвращает десятичное представление без валюты: "139.42".
func (m Money) String() string {
	sign := ""
	v := m.Minor
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float64 используется только для метрик и логов, не для расчетов.
func (m Money) Float64() float64 {
	return float64(m.Minor) / 100
}

func (m Money) IsPositive() bool { return m.Minor > 0 }
func (m Money) IsZero() bool     { return m.Minor == 0 }

// Add складывает суммы одной валюты. Пустая валюта совместима с любой (нулевое значение).
func (m Money) Add(other Money) (Money, error) {
	cur, err := m.sameCurrency(other)
	if err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor + other.Minor, Currency: cur}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	cur, err := m.sameCurrency(other)
	if err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor - other.Minor, Currency: cur}, nil
}

// Mul умножает на целое количество (quantity в позиции корзины). Переполнение — INVALID_AMOUNT.
func (m Money) Mul(n int64) (Money, error) {
	v, ok := MulMinor(m.Minor, n)
	if !ok {
		return Money{}, ErrInvalidAmount.With("%s x %d is out of range", m, n)
	}
	return Money{Minor: v, Currency: m.Currency}, nil
}

// MulMinor — произведение с контролем переполнения int64.
func MulMinor(a, b int64) (int64, bool) {
	hi, lo := bits.Mul64(absMinor(a), absMinor(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	if (a < 0) != (b < 0) {
		return -int64(lo), true
	}
	return int64(lo), true
}

// AddMinor — сумма с контролем переполнения int64.
func AddMinor(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func absMinor(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// Cmp: -1, 0, 1. Валюта не сравнивается — вызывающий отвечает за согласованность.
func (m Money) Cmp(other Money) int {
	switch {
	case m.Minor < other.Minor:
		return -1
	case m.Minor > other.Minor:
		return 1
	}
	return 0
}

func (m Money) sameCurrency(other Money) (string, error) {
	switch {
	case m.Currency == other.Currency:
		return m.Currency, nil
	case m.Currency == "":
		return other.Currency, nil
	case other.Currency == "":
		return m.Currency, nil
	}
	return "", fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
}

type moneyJSON struct {
	Currency string      `json:"currency"`
	Value    json.Number `json:"value"`
}

// MarshalJSON — формат AP2: {"currency":"USD","value":"139.42"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Currency string `json:"currency"`
		Value    string `json:"value"`
	}{Currency: m.Currency, Value: m.String()})
}

// UnmarshalJSON принимает value и строкой, и числом.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		var s string
		if jerr := json.Unmarshal(data, &s); jerr != nil {
			return err
		}
		raw.Value = json.Number(s)
	}
	minor, err := parseMinor(raw.Value.String())
	if err != nil {
		return err
	}
	m.Minor = minor
	m.Currency = raw.Currency
	return nil
}
