package domain

import (
	"time"
)

// IntentMandate — намерение покупки, сформулированное пользователем.
// Создается один раз на сессию и больше не меняется.
type IntentMandate struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Description string `json:"description"`

	// Необязательные ограничения: пустой список — без ограничений
	Merchants []string `json:"merchants,omitempty"`
	SKUs      []string `json:"skus,omitempty"`

	RequiresRefundability bool      `json:"requires_refundability,omitempty"`
	ExpiresAt             time.Time `json:"expires_at"`
	CreatedAt             time.Time `json:"created_at"`
}

type LineItem struct {
	Label    string `json:"label"`
	SKU      string `json:"sku,omitempty"`
	Quantity int64  `json:"quantity"`
	Amount   Money  `json:"amount"` // цена за единицу
}

// CartContents — подписываемая часть CartMandate. Хэш считается только от нее.
type CartContents struct {
	ID              string     `json:"id"`
	Items           []LineItem `json:"items"`
	Subtotal        Money      `json:"subtotal"`
	Shipping        Money      `json:"shipping"`
	Tax             Money      `json:"tax"`
	Total           Money      `json:"total"`
	AcceptedMethods []string   `json:"accepted_payment_methods"`
	MerchantID      string     `json:"merchant_id"`
	MerchantName    string     `json:"merchant_name"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// CartMandate — подписанное мерчантом обязательство по корзине.
type CartMandate struct {
	Contents              CartContents `json:"contents"`
	MerchantAuthorization string       `json:"merchant_authorization,omitempty"`
}

// CheckTotals проверяет инвариант total = Σ(позиции) + shipping + tax.
func (c CartMandate) CheckTotals() error {
	ct := c.Contents
	cur := ct.Total.Currency

	sum := Money{Currency: cur}
	for i, item := range ct.Items {
		if item.Quantity <= 0 {
			return ErrInconsistentTotal.With("item %d has non-positive quantity", i)
		}
		if item.Amount.Currency != cur {
			return ErrInconsistentTotal.With("item %d currency %s differs from total %s", i, item.Amount.Currency, cur)
		}
		line, err := item.Amount.Mul(item.Quantity)
		if err != nil {
			return ErrInconsistentTotal.With("item %d: %v", i, err)
		}
		var ok bool
		if sum.Minor, ok = AddMinor(sum.Minor, line.Minor); !ok {
			return ErrInconsistentTotal.With("items of cart %s overflow", ct.ID)
		}
	}

	for _, part := range []Money{ct.Subtotal, ct.Shipping, ct.Tax} {
		if part.Currency != "" && part.Currency != cur {
			return ErrInconsistentTotal.With("mixed currencies in cart %s", ct.ID)
		}
	}

	if ct.Subtotal.Minor != sum.Minor {
		return ErrInconsistentTotal.With("subtotal %s != items %s", ct.Subtotal, sum)
	}
	expected, ok := AddMinor(sum.Minor, ct.Shipping.Minor)
	if ok {
		expected, ok = AddMinor(expected, ct.Tax.Minor)
	}
	if !ok || ct.Total.Minor != expected {
		return ErrInconsistentTotal.With("total %s != %s", ct.Total, Money{Minor: expected})
	}
	if !ct.Total.IsPositive() {
		return ErrInvalidAmount.With("cart %s total must be positive", ct.ID)
	}
	return nil
}

// OfferExpiry — конец окна действия предложения мерчанта.
func (c CartMandate) OfferExpiry(defaultTTL time.Duration) time.Time {
	if c.Contents.ExpiresAt != nil {
		return *c.Contents.ExpiresAt
	}
	return c.Contents.CreatedAt.Add(defaultTTL)
}

type TransactionMode string

const (
	ModeHumanPresent TransactionMode = "human_present"
	ModeAutonomous   TransactionMode = "autonomous"
)

// PaymentMandate — конверт авторизации. CartHash ссылается на CartMandate, копии корзины нет.
type PaymentMandate struct {
	ID                string          `json:"id"`
	CartHash          string          `json:"cart_hash"`
	AgentID           string          `json:"agent_id"`
	Method            string          `json:"payment_method"`
	CredentialToken   string          `json:"credential_token"`
	Plan              PaymentPlan     `json:"payment_plan"`
	UserAuthorization *Attestation    `json:"user_authorization,omitempty"`
	Mode              TransactionMode `json:"transaction_mode"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Attestation — подтверждение с устройства (Face ID / Touch ID).
// Криптографию биометрии движок не проверяет, только форму записи.
type Attestation struct {
	Type        string             `json:"type"`
	Method      string             `json:"authentication_method,omitempty"`
	Signature   string             `json:"signature"`
	Timestamp   time.Time          `json:"timestamp"`
	DeviceID    string             `json:"device_id"`
	Certificate *DeviceCertificate `json:"device_certificate,omitempty"`
}

type DeviceCertificate struct {
	Issuer     string `json:"issuer"`
	Serial     string `json:"serial"`
	ValidUntil string `json:"valid_until"`
}

// WellFormed проверяет обязательные поля: type, signature, timestamp, device_id.
func (a *Attestation) WellFormed() error {
	switch {
	case a == nil:
		return ErrMalformedAttest.With("attestation is missing")
	case a.Type == "":
		return ErrMalformedAttest.With("attestation type is empty")
	case a.Signature == "":
		return ErrMalformedAttest.With("attestation signature is empty")
	case a.Timestamp.IsZero():
		return ErrMalformedAttest.With("attestation timestamp is empty")
	case a.DeviceID == "":
		return ErrMalformedAttest.With("attestation device_id is empty")
	}
	return nil
}

// InWindow — попадает ли отметка времени в [from, to].
func (a *Attestation) InWindow(from, to time.Time) bool {
	return !a.Timestamp.Before(from) && !a.Timestamp.After(to)
}
