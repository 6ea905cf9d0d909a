package mandate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
)

var created = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func testCart() domain.CartMandate {
	return domain.CartMandate{Contents: domain.CartContents{
		ID: "cart-1",
		Items: []domain.LineItem{
			{Label: "Coffee beans", SKU: "sku-beans", Quantity: 2, Amount: domain.MustMoney("49.99", "USD")},
			{Label: "Grinder", SKU: "sku-grinder", Quantity: 1, Amount: domain.MustMoney("29.44", "USD")},
		},
		Subtotal:        domain.MustMoney("129.42", "USD"),
		Shipping:        domain.MustMoney("5.00", "USD"),
		Tax:             domain.MustMoney("5.00", "USD"),
		Total:           domain.MustMoney("139.42", "USD"),
		AcceptedMethods: []string{"SOHO_CREDIT"},
		MerchantID:      "merchant-1",
		MerchantName:    "Coffee Co",
		CreatedAt:       created,
	}}
}

func testMandate(t *testing.T, cart domain.CartMandate) domain.PaymentMandate {
	t.Helper()
	hash, err := HashCart(cart)
	require.NoError(t, err)
	return domain.PaymentMandate{
		ID:        "pm-1",
		CartHash:  hash,
		AgentID:   "agent-1",
		Method:    "SOHO_CREDIT",
		Mode:      domain.ModeHumanPresent,
		CreatedAt: created.Add(5 * time.Minute),
	}
}

func TestHashCartStable(t *testing.T) {
	cart := testCart()
	h1, err := HashCart(cart)
	require.NoError(t, err)
	assert.Contains(t, h1, HashPrefix)

	// повторная сериализация не меняет хэш
	raw, err := json.Marshal(cart)
	require.NoError(t, err)
	var decoded domain.CartMandate
	require.NoError(t, json.Unmarshal(raw, &decoded))
	h2, err := HashCart(decoded)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// подпись мерчанта в хэш не входит
	decoded.MerchantAuthorization = "sig"
	h3, _ := HashCart(decoded)
	assert.Equal(t, h1, h3)

	// изменение любой цены меняет хэш
	decoded.Contents.Shipping = domain.MustMoney("5.01", "USD")
	h4, _ := HashCart(decoded)
	assert.NotEqual(t, h1, h4)
}

func TestValidate(t *testing.T) {
	v := NewValidator(0, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(c *domain.CartMandate, pm *domain.PaymentMandate)
		want   error
	}{
		{name: "valid chain", mutate: func(*domain.CartMandate, *domain.PaymentMandate) {}},
		{
			name: "total does not match items",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				c.Contents.Total = domain.MustMoney("140.00", "USD")
			},
			want: domain.ErrInconsistentTotal,
		},
		{
			name: "mandate references another cart",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				pm.CartHash = "sha256:deadbeef"
			},
			want: domain.ErrHashMismatch,
		},
		{
			name: "cart changed after mandate was signed",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				c.Contents.MerchantName = "Other Co"
			},
			want: domain.ErrHashMismatch,
		},
		{
			name: "mandate created after offer expired",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				pm.CreatedAt = created.Add(DefaultCartTTL + time.Second)
			},
			want: domain.ErrCartExpired,
		},
		{
			name: "mandate created before cart",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				pm.CreatedAt = created.Add(-time.Second)
			},
			want: domain.ErrCartExpired,
		},
		{
			name: "method not accepted",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				pm.Method = "CARD"
			},
			want: domain.ErrMethodNotAccepted,
		},
		{
			name: "method matched case-insensitively",
			mutate: func(c *domain.CartMandate, pm *domain.PaymentMandate) {
				pm.Method = "soho_credit"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := testCart()
			pm := testMandate(t, cart)
			tt.mutate(&cart, &pm)

			err := v.Validate(ctx, cart, pm)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateExplicitExpiry(t *testing.T) {
	cart := testCart()
	exp := created.Add(2 * time.Minute)
	cart.Contents.ExpiresAt = &exp
	pm := testMandate(t, cart)

	err := NewValidator(time.Hour, nil).Validate(context.Background(), cart, pm)
	assert.ErrorIs(t, err, domain.ErrCartExpired)
}

func TestValidateReportsFirstFailure(t *testing.T) {
	cart := testCart()
	pm := testMandate(t, cart)
	// ломаем сразу сумму, хэш и метод: ожидаем первую по порядку ошибку
	cart.Contents.Tax = domain.MustMoney("6.00", "USD")
	pm.CartHash = "sha256:00"
	pm.Method = "CARD"

	err := NewValidator(0, nil).Validate(context.Background(), cart, pm)
	assert.Equal(t, domain.CodeInconsistentTotal, domain.CodeOf(err))
}

func TestMerchantSignature(t *testing.T) {
	secret := []byte("merchant-secret")
	keys := NewMerchantKeys()
	keys.SetSecret("Merchant-1", secret) // ключи из конфига приходят в другом регистре
	v := NewValidator(0, NewMerchantJWTVerifier(keys))
	ctx := context.Background()

	cart := testCart()
	sig, err := SignCart(cart, secret)
	require.NoError(t, err)
	cart.MerchantAuthorization = sig
	pm := testMandate(t, cart)
	assert.NoError(t, v.Validate(ctx, cart, pm))

	t.Run("unsigned", func(t *testing.T) {
		c := cart
		c.MerchantAuthorization = ""
		assert.ErrorIs(t, v.Validate(ctx, c, pm), domain.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		c := cart
		c.MerchantAuthorization, _ = SignCart(cart, []byte("other"))
		assert.ErrorIs(t, v.Validate(ctx, c, pm), domain.ErrInvalidSignature)
	})

	t.Run("signature over another cart", func(t *testing.T) {
		other := testCart()
		other.Contents.ID = "cart-2"
		c := cart
		c.MerchantAuthorization, _ = SignCart(other, secret)
		assert.ErrorIs(t, v.Validate(ctx, c, pm), domain.ErrInvalidSignature)
	})
}

func TestMerchantSignatureRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := NewMerchantKeys()
	keys.SetPublicKey("merchant-1", &key.PublicKey)

	cart := testCart()
	hash, _ := HashCart(cart)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, CartClaims{
		CartHash:         hash,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "merchant-1"},
	}).SignedString(key)
	require.NoError(t, err)
	cart.MerchantAuthorization = signed

	verifier := NewMerchantJWTVerifier(keys)
	assert.NoError(t, verifier.VerifyCart(context.Background(), cart, hash))

	// HS256 для RS256-мерчанта не принимается
	forged, _ := SignCart(cart, []byte("guess"))
	cart.MerchantAuthorization = forged
	assert.ErrorIs(t, verifier.VerifyCart(context.Background(), cart, hash), domain.ErrInvalidSignature)
}

func TestValidateIntent(t *testing.T) {
	cart := testCart()
	intent := domain.IntentMandate{
		ID:        "intent-1",
		Merchants: []string{"merchant-1"},
		SKUs:      []string{"sku-beans", "sku-grinder"},
		ExpiresAt: created.Add(time.Hour),
	}
	assert.NoError(t, ValidateIntent(intent, cart))

	expired := intent
	expired.ExpiresAt = created.Add(-time.Minute)
	assert.ErrorIs(t, ValidateIntent(expired, cart), domain.ErrIntentExpired)

	otherMerchant := intent
	otherMerchant.Merchants = []string{"merchant-2"}
	assert.ErrorIs(t, ValidateIntent(otherMerchant, cart), domain.ErrMerchantNotAllowed)

	narrowSKU := intent
	narrowSKU.SKUs = []string{"sku-beans"}
	assert.ErrorIs(t, ValidateIntent(narrowSKU, cart), domain.ErrMerchantNotAllowed)
}
