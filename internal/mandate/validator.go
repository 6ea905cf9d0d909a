package mandate

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

// DefaultCartTTL — окно действия предложения, если мерчант не указал expires_at.
const DefaultCartTTL = 30 * time.Minute

// SignatureVerifier проверяет подпись мерчанта над хэшем корзины.
// Схема подписи — забота реализации, валидатору важен только контракт.
type SignatureVerifier interface {
	VerifyCart(ctx context.Context, cart domain.CartMandate, cartHash string) error
}

// Validator — проверка связки CartMandate ↔ PaymentMandate.
// Чистая функция: ничего не меняет и не ходит в сеть (кроме опционального верификатора).
type Validator struct {
	CartTTL  time.Duration
	Verifier SignatureVerifier // nil — подпись не проверяется
}

func NewValidator(cartTTL time.Duration, verifier SignatureVerifier) *Validator {
	if cartTTL <= 0 {
		cartTTL = DefaultCartTTL
	}
	return &Validator{CartTTL: cartTTL, Verifier: verifier}
}

// Validate выполняет проверки строго по порядку и падает на первой:
// INCONSISTENT_TOTAL → HASH_MISMATCH → CART_EXPIRED → METHOD_NOT_ACCEPTED → INVALID_SIGNATURE.
func (v *Validator) Validate(ctx context.Context, cart domain.CartMandate, pm domain.PaymentMandate) error {
	// (a) внутренняя согласованность суммы
	if err := cart.CheckTotals(); err != nil {
		return err
	}

	// (b) мандат ссылается ровно на эту корзину
	hash, err := HashCart(cart)
	if err != nil {
		return err
	}
	if pm.CartHash != hash {
		return domain.ErrHashMismatch.With("mandate %s references %q, cart %s hashes to %q",
			pm.ID, pm.CartHash, cart.Contents.ID, hash)
	}

	// (c) мандат создан внутри окна предложения
	expiry := cart.OfferExpiry(v.CartTTL)
	if pm.CreatedAt.Before(cart.Contents.CreatedAt) || pm.CreatedAt.After(expiry) {
		return domain.ErrCartExpired.With("mandate created at %s, offer window [%s, %s]",
			pm.CreatedAt.Format(time.RFC3339), cart.Contents.CreatedAt.Format(time.RFC3339), expiry.Format(time.RFC3339))
	}

	// (d) метод оплаты принимается мерчантом
	if !slices.ContainsFunc(cart.Contents.AcceptedMethods, func(m string) bool {
		return strings.EqualFold(m, pm.Method)
	}) {
		return domain.ErrMethodNotAccepted.With("method %q not in %v", pm.Method, cart.Contents.AcceptedMethods)
	}

	// (e) подпись мерчанта
	if v.Verifier != nil {
		if err := v.Verifier.VerifyCart(ctx, cart, hash); err != nil {
			return err
		}
	}
	return nil
}
