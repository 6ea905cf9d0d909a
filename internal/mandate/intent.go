package mandate

import (
	"slices"
	"time"

	"github.com/xela07ax/agentpay/internal/domain"
)

// ValidateIntent проверяет, что корзина укладывается в намерение пользователя:
// намерение не истекло к моменту создания корзины, мерчант и SKU разрешены.
func ValidateIntent(intent domain.IntentMandate, cart domain.CartMandate) error {
	if !intent.ExpiresAt.IsZero() && cart.Contents.CreatedAt.After(intent.ExpiresAt) {
		return domain.ErrIntentExpired.With("intent %s expired at %s", intent.ID, intent.ExpiresAt.Format(time.RFC3339))
	}

	if len(intent.Merchants) > 0 && !slices.Contains(intent.Merchants, cart.Contents.MerchantID) {
		return domain.ErrMerchantNotAllowed.With("merchant %s not allowed by intent %s", cart.Contents.MerchantID, intent.ID)
	}

	if len(intent.SKUs) > 0 {
		for _, item := range cart.Contents.Items {
			if !slices.Contains(intent.SKUs, item.SKU) {
				return domain.ErrMerchantNotAllowed.With("sku %q not allowed by intent %s", item.SKU, intent.ID)
			}
		}
	}
	return nil
}
