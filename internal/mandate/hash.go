// Package mandate проверяет цепочку мандатов AP2: Intent → Cart → Payment.
package mandate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/xela07ax/agentpay/internal/domain"
)

// HashPrefix — префикс алгоритма в строке хэша.
const HashPrefix = "sha256:"

// HashCart считает хэш подписываемой части корзины по канонической форме JSON (RFC 8785).
// Подпись мерчанта в хэш не входит: она сама подписывает этот хэш.
func HashCart(cart domain.CartMandate) (string, error) {
	return hashCanonical(cart.Contents)
}

func hashCanonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mandate: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("mandate: canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}
