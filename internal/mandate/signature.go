package mandate

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/agentpay/internal/domain"
)

// CartClaims — содержимое merchant_authorization: мерчант подписывает хэш корзины.
type CartClaims struct {
	CartHash string `json:"cart_hash"`
	jwt.RegisteredClaims
}

// MerchantKeys — ключи проверки подписи мерчантов. Поддерживаются HS256 и RS256.
// ID мерчанта без учета регистра: viper приводит ключи конфига к нижнему.
type MerchantKeys struct {
	mu     sync.RWMutex
	hmac   map[string][]byte
	public map[string]*rsa.PublicKey
}

func NewMerchantKeys() *MerchantKeys {
	return &MerchantKeys{
		hmac:   make(map[string][]byte),
		public: make(map[string]*rsa.PublicKey),
	}
}

func (k *MerchantKeys) SetSecret(merchantID string, secret []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hmac[strings.ToLower(merchantID)] = secret
}

func (k *MerchantKeys) SetPublicKey(merchantID string, key *rsa.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.public[strings.ToLower(merchantID)] = key
}

// keyFor выбирает ключ под алгоритм токена, чтобы RS256-мерчанта нельзя было подделать через HS256.
func (k *MerchantKeys) keyFor(merchantID string, method jwt.SigningMethod) (any, error) {
	id := strings.ToLower(merchantID)
	k.mu.RLock()
	defer k.mu.RUnlock()
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if s, ok := k.hmac[id]; ok {
			return s, nil
		}
	case *jwt.SigningMethodRSA:
		if p, ok := k.public[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no %s key for merchant %s", method.Alg(), merchantID)
}

// MerchantJWTVerifier проверяет merchant_authorization как JWT с claim cart_hash.
type MerchantJWTVerifier struct {
	keys *MerchantKeys
}

func NewMerchantJWTVerifier(keys *MerchantKeys) *MerchantJWTVerifier {
	return &MerchantJWTVerifier{keys: keys}
}

func (v *MerchantJWTVerifier) VerifyCart(_ context.Context, cart domain.CartMandate, cartHash string) error {
	raw := cart.MerchantAuthorization
	if raw == "" {
		return domain.ErrInvalidSignature.With("cart %s is not signed", cart.Contents.ID)
	}

	merchant := cart.Contents.MerchantID
	claims := &CartClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.keys.keyFor(merchant, t.Method)
	},
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithIssuer(merchant),
	)
	if err != nil || !token.Valid {
		return domain.ErrInvalidSignature.With("merchant %s: %v", merchant, err)
	}
	if claims.CartHash != cartHash {
		return domain.ErrInvalidSignature.With("signature covers %q, cart hashes to %q", claims.CartHash, cartHash)
	}
	return nil
}

// SignCart — подпись корзины секретом мерчанта (HS256). Используется в sandbox и тестах.
func SignCart(cart domain.CartMandate, secret []byte) (string, error) {
	hash, err := HashCart(cart)
	if err != nil {
		return "", err
	}
	claims := CartClaims{
		CartHash: hash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cart.Contents.MerchantID,
			IssuedAt: jwt.NewNumericDate(cart.Contents.CreatedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
