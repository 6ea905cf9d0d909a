package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/agentpay/internal/domain"
)

// clockSkew — допустимое расхождение часов между эмитентом токенов и движком.
const clockSkew = 30 * time.Second

var errNoClient = errors.New("token has no client_id")

// BaseValidator проверяет RS256-токены вызывающих сторон: мерчантов, приложений, операторов.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// VerifyToken реализует auth.TokenValidator. Бессрочные токены и токены без client_id не принимаются.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))

	claims := &domain.CustomClaims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("invalid token: %w", errNoClient)
	}
	return claims, nil
}

// ParseRSAPublicKey разбирает PEM публичного ключа эмитента токенов.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("auth public key is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse auth public key: %w", err)
	}
	return key, nil
}
