package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Scopes API
const (
	ScopePayments = "payments" // мерчант / платежный процессор
	ScopeDevice   = "device"   // мобильное приложение: аттестации
	ScopeOperator = "operator" // лимиты, chargeback, агенты
)

// CustomClaims — claims токена вызывающей стороны (RS256).
type CustomClaims struct {
	ClientID string          `json:"client_id"`
	Scopes   map[string]bool `json:"scopes"` // "payments": true, "operator": true
	jwt.RegisteredClaims
}

// HasScope — есть ли у токена право.
func (c *CustomClaims) HasScope(scope string) bool {
	return c != nil && c.Scopes[scope]
}

// ActsFor: токен без sub выдан сервису (агент, credentials provider), который действует за своих пользователей.
// Токен с sub действует только за этого пользователя.
func (c *CustomClaims) ActsFor(userID string) bool {
	return c != nil && (c.Subject == "" || c.Subject == userID)
}
