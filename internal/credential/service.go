// Package credential выпускает и проверяет одноразовые credential-токены способа оплаты.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

const DefaultTTL = time.Hour

// Token — непрозрачный для агента токен способа оплаты.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MethodInfo — способ оплаты, на который указывает проверенный токен.
type MethodInfo struct {
	UserID     string        `json:"user_id"`
	Alias      string        `json:"alias"`
	Type       string        `json:"type"`
	BorrowerID string        `json:"borrower_id"`
	PlanID     domain.PlanID `json:"plan_id"`
}

type tokenClaims struct {
	UserID     string        `json:"uid"`
	Alias      string        `json:"alias"`
	Type       string        `json:"typ"`
	BorrowerID string        `json:"borrower"`
	PlanID     domain.PlanID `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Service — выпуск (Issue) и проверка с привязкой к мандату (Verify).
type Service struct {
	secret   []byte
	ttl      time.Duration
	dir      AccountDirectory
	bindings BindingStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(secret []byte, ttl time.Duration, dir AccountDirectory, bindings BindingStore, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		secret:   secret,
		ttl:      ttl,
		dir:      dir,
		bindings: bindings,
		logger:   logger.Named("credentials"),
		now:      time.Now,
	}
}

// Issue выпускает токен для способа оплаты пользователя (алиас без учета регистра).
func (s *Service) Issue(ctx context.Context, userID, alias string) (Token, error) {
	acc, err := s.dir.Account(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAccount) {
			return Token{}, domain.ErrMethodNotFound.With("user %s has no payment methods", userID)
		}
		return Token{}, err
	}
	method, ok := acc.MethodByAlias(alias)
	if !ok {
		return Token{}, domain.ErrMethodNotFound.With("method %q not found for user %s", alias, userID)
	}

	now := s.now()
	exp := now.Add(s.ttl)
	claims := tokenClaims{
		UserID:     acc.UserID,
		Alias:      method.Alias,
		Type:       method.Type,
		BorrowerID: acc.BorrowerID,
		PlanID:     method.PlanID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign credential token: %w", err)
	}

	s.logger.Debug("credential token issued",
		zap.String("user_id", acc.UserID), zap.String("alias", method.Alias), zap.String("jti", claims.ID))
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify проверяет токен и атомарно привязывает его к мандату.
// Повтор для того же мандата возвращает тот же результат, для другого — TOKEN_ALREADY_USED.
func (s *Service) Verify(ctx context.Context, token, mandateID string) (MethodInfo, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.ID == "" {
		return MethodInfo{}, domain.ErrInvalidToken.With("%v", err)
	}

	ttl := max(claims.ExpiresAt.Sub(s.now()), time.Second)
	bound, err := s.bindings.Bind(ctx, claims.ID, mandateID, ttl)
	if err != nil {
		return MethodInfo{}, err
	}
	if bound != mandateID {
		s.logger.Warn("credential token replay",
			zap.String("jti", claims.ID), zap.String("mandate_id", mandateID), zap.String("bound_to", bound))
		return MethodInfo{}, domain.ErrTokenAlreadyUsed.With("token bound to mandate %s", bound)
	}

	return MethodInfo{
		UserID:     claims.UserID,
		Alias:      claims.Alias,
		Type:       claims.Type,
		BorrowerID: claims.BorrowerID,
		PlanID:     claims.PlanID,
	}, nil
}
