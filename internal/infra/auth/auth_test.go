package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

func signToken(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, ttl time.Duration) string {
	t.Helper()
	claims := domain.CustomClaims{
		ClientID: "merchant-processor",
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	claims, err := v.VerifyToken("Bearer " + signToken(t, key, map[string]bool{domain.ScopePayments: true}, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "merchant-processor", claims.ClientID)
	assert.True(t, claims.HasScope(domain.ScopePayments))
	assert.False(t, claims.HasScope(domain.ScopeOperator))

	_, err = v.VerifyToken(signToken(t, key, nil, -time.Minute))
	assert.Error(t, err)

	hs, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, domain.CustomClaims{}).SignedString([]byte("x"))
	_, err = v.VerifyToken(hs)
	assert.Error(t, err)

	// без exp
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodRS256, domain.CustomClaims{ClientID: "merchant-processor"}).SignedString(key)
	require.NoError(t, err)
	_, err = v.VerifyToken(noExp)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)

	// без client_id
	anon, err := jwt.NewWithClaims(jwt.SigningMethodRS256, domain.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(key)
	require.NoError(t, err)
	_, err = v.VerifyToken(anon)
	assert.ErrorIs(t, err, errNoClient)
}

func TestParseRSAPublicKey(t *testing.T) {
	_, err := ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPublicKey([]byte("not a pem"))
	assert.Error(t, err)
}

func TestMiddlewareScopes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mw := NewMiddleware(NewBaseValidator(&key.PublicKey), zap.NewNop())

	var seen *domain.CustomClaims
	h := mw(RequireScope(domain.ScopeOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + signToken(t, key, map[string]bool{domain.ScopePayments: true}, time.Hour), want: http.StatusForbidden},
		{name: "operator", header: "Bearer " + signToken(t, key, map[string]bool{domain.ScopeOperator: true}, time.Hour), want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/operator", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "merchant-processor", seen.ClientID)
}
