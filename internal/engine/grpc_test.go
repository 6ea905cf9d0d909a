package engine

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/domain"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type grpcHarness struct {
	fx   *fixture
	conn *grpc.ClientConn
	key  *rsa.PrivateKey
}

func newGRPCHarness(t *testing.T) *grpcHarness {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fx := newFixture(t, 0)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(
		UnaryAuthInterceptor(auth.NewBaseValidator(&key.PublicKey), domain.ScopePayments, zap.NewNop()),
	))
	RegisterPaymentServiceServer(srv, NewGRPCPaymentServer(fx.core))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &grpcHarness{fx: fx, conn: conn, key: key}
}

func (h *grpcHarness) token(t *testing.T, scopes ...string) string {
	t.Helper()
	granted := map[string]bool{}
	for _, s := range scopes {
		granted[s] = true
	}
	claims := domain.CustomClaims{
		ClientID: "merchant-gateway",
		Scopes:   granted,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(h.key)
	require.NoError(t, err)
	return "Bearer " + signed
}

func (h *grpcHarness) call(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = h.conn.Invoke(ctx, "/"+PaymentServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCAuthorizeAndSettle(t *testing.T) {
	h := newGRPCHarness(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"authorization", h.token(t, domain.ScopePayments),
		"x-trace-id", "trace-grpc",
	)

	out, err := h.call(ctx, "AuthorizeAndSettle", h.fx.request(t, "pm-grpc", "139.42"))
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeApproved), out.GetFields()["status"].GetStringValue())

	receipt := out.GetFields()["receipt"].GetStructValue()
	require.NotNil(t, receipt)
	assert.Equal(t, "pm-grpc", receipt.GetFields()["mandate_id"].GetStringValue())

	evs := h.fx.events.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, "trace-grpc", evs[0].TraceID)
}

func TestGRPCStepUpFlow(t *testing.T) {
	h := newGRPCHarness(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", h.token(t, domain.ScopePayments))

	out, err := h.call(ctx, "AuthorizeAndSettle", h.fx.request(t, "pm-big", "1250.00"))
	require.NoError(t, err)
	require.Equal(t, string(OutcomePending), out.GetFields()["status"].GetStringValue())
	id := out.GetFields()["approval"].GetStructValue().GetFields()["id"].GetStringValue()
	require.NotEmpty(t, id)

	polled, err := h.call(ctx, "PollApproval", map[string]any{"approval_id": id})
	require.NoError(t, err)
	assert.Equal(t, string(OutcomePending), polled.GetFields()["status"].GetStringValue())

	done, err := h.call(ctx, "SubmitAttestation", map[string]any{"approval_id": id, "attestation": faceID()})
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeApproved), done.GetFields()["status"].GetStringValue())
}

func TestGRPCErrors(t *testing.T) {
	h := newGRPCHarness(t)
	authed := metadata.AppendToOutgoingContext(context.Background(), "authorization", h.token(t, domain.ScopePayments))

	t.Run("missing token", func(t *testing.T) {
		_, err := h.call(context.Background(), "PollApproval", map[string]any{"approval_id": "x"})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("wrong scope", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", h.token(t, domain.ScopeDevice))
		_, err := h.call(ctx, "PollApproval", map[string]any{"approval_id": "x"})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("validation", func(t *testing.T) {
		req := h.fx.request(t, "pm-bad", "139.42")
		req.Payment.CartHash = "deadbeef"
		_, err := h.call(authed, "AuthorizeAndSettle", req)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Contains(t, status.Convert(err).Message(), domain.CodeHashMismatch)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := h.call(authed, "PollApproval", map[string]any{"approval_id": "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("empty approval id", func(t *testing.T) {
		_, err := h.call(authed, "PollApproval", map[string]any{})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrHashMismatch, codes.InvalidArgument},
		{domain.ErrTokenAlreadyUsed, codes.FailedPrecondition},
		{domain.ErrInsufficientCredit, codes.FailedPrecondition},
		{domain.ErrApprovalNotFound, codes.NotFound},
		{domain.ErrAgentBlocked, codes.PermissionDenied},
		{domain.ErrSettlementUnavailable, codes.Unavailable},
		{context.DeadlineExceeded, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(grpcError(tt.err)), tt.err.Error())
	}
}
