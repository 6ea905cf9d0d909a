package engine

import (
	"context"

	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryAuthInterceptor проверяет RS256-токен в метаданных gRPC вызова и право scope.
func UnaryAuthInterceptor(v auth.TokenValidator, scope string, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// В gRPC заголовки в нижнем регистре
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}
		if !claims.HasScope(scope) {
			return nil, status.Errorf(codes.PermissionDenied, "token does not grant %s", scope)
		}

		ctx = auth.WithClaims(ctx, claims)
		if ids := md.Get("x-trace-id"); len(ids) > 0 {
			ctx = WithTraceID(ctx, ids[0])
		}
		return handler(ctx, req)
	}
}
