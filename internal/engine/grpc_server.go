package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/xela07ax/agentpay/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const PaymentServiceName = "agentpay.v1.PaymentService"

// PaymentServiceServer — gRPC-поверхность ядра. Сообщения — google.protobuf.Struct
// с теми же полями, что и в HTTP API.
type PaymentServiceServer interface {
	AuthorizeAndSettle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	PollApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SubmitAttestation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PaymentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + PaymentServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(PaymentServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// PaymentServiceDesc объявлен вручную: схема сообщений живет в JSON, а не в .proto.
var PaymentServiceDesc = grpc.ServiceDesc{
	ServiceName: PaymentServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AuthorizeAndSettle",
			Handler: unaryHandler("AuthorizeAndSettle", func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.AuthorizeAndSettle(ctx, in)
			}),
		},
		{
			MethodName: "PollApproval",
			Handler: unaryHandler("PollApproval", func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.PollApproval(ctx, in)
			}),
		},
		{
			MethodName: "SubmitAttestation",
			Handler: unaryHandler("SubmitAttestation", func(s PaymentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.SubmitAttestation(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentpay/v1/payment.proto",
}

func RegisterPaymentServiceServer(s grpc.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&PaymentServiceDesc, srv)
}

// GRPCPaymentServer — тот же пайплайн, что и для HTTP.
type GRPCPaymentServer struct {
	core *PaymentCore
}

func NewGRPCPaymentServer(core *PaymentCore) *GRPCPaymentServer {
	return &GRPCPaymentServer{core: core}
}

func (s *GRPCPaymentServer) AuthorizeAndSettle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PaymentRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := s.core.AuthorizeAndSettle(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (s *GRPCPaymentServer) PollApproval(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["approval_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "approval_id is required")
	}
	res, err := s.core.ResolveApproval(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (s *GRPCPaymentServer) SubmitAttestation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		ApprovalID  string              `json:"approval_id"`
		Attestation *domain.Attestation `json:"attestation"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.ApprovalID == "" {
		return nil, status.Error(codes.InvalidArgument, "approval_id is required")
	}
	res, err := s.core.SubmitAttestation(ctx, req.ApprovalID, req.Attestation)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func fromStruct(in *structpb.Struct, dst any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid payload: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return grpcError(err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// grpcError переводит класс ошибки движка в код gRPC. Стабильный код ошибки — в начале сообщения.
func grpcError(err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return status.Errorf(codes.InvalidArgument, "invalid payload: %v", err)
		}
		return status.Error(codes.Internal, "internal error")
	}

	code := codes.Internal
	switch de.Kind {
	case domain.KindValidation:
		code = codes.InvalidArgument
	case domain.KindState:
		code = codes.FailedPrecondition
	case domain.KindResource:
		code = codes.FailedPrecondition
		if strings.HasSuffix(de.Code, "_NOT_FOUND") {
			code = codes.NotFound
		}
		if de.Code == domain.CodeAgentBlocked {
			code = codes.PermissionDenied
		}
	case domain.KindTransient:
		code = codes.Unavailable
	case domain.KindTimeout:
		code = codes.DeadlineExceeded
	}
	return status.Error(code, de.Error())
}
