// Package accesspb описывает внутренний gRPC-сервис sessiongate.v1.AccessService.
//
// Сообщения построены на well-known типах (wrapperspb, structpb), поэтому
// отдельная генерация кода из .proto не нужна. Описание сервиса, интерфейс
// сервера и клиентская заглушка повторяют форму, которую выдаёт protoc-gen-go-grpc.
package accesspb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName полное имя сервиса.
const ServiceName = "sessiongate.v1.AccessService"

// APIKeyMetadata ключ метаданных с сервисным ключом вызывающей стороны.
const APIKeyMetadata = "x-api-key"

// Полные имена методов.
const (
	AccessService_IssueToken_FullMethodName        = "/" + ServiceName + "/IssueToken"
	AccessService_VerifyToken_FullMethodName       = "/" + ServiceName + "/VerifyToken"
	AccessService_GrantEntitlement_FullMethodName  = "/" + ServiceName + "/GrantEntitlement"
	AccessService_RunRetentionSweep_FullMethodName = "/" + ServiceName + "/RunRetentionSweep"
)

// AccessServiceServer серверная часть AccessService.
type AccessServiceServer interface {
	// IssueToken выпускает токен для subject.
	IssueToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// VerifyToken проверяет токен и при необходимости продлевает его.
	VerifyToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// GrantEntitlement выдаёт пакет сессий, идемпотентно по order_reference.
	GrantEntitlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// RunRetentionSweep запускает чистку истории и возвращает число очищенных пользователей.
	RunRetentionSweep(context.Context, *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error)
}

// UnimplementedAccessServiceServer встраивается в реализации для совместимости вперёд.
type UnimplementedAccessServiceServer struct{}

func (UnimplementedAccessServiceServer) IssueToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method IssueToken not implemented")
}

func (UnimplementedAccessServiceServer) VerifyToken(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method VerifyToken not implemented")
}

func (UnimplementedAccessServiceServer) GrantEntitlement(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GrantEntitlement not implemented")
}

func (UnimplementedAccessServiceServer) RunRetentionSweep(context.Context, *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RunRetentionSweep not implemented")
}

// RegisterAccessServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterAccessServiceServer(s grpc.ServiceRegistrar, srv AccessServiceServer) {
	s.RegisterService(&AccessService_ServiceDesc, srv)
}

func _AccessService_IssueToken_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).IssueToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AccessService_IssueToken_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServiceServer).IssueToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _AccessService_VerifyToken_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).VerifyToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AccessService_VerifyToken_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServiceServer).VerifyToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _AccessService_GrantEntitlement_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).GrantEntitlement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AccessService_GrantEntitlement_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServiceServer).GrantEntitlement(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AccessService_RunRetentionSweep_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).RunRetentionSweep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AccessService_RunRetentionSweep_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServiceServer).RunRetentionSweep(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessService_ServiceDesc описание сервиса для grpc.Server.
var AccessService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IssueToken", Handler: _AccessService_IssueToken_Handler},
		{MethodName: "VerifyToken", Handler: _AccessService_VerifyToken_Handler},
		{MethodName: "GrantEntitlement", Handler: _AccessService_GrantEntitlement_Handler},
		{MethodName: "RunRetentionSweep", Handler: _AccessService_RunRetentionSweep_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessiongate/v1/access.proto",
}

// AccessServiceClient клиентская часть AccessService.
type AccessServiceClient interface {
	IssueToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	VerifyToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	GrantEntitlement(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RunRetentionSweep(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error)
}

type accessServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAccessServiceClient создаёт клиента поверх соединения.
func NewAccessServiceClient(cc grpc.ClientConnInterface) AccessServiceClient {
	return &accessServiceClient{cc}
}

func (c *accessServiceClient) IssueToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AccessService_IssueToken_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *accessServiceClient) VerifyToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AccessService_VerifyToken_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *accessServiceClient) GrantEntitlement(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AccessService_GrantEntitlement_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *accessServiceClient) RunRetentionSweep(ctx context.Context, in *wrapperspb.Int32Value, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, AccessService_RunRetentionSweep_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
