// Package wardenv1 defines the warden.v1.Governance gRPC service. Request
// and response bodies are google.protobuf.Struct values carrying the JSON
// form of warden's types, so the service needs no generated message code.
package wardenv1

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "warden.v1.Governance"

// Full method names.
const (
	MethodPropose     = "/" + ServiceName + "/Propose"
	MethodOutcome     = "/" + ServiceName + "/Outcome"
	MethodCommand     = "/" + ServiceName + "/Command"
	MethodReset       = "/" + ServiceName + "/Reset"
	MethodQuery       = "/" + ServiceName + "/Query"
	MethodSummary     = "/" + ServiceName + "/Summary"
	MethodListPending = "/" + ServiceName + "/ListPending"
	MethodState       = "/" + ServiceName + "/State"
)

// GovernanceServer is the server API for the Governance service.
type GovernanceServer interface {
	Propose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Outcome(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Command(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Summary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedGovernanceServer answers every method with codes.Unimplemented.
// Embed it for forward compatibility.
type UnimplementedGovernanceServer struct{}

func (UnimplementedGovernanceServer) Propose(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Propose not implemented")
}
func (UnimplementedGovernanceServer) Outcome(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Outcome not implemented")
}
func (UnimplementedGovernanceServer) Command(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Command not implemented")
}
func (UnimplementedGovernanceServer) Reset(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Reset not implemented")
}
func (UnimplementedGovernanceServer) Query(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}
func (UnimplementedGovernanceServer) Summary(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Summary not implemented")
}
func (UnimplementedGovernanceServer) ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListPending not implemented")
}
func (UnimplementedGovernanceServer) State(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method State not implemented")
}

type handlerFunc func(GovernanceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call handlerFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GovernanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GovernanceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Governance_ServiceDesc describes the service for grpc.Server.RegisterService.
var Governance_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Propose", Handler: unary(MethodPropose, GovernanceServer.Propose)},
		{MethodName: "Outcome", Handler: unary(MethodOutcome, GovernanceServer.Outcome)},
		{MethodName: "Command", Handler: unary(MethodCommand, GovernanceServer.Command)},
		{MethodName: "Reset", Handler: unary(MethodReset, GovernanceServer.Reset)},
		{MethodName: "Query", Handler: unary(MethodQuery, GovernanceServer.Query)},
		{MethodName: "Summary", Handler: unary(MethodSummary, GovernanceServer.Summary)},
		{MethodName: "ListPending", Handler: unary(MethodListPending, GovernanceServer.ListPending)},
		{MethodName: "State", Handler: unary(MethodState, GovernanceServer.State)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warden/v1/governance.proto",
}

// RegisterGovernanceServer registers srv on s.
func RegisterGovernanceServer(s grpc.ServiceRegistrar, srv GovernanceServer) {
	s.RegisterService(&Governance_ServiceDesc, srv)
}

// GovernanceClient is the client API for the Governance service.
type GovernanceClient interface {
	Propose(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Outcome(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Command(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Reset(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Summary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListPending(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	State(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type governanceClient struct {
	cc grpc.ClientConnInterface
}

// NewGovernanceClient creates a client over cc.
func NewGovernanceClient(cc grpc.ClientConnInterface) GovernanceClient {
	return &governanceClient{cc: cc}
}

func (c *governanceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *governanceClient) Propose(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPropose, in, opts)
}

func (c *governanceClient) Outcome(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodOutcome, in, opts)
}

func (c *governanceClient) Command(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCommand, in, opts)
}

func (c *governanceClient) Reset(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodReset, in, opts)
}

func (c *governanceClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodQuery, in, opts)
}

func (c *governanceClient) Summary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSummary, in, opts)
}

func (c *governanceClient) ListPending(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListPending, in, opts)
}

func (c *governanceClient) State(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodState, in, opts)
}

// Encode converts any JSON-marshalable value into a Struct. Values that do
// not marshal to a JSON object are rejected.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wardenv1: encode: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("wardenv1: encode: %w", err)
	}
	return s, nil
}

// Decode fills v from the JSON form of s. A nil Struct decodes as {}.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("wardenv1: decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wardenv1: decode: %w", err)
	}
	return nil
}
