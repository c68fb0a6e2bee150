package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The admin service uses well-known message types only, so its service
// descriptor is declared here rather than generated.

// AdminServiceName is the fully qualified gRPC service name.
const AdminServiceName = "gears.admin.v1.Admin"

// AdminServer is the server API for the admin service.
type AdminServer interface {
	Reload(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRules(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ AdminServer = (*AdminService)(nil)

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Reload", func() *emptypb.Empty { return new(emptypb.Empty) }, AdminServer.Reload),
		unaryMethod("ListRules", func() *emptypb.Empty { return new(emptypb.Empty) }, AdminServer.ListRules),
		unaryMethod("ListRuns", func() *structpb.Struct { return new(structpb.Struct) }, AdminServer.ListRuns),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gears/admin/v1/admin.proto",
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

func unaryMethod[Req proto.Message](name string, newReq func() Req, call func(AdminServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + AdminServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AdminServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AdminClient calls the admin service.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient creates a client over cc.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// Reload asks the server to reload rules now.
func (c *AdminClient) Reload(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/Reload", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRules lists the active rules.
func (c *AdminClient) ListRules(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/ListRules", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRuns lists the newest recorded runs, at most limit. A non-empty
// deliveryID narrows the list to that delivery.
func (c *AdminClient) ListRuns(ctx context.Context, limit int, deliveryID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req := map[string]any{"limit": limit}
	if deliveryID != "" {
		req["delivery_id"] = deliveryID
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/ListRuns", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
