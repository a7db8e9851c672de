package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "flatstore.v1.InstallerService"

// Full method names.
const (
	InstallerServiceInstallPackageFullMethodName  = "/" + ServiceName + "/InstallPackage"
	InstallerServiceFetchDescriptorFullMethodName = "/" + ServiceName + "/FetchDescriptor"
	InstallerServiceUpdatePackageFullMethodName   = "/" + ServiceName + "/UpdatePackage"
	InstallerServiceWatchEventsFullMethodName     = "/" + ServiceName + "/WatchEvents"
	InstallerServiceStatusFullMethodName          = "/" + ServiceName + "/Status"
	InstallerServiceHistoryFullMethodName         = "/" + ServiceName + "/History"
)

// Call metadata keys.
const (
	// SessionMetadataKey carries the caller-chosen session id of a command.
	SessionMetadataKey = "flatstore-session"
	// ActorMetadataKey carries the user and host issuing a command.
	ActorMetadataKey = "flatstore-actor"
)

// InstallerServiceClient is the client API for InstallerService.
type InstallerServiceClient interface {
	InstallPackage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	FetchDescriptor(
		ctx context.Context,
		in *wrapperspb.StringValue,
		opts ...grpc.CallOption,
	) (*wrapperspb.StringValue, error)
	UpdatePackage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WatchEvents(
		ctx context.Context,
		in *wrapperspb.BoolValue,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[structpb.Struct], error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	History(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type installerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewInstallerServiceClient binds the client API to a connection.
func NewInstallerServiceClient(cc grpc.ClientConnInterface) InstallerServiceClient {
	return &installerServiceClient{cc}
}

func (c *installerServiceClient) InstallPackage(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, InstallerServiceInstallPackageFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *installerServiceClient) FetchDescriptor(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, InstallerServiceFetchDescriptorFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *installerServiceClient) UpdatePackage(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, InstallerServiceUpdatePackageFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *installerServiceClient) WatchEvents(
	ctx context.Context,
	in *wrapperspb.BoolValue,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &InstallerServiceDesc.Streams[0], InstallerServiceWatchEventsFullMethodName, opts...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[wrapperspb.BoolValue, structpb.Struct]{ClientStream: stream}
	if err = x.SendMsg(in); err != nil {
		return nil, err
	}

	if err = x.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

func (c *installerServiceClient) Status(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InstallerServiceStatusFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *installerServiceClient) History(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InstallerServiceHistoryFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// InstallerServiceServer is the server API for InstallerService.
// Implementations must embed UnimplementedInstallerServiceServer.
type InstallerServiceServer interface {
	InstallPackage(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error)
	FetchDescriptor(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	UpdatePackage(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error)
	WatchEvents(in *wrapperspb.BoolValue, stream grpc.ServerStreamingServer[structpb.Struct]) error
	Status(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	History(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	mustEmbedUnimplementedInstallerServiceServer()
}

// UnimplementedInstallerServiceServer answers every method with codes.Unimplemented.
type UnimplementedInstallerServiceServer struct{}

func (UnimplementedInstallerServiceServer) InstallPackage(
	context.Context,
	*wrapperspb.StringValue,
) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method InstallPackage not implemented")
}

func (UnimplementedInstallerServiceServer) FetchDescriptor(
	context.Context,
	*wrapperspb.StringValue,
) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method FetchDescriptor not implemented")
}

func (UnimplementedInstallerServiceServer) UpdatePackage(
	context.Context,
	*wrapperspb.StringValue,
) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdatePackage not implemented")
}

func (UnimplementedInstallerServiceServer) WatchEvents(
	*wrapperspb.BoolValue,
	grpc.ServerStreamingServer[structpb.Struct],
) error {
	return status.Error(codes.Unimplemented, "method WatchEvents not implemented")
}

func (UnimplementedInstallerServiceServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

func (UnimplementedInstallerServiceServer) History(
	context.Context,
	*wrapperspb.StringValue,
) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method History not implemented")
}

func (UnimplementedInstallerServiceServer) mustEmbedUnimplementedInstallerServiceServer() {}

// RegisterInstallerServiceServer registers srv on s.
func RegisterInstallerServiceServer(s grpc.ServiceRegistrar, srv InstallerServiceServer) {
	s.RegisterService(&InstallerServiceDesc, srv)
}

// unaryHandler adapts a typed unary method to a grpc.MethodHandler.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(srv InstallerServiceServer, ctx context.Context, in *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		//nolint:forcetypeassert // HandlerType guarantees the server type.
		server := srv.(InstallerServiceServer)

		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			//nolint:forcetypeassert // The request was decoded above.
			return call(server, ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.BoolValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	//nolint:forcetypeassert // HandlerType guarantees the server type.
	return srv.(InstallerServiceServer).WatchEvents(
		in,
		&grpc.GenericServerStream[wrapperspb.BoolValue, structpb.Struct]{ServerStream: stream},
	)
}

// InstallerServiceDesc is the grpc.ServiceDesc for InstallerService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var InstallerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InstallerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InstallPackage",
			Handler:    unaryHandler(InstallerServiceInstallPackageFullMethodName, InstallerServiceServer.InstallPackage),
		},
		{
			MethodName: "FetchDescriptor",
			Handler:    unaryHandler(InstallerServiceFetchDescriptorFullMethodName, InstallerServiceServer.FetchDescriptor),
		},
		{
			MethodName: "UpdatePackage",
			Handler:    unaryHandler(InstallerServiceUpdatePackageFullMethodName, InstallerServiceServer.UpdatePackage),
		},
		{
			MethodName: "Status",
			Handler:    unaryHandler(InstallerServiceStatusFullMethodName, InstallerServiceServer.Status),
		},
		{
			MethodName: "History",
			Handler:    unaryHandler(InstallerServiceHistoryFullMethodName, InstallerServiceServer.History),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "flatstore/v1/installer.proto",
}
