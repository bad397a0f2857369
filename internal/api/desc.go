package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.SyncControl"

// SyncControlServer is the daemon's control plane.
type SyncControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	TriggerSync(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchChat(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdatePeer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryFailed(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes SyncControl for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod[emptypb.Empty]("GetStatus", SyncControlServer.GetStatus),
		unaryMethod[emptypb.Empty]("TriggerSync", SyncControlServer.TriggerSync),
		unaryMethod[structpb.Struct]("SendText", SyncControlServer.SendText),
		unaryMethod[emptypb.Empty]("ListChats", SyncControlServer.ListChats),
		unaryMethod[structpb.Struct]("SignIn", SyncControlServer.SignIn),
		unaryMethod[emptypb.Empty]("SignOut", SyncControlServer.SignOut),
		unaryMethod[structpb.Struct]("UpdatePeer", SyncControlServer.UpdatePeer),
		unaryMethod[structpb.Struct]("RetryFailed", SyncControlServer.RetryFailed),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchChat",
			Handler:       watchChatHandler,
			ServerStreams: true,
		},
	},
}

// RegisterSyncControlServer registers srv on s.
func RegisterSyncControlServer(s grpc.ServiceRegistrar, srv SyncControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req any, P interface {
	*Req
	proto.Message
}](name string, call func(SyncControlServer, context.Context, P) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := P(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncControlServer), ctx, req.(P))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchChatHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncControlServer).WatchChat(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
