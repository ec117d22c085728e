package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// ControlServer is the daemon's control surface. Arguments and results are
// JSON objects carried in structpb.Struct.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RefreshChats(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SelectChat(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ClearActiveChat(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteForMe(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	DeleteForEveryone(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ClearChat(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	CreateChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FetchContacts(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	MarkAllRead(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ComposerChanged(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

func empty() *emptypb.Empty { return new(emptypb.Empty) }

func object() *structpb.Struct { return new(structpb.Struct) }

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(ControlServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := object()
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, stream)
}

// ServiceDesc describes the Control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", empty, ControlServer.GetStatus),
		unary("GetSnapshot", empty, ControlServer.GetSnapshot),
		unary("RefreshChats", empty, ControlServer.RefreshChats),
		unary("SelectChat", object, ControlServer.SelectChat),
		unary("ClearActiveChat", empty, ControlServer.ClearActiveChat),
		unary("SendMessage", object, ControlServer.SendMessage),
		unary("EditMessage", object, ControlServer.EditMessage),
		unary("DeleteForMe", object, ControlServer.DeleteForMe),
		unary("DeleteForEveryone", object, ControlServer.DeleteForEveryone),
		unary("ClearChat", object, ControlServer.ClearChat),
		unary("CreateChat", object, ControlServer.CreateChat),
		unary("FetchContacts", empty, ControlServer.FetchContacts),
		unary("MarkAllRead", empty, ControlServer.MarkAllRead),
		unary("ComposerChanged", empty, ControlServer.ComposerChanged),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
