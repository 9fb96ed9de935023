package rpcservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	methodCopy    = "/" + ServiceName + "/Copy"
	methodPaste   = "/" + ServiceName + "/Paste"
	methodFormats = "/" + ServiceName + "/Formats"
	methodWatch   = "/" + ServiceName + "/Watch"
)

// ServiceDesc describes sysclip.v1.Clipboard for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClipboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Copy", Handler: copyHandler},
		{MethodName: "Paste", Handler: pasteHandler},
		{MethodName: "Formats", Handler: formatsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "sysclip/v1/clipboard.proto",
}

// unary adapts a typed method to grpc.MethodDesc's handler signature.
func unary[Req any](method string, call func(ClipboardServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClipboardServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClipboardServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	copyHandler = unary(methodCopy, func(s ClipboardServer, ctx context.Context, in *structpb.Struct) (any, error) {
		return s.Copy(ctx, in)
	})
	pasteHandler = unary(methodPaste, func(s ClipboardServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
		return s.Paste(ctx, in)
	})
	formatsHandler = unary(methodFormats, func(s ClipboardServer, ctx context.Context, in *emptypb.Empty) (any, error) {
		return s.Formats(ctx, in)
	})
)

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClipboardServer).Watch(in, &watchServer{stream})
}

type watchServer struct {
	grpc.ServerStream
}

func (w *watchServer) Send(m *structpb.Struct) error {
	return w.ServerStream.SendMsg(m)
}
