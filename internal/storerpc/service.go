package storerpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "duodeck.docstore.DocumentStore"

// Full method names, as seen by interceptors.
const (
	MethodGet       = "/" + ServiceName + "/Get"
	MethodSet       = "/" + ServiceName + "/Set"
	MethodUpdate    = "/" + ServiceName + "/Update"
	MethodDelete    = "/" + ServiceName + "/Delete"
	MethodQuery     = "/" + ServiceName + "/Query"
	MethodPresign   = "/" + ServiceName + "/Presign"
	MethodSubscribe = "/" + ServiceName + "/Subscribe"
)

// DocumentStoreServer is implemented by the server.
type DocumentStoreServer interface {
	Get(context.Context, *GetRequest) (*DocumentReply, error)
	Set(context.Context, *WriteRequest) (*Empty, error)
	Update(context.Context, *WriteRequest) (*Empty, error)
	Delete(context.Context, *DeleteRequest) (*Empty, error)
	Query(context.Context, *QueryRequest) (*QueryReply, error)
	Presign(context.Context, *PresignRequest) (*PresignReply, error)
	Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[Snapshot]) error
}

// RegisterDocumentStoreServer registers srv on s.
func RegisterDocumentStoreServer(s grpc.ServiceRegistrar, srv DocumentStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(DocumentStoreServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocumentStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DocumentStoreServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentStoreServer).Subscribe(in, &grpc.GenericServerStream[SubscribeRequest, Snapshot]{ServerStream: stream})
}

// ServiceDesc describes the DocumentStore service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(MethodGet, func(s DocumentStoreServer, ctx context.Context, in *GetRequest) (any, error) {
			return s.Get(ctx, in)
		})},
		{MethodName: "Set", Handler: unaryHandler(MethodSet, func(s DocumentStoreServer, ctx context.Context, in *WriteRequest) (any, error) {
			return s.Set(ctx, in)
		})},
		{MethodName: "Update", Handler: unaryHandler(MethodUpdate, func(s DocumentStoreServer, ctx context.Context, in *WriteRequest) (any, error) {
			return s.Update(ctx, in)
		})},
		{MethodName: "Delete", Handler: unaryHandler(MethodDelete, func(s DocumentStoreServer, ctx context.Context, in *DeleteRequest) (any, error) {
			return s.Delete(ctx, in)
		})},
		{MethodName: "Query", Handler: unaryHandler(MethodQuery, func(s DocumentStoreServer, ctx context.Context, in *QueryRequest) (any, error) {
			return s.Query(ctx, in)
		})},
		{MethodName: "Presign", Handler: unaryHandler(MethodPresign, func(s DocumentStoreServer, ctx context.Context, in *PresignRequest) (any, error) {
			return s.Presign(ctx, in)
		})},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "duodeck/docstore.json",
}

// DocumentStoreClient is the client side of the service.
type DocumentStoreClient struct {
	cc grpc.ClientConnInterface
}

func NewDocumentStoreClient(cc grpc.ClientConnInterface) *DocumentStoreClient {
	return &DocumentStoreClient{cc: cc}
}

func (c *DocumentStoreClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*DocumentReply, error) {
	out := new(DocumentReply)
	if err := c.cc.Invoke(ctx, MethodGet, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DocumentStoreClient) Set(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodSet, in, new(Empty), opts...)
}

func (c *DocumentStoreClient) Update(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodUpdate, in, new(Empty), opts...)
}

func (c *DocumentStoreClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodDelete, in, new(Empty), opts...)
}

func (c *DocumentStoreClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryReply, error) {
	out := new(QueryReply)
	if err := c.cc.Invoke(ctx, MethodQuery, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DocumentStoreClient) Presign(ctx context.Context, in *PresignRequest, opts ...grpc.CallOption) (*PresignReply, error) {
	out := new(PresignReply)
	if err := c.cc.Invoke(ctx, MethodPresign, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens the change feed of one document.
func (c *DocumentStoreClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Snapshot], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, Snapshot]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
