package geocodesvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sargeom.v1.GeocodingService"

// Full method names.
const (
	LoadModelMethod         = "/" + ServiceName + "/LoadModel"
	UnloadModelMethod       = "/" + ServiceName + "/UnloadModel"
	DescribeModelMethod     = "/" + ServiceName + "/DescribeModel"
	LineSampleToWorldMethod = "/" + ServiceName + "/LineSampleToWorld"
	WorldToLineSampleMethod = "/" + ServiceName + "/WorldToLineSample"
)

// GeocodingServer is the server side of sargeom.v1.GeocodingService. Every
// message is a google.protobuf.Struct.
type GeocodingServer interface {
	LoadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribeModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LineSampleToWorld(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WorldToLineSample(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structCall func(GeocodingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GeocodingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(GeocodingServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes sargeom.v1.GeocodingService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeocodingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadModel", Handler: unaryHandler(LoadModelMethod, GeocodingServer.LoadModel)},
		{MethodName: "UnloadModel", Handler: unaryHandler(UnloadModelMethod, GeocodingServer.UnloadModel)},
		{MethodName: "DescribeModel", Handler: unaryHandler(DescribeModelMethod, GeocodingServer.DescribeModel)},
		{MethodName: "LineSampleToWorld", Handler: unaryHandler(LineSampleToWorldMethod, GeocodingServer.LineSampleToWorld)},
		{MethodName: "WorldToLineSample", Handler: unaryHandler(WorldToLineSampleMethod, GeocodingServer.WorldToLineSample)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sargeom/v1/geocoding.proto",
}

// RegisterGeocodingServer registers srv on s.
func RegisterGeocodingServer(s grpc.ServiceRegistrar, srv GeocodingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls sargeom.v1.GeocodingService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, LoadModelMethod, in, opts...)
}

func (c *Client) UnloadModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, UnloadModelMethod, in, opts...)
}

func (c *Client) DescribeModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, DescribeModelMethod, in, opts...)
}

func (c *Client) LineSampleToWorld(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, LineSampleToWorldMethod, in, opts...)
}

func (c *Client) WorldToLineSample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, WorldToLineSampleMethod, in, opts...)
}
