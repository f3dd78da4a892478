package types

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "deltacache.v1.CacheService"

// PutRequest stores Value under Key.
type PutRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// PutResponse confirms a Put.
type PutResponse struct {
	Ok        bool      `json:"ok"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetRequest reads one key.
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse carries the entry when Found.
type GetResponse struct {
	Found     bool            `json:"found"`
	Value     json.RawMessage `json:"value,omitempty"`
	Source    string          `json:"source,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// DeleteRequest removes every listed key in one batch.
type DeleteRequest struct {
	Keys []string `json:"keys"`
}

// DeleteResponse confirms a Delete.
type DeleteResponse struct {
	Ok bool `json:"ok"`
}

// PurgeRequest runs the eviction rules now, plus Condition when set.
type PurgeRequest struct {
	Condition string `json:"condition,omitempty"`
}

// PurgeResponse reports how many entries were removed.
type PurgeResponse struct {
	Removed int `json:"removed"`
}

// CacheServiceServer is the server API for the cache service.
type CacheServiceServer interface {
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Purge(context.Context, *PurgeRequest) (*PurgeResponse, error)
}

// ServiceDesc describes the cache service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Put", CacheServiceServer.Put),
		unary("Get", CacheServiceServer.Get),
		unary("Delete", CacheServiceServer.Delete),
		unary("Purge", CacheServiceServer.Purge),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deltacache/v1/cache.proto",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv CacheServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(CacheServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CacheServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CacheServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client is a typed client for the cache service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Put calls CacheService.Put.
func (c *Client) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error) {
	return invoke[PutResponse](ctx, c, "Put", in, opts)
}

// Get calls CacheService.Get.
func (c *Client) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	return invoke[GetResponse](ctx, c, "Get", in, opts)
}

// Delete calls CacheService.Delete.
func (c *Client) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c, "Delete", in, opts)
}

// Purge calls CacheService.Purge.
func (c *Client) Purge(ctx context.Context, in *PurgeRequest, opts ...grpc.CallOption) (*PurgeResponse, error) {
	return invoke[PurgeResponse](ctx, c, "Purge", in, opts)
}
