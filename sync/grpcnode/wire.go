// Package grpcnode carries node-to-node replication over gRPC.
//
// The wire format stays on protobuf well-known wrapper types so the module
// needs no protoc/codegen toolchain: messages travel as JSON bundles inside
// BytesValue, statuses and cursors as scalar wrappers.
package grpcnode

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "openwebnode.dwn.sync.v1.NodeSync"

// Bundle is one replicated message plus its data payload.
type Bundle struct {
	Message json.RawMessage `json:"message"`
	Data    []byte          `json:"data,omitempty"`
}

// Batch is a page of the sender's message log.
type Batch struct {
	Entries []BatchEntry `json:"entries,omitempty"`
	// Next is the cursor to resume from; equals the request cursor when the
	// log had nothing newer.
	Next int64 `json:"next"`
}

type BatchEntry struct {
	Seq int64 `json:"seq"`
	Bundle
}

// NodeSyncServer is the server API for the NodeSync gRPC service.
type NodeSyncServer interface {
	// Push delivers one bundle; the reply is the receiving node's status code.
	Push(context.Context, *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error)
	// Have reports whether the node's log already holds a message CID.
	Have(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// PullSince pages the node's replicable log after a cursor, as a JSON Batch.
	PullSince(context.Context, *wrapperspb.Int64Value) (*wrapperspb.BytesValue, error)
}

// UnimplementedNodeSyncServer can be embedded for forward compatibility.
type UnimplementedNodeSyncServer struct{}

func (UnimplementedNodeSyncServer) Push(context.Context, *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Push not implemented")
}
func (UnimplementedNodeSyncServer) Have(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Have not implemented")
}
func (UnimplementedNodeSyncServer) PullSince(context.Context, *wrapperspb.Int64Value) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method PullSince not implemented")
}

// RegisterNodeSyncServer registers the NodeSync service on a gRPC server.
func RegisterNodeSyncServer(s grpc.ServiceRegistrar, srv NodeSyncServer) {
	s.RegisterService(&NodeSync_ServiceDesc, srv)
}

// NodeSyncClient is the client API for the NodeSync gRPC service.
type NodeSyncClient interface {
	Push(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error)
	Have(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	PullSince(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type nodeSyncClient struct{ cc grpc.ClientConnInterface }

func NewNodeSyncClient(cc grpc.ClientConnInterface) NodeSyncClient { return &nodeSyncClient{cc: cc} }

func (c *nodeSyncClient) Push(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Push", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeSyncClient) Have(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Have", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeSyncClient) PullSince(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/PullSince", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _NodeSync_Push_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeSyncServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Push"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeSyncServer).Push(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeSync_Have_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeSyncServer).Have(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Have"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeSyncServer).Have(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeSync_PullSince_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeSyncServer).PullSince(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/PullSince"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeSyncServer).PullSince(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// NodeSync_ServiceDesc is the grpc.ServiceDesc for the NodeSync service.
var NodeSync_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: _NodeSync_Push_Handler},
		{MethodName: "Have", Handler: _NodeSync_Have_Handler},
		{MethodName: "PullSince", Handler: _NodeSync_PullSince_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nodesync.proto",
}
