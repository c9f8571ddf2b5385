package grpcnode

import (
	"bytes"
	"context"
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/message"
	"github.com/openwebnode/dwn/node"
)

// pageSize bounds one PullSince reply.
const pageSize = 64

// Server serves a node's replication surface.
type Server struct {
	UnimplementedNodeSyncServer
	Node *node.Node
}

func NewServer(n *node.Node) *Server { return &Server{Node: n} }

func (s *Server) Push(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.Int32Value, error) {
	var b Bundle
	if err := json.Unmarshal(in.GetValue(), &b); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed bundle")
	}
	env, err := message.Parse(b.Message)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed message envelope")
	}
	// Envelopes travel in canonical form only; anything that does not
	// round-trip byte-for-byte would hash to a different CID elsewhere.
	canonical, err := env.Canonical()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed message envelope")
	}
	if !bytes.Equal(canonical, b.Message) {
		return wrapperspb.Int32(400), nil
	}
	// The receiving node re-verifies the message exactly like a local write.
	st := s.Node.Ingest(ctx, env, b.Data)
	return wrapperspb.Int32(int32(st.Code)), nil
}

func (s *Server) Have(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	ok, err := s.Node.Index().HasMessage(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) PullSince(ctx context.Context, in *wrapperspb.Int64Value) (*wrapperspb.BytesValue, error) {
	entries, err := s.Node.Index().MessagesSince(ctx, in.GetValue(), pageSize)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	batch := Batch{Next: in.GetValue()}
	for _, le := range entries {
		batch.Next = le.Seq
		env, err := message.Parse(le.Envelope)
		if err != nil {
			return nil, status.Error(codes.Internal, "logged envelope unreadable")
		}
		// Protocol installs are per-node policy and do not replicate.
		if env.Descriptor.Interface == message.InterfaceProtocolsConfigure {
			continue
		}
		be := BatchEntry{Seq: le.Seq, Bundle: Bundle{Message: json.RawMessage(le.Envelope)}}
		if env.Descriptor.Interface == message.InterfaceRecordsWrite {
			id, err := cidutil.Parse(env.Descriptor.DataCID)
			if err != nil {
				return nil, status.Error(codes.Internal, "logged dataCid invalid")
			}
			data, err := s.Node.DataStore().Get(id)
			if err != nil {
				return nil, status.Error(codes.Internal, "logged payload missing")
			}
			be.Data = data
		}
		batch.Entries = append(batch.Entries, be)
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(raw), nil
}
