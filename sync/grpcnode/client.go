package grpcnode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a remote node's NodeSync service.
type Client struct {
	cc     *grpc.ClientConn
	client NodeSyncClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewNodeSyncClient(cc)}, nil
}

// NewClient wraps an existing connection (used by tests over bufconn).
func NewClient(cc *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{cc: cc, client: NewNodeSyncClient(cc), Timeout: timeout}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Push delivers one message and its payload; the returned int is the remote
// node's status code for the message, not the transport status.
func (c *Client) Push(ctx context.Context, envelope []byte, data []byte) (int, error) {
	raw, err := json.Marshal(Bundle{Message: json.RawMessage(envelope), Data: data})
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Push(ctx, wrapperspb.Bytes(raw))
	if err != nil {
		return 0, err
	}
	return int(reply.GetValue()), nil
}

func (c *Client) Have(ctx context.Context, messageCID string) (bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Have(ctx, wrapperspb.String(messageCID))
	if err != nil {
		return false, err
	}
	return reply.GetValue(), nil
}

func (c *Client) PullSince(ctx context.Context, cursor int64) (*Batch, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.PullSince(ctx, wrapperspb.Int64(cursor))
	if err != nil {
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(reply.GetValue(), &batch); err != nil {
		return nil, fmt.Errorf("grpcnode: malformed batch: %w", err)
	}
	return &batch, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
