package sync_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/message"
	"github.com/openwebnode/dwn/node"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/protocol"
	"github.com/openwebnode/dwn/storage/testkit"
	dwnsync "github.com/openwebnode/dwn/sync"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

const todoProtocolJSON = `{
  "protocol": "https://didcomm.org/shared-todo",
  "published": true,
  "types": {
    "list": {
      "schema": "https://didcomm.org/shared-todo/schemas/list",
      "dataFormats": ["application/json"]
    },
    "todo": {
      "schema": "https://didcomm.org/shared-todo/schemas/todo",
      "dataFormats": ["application/json"]
    }
  },
  "structure": {
    "list": {
      "$actions": [
        {"who": "anyone", "can": "write"},
        {"who": "recipient", "can": "read"}
      ],
      "todo": {
        "$actions": [
          {"who": "author", "of": "list", "can": "write"},
          {"who": "recipient", "of": "list", "can": "write"},
          {"who": "author", "of": "list", "can": "read"},
          {"who": "recipient", "of": "list", "can": "read"}
        ]
      }
    }
  }
}`

func newIdentity(t *testing.T, fill byte) *did.Identity {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = fill
	}
	id, err := did.NewEd25519FromSeed(seed)
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	return id
}

func newNodeWithProtocol(t *testing.T, owner *did.Identity) *node.Node {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	n := node.New(owner.DID, testkit.NewMemCAS(), ix)

	def, err := protocol.Parse([]byte(todoProtocolJSON))
	if err != nil {
		t.Fatalf("protocol.Parse: %v", err)
	}
	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceProtocolsConfigure,
		MessageTimestamp: message.Now(),
		Definition:       def,
	}}
	if err := env.Sign(owner, did.HashSHA256); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if reply := n.ProtocolsConfigure(context.Background(), env); reply.Status.Code != 202 {
		t.Fatalf("ProtocolsConfigure status = %d", reply.Status.Code)
	}
	return n
}

// syncClient serves n over bufconn and returns a client for it.
func syncClient(t *testing.T, n *node.Node) *grpcnode.Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpcnode.RegisterNodeSyncServer(srv, grpcnode.NewServer(n))

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })

	return grpcnode.NewClient(cc, 2*time.Second)
}

func writeList(t *testing.T, n *node.Node, author *did.Identity, recipient did.DID, data []byte) string {
	t.Helper()
	id := message.NewRecordID()
	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsWrite,
		MessageTimestamp: message.Now(),
		RecordID:         id,
		Protocol:         "https://didcomm.org/shared-todo",
		ProtocolPath:     "list",
		Schema:           "https://didcomm.org/shared-todo/schemas/list",
		DataFormat:       "application/json",
		Recipient:        string(recipient),
		ContextID:        id,
		DataCID:          cidutil.DataCIDString(data),
		DataSize:         int64(len(data)),
	}}
	if err := env.Sign(author, did.HashSHA256); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if reply := n.RecordsWrite(context.Background(), env, data); reply.Status.Code != 202 {
		t.Fatalf("RecordsWrite status = %d (%s)", reply.Status.Code, reply.Status.Detail)
	}
	return id
}

func TestPushConvergence(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	aliceNode := newNodeWithProtocol(t, alice)
	bobNode := newNodeWithProtocol(t, bob)
	ctx := context.Background()

	data := []byte(`{"title":"shared groceries"}`)
	listID := writeList(t, aliceNode, alice, bob.DID, data)

	engine := dwnsync.NewEngine(aliceNode, time.Second)
	engine.AddPeer(string(bob.DID), syncClient(t, bobNode))
	engine.RunOnce(ctx)

	read := bobNode.RecordsRead(ctx, listID, bob.DID)
	if read.Status.Code != 200 {
		t.Fatalf("replicated read status = %d (%s)", read.Status.Code, read.Status.Detail)
	}
	if string(read.Data) != string(data) {
		t.Fatalf("replicated data = %s", read.Data)
	}
	if read.Entry.Author != string(alice.DID) {
		t.Fatalf("replicated author = %s", read.Entry.Author)
	}

	// A second pass has nothing new to send and must not duplicate.
	engine.RunOnce(ctx)
	q := bobNode.RecordsQuery(ctx, index.Filter{Protocol: "https://didcomm.org/shared-todo"}, bob.DID)
	if len(q.Entries) != 1 {
		t.Fatalf("after second pass: %d entries", len(q.Entries))
	}
}

func TestPullConvergence(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	aliceNode := newNodeWithProtocol(t, alice)
	bobNode := newNodeWithProtocol(t, bob)
	ctx := context.Background()

	listID := writeList(t, bobNode, bob, alice.DID, []byte(`{"title":"from bob"}`))

	engine := dwnsync.NewEngine(aliceNode, time.Second)
	engine.AddPeer(string(bob.DID), syncClient(t, bobNode))
	engine.RunOnce(ctx)

	read := aliceNode.RecordsRead(ctx, listID, alice.DID)
	if read.Status.Code != 200 {
		t.Fatalf("pulled read status = %d (%s)", read.Status.Code, read.Status.Detail)
	}
}

func TestPushRejectsNonCanonicalEnvelope(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	bobNode := newNodeWithProtocol(t, bob)
	ctx := context.Background()

	data := []byte(`{"title":"exact bytes"}`)
	id := message.NewRecordID()
	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsWrite,
		MessageTimestamp: message.Now(),
		RecordID:         id,
		Protocol:         "https://didcomm.org/shared-todo",
		ProtocolPath:     "list",
		Schema:           "https://didcomm.org/shared-todo/schemas/list",
		DataFormat:       "application/json",
		Recipient:        string(bob.DID),
		ContextID:        id,
		DataCID:          cidutil.DataCIDString(data),
		DataSize:         int64(len(data)),
	}}
	if err := env.Sign(alice, did.HashSHA256); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	canonical, err := env.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	client := syncClient(t, bobNode)

	// Extra whitespace parses to the same envelope but is not the byte form
	// the message CID was derived from.
	loose := append([]byte("{ "), canonical[1:]...)
	code, err := client.Push(ctx, loose, data)
	if err != nil {
		t.Fatalf("Push(loose): %v", err)
	}
	if code != 400 {
		t.Fatalf("Push(loose) status = %d, want 400", code)
	}
	if reply := bobNode.RecordsRead(ctx, id, bob.DID); reply.Status.Code != 404 {
		t.Fatalf("read after rejected push = %d, want 404", reply.Status.Code)
	}

	code, err = client.Push(ctx, canonical, data)
	if err != nil {
		t.Fatalf("Push(canonical): %v", err)
	}
	if code != 202 {
		t.Fatalf("Push(canonical) status = %d, want 202", code)
	}
}

func TestProtocolInstallsDoNotReplicate(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	aliceNode := newNodeWithProtocol(t, alice)

	// Bob's node has no protocols installed at all.
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	bobNode := node.New(bob.DID, testkit.NewMemCAS(), ix)

	engine := dwnsync.NewEngine(aliceNode, time.Second)
	engine.AddPeer(string(bob.DID), syncClient(t, bobNode))
	engine.RunOnce(context.Background())

	uris, err := bobNode.Index().ListProtocols(context.Background())
	if err != nil {
		t.Fatalf("ListProtocols: %v", err)
	}
	if len(uris) != 0 {
		t.Fatalf("protocol replicated: %v", uris)
	}
}

// countingPeer counts Push calls on the way to the real peer.
type countingPeer struct {
	inner  dwnsync.Peer
	pushes int
}

func (c *countingPeer) Push(ctx context.Context, envelope, data []byte) (int, error) {
	c.pushes++
	return c.inner.Push(ctx, envelope, data)
}

func (c *countingPeer) PullSince(ctx context.Context, cursor int64) (*grpcnode.Batch, error) {
	return c.inner.PullSince(ctx, cursor)
}

func TestPulledMessagesNotPushedBack(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	aliceNode := newNodeWithProtocol(t, alice)
	bobNode := newNodeWithProtocol(t, bob)
	ctx := context.Background()

	writeList(t, bobNode, bob, alice.DID, []byte(`{"title":"from bob"}`))

	peer := &countingPeer{inner: syncClient(t, bobNode)}
	engine := dwnsync.NewEngine(aliceNode, time.Second)
	engine.AddPeer(string(bob.DID), peer)

	// First pass pulls bob's write; the second walks the push cursor over
	// it and must not offer it back to him.
	engine.RunOnce(ctx)
	engine.RunOnce(ctx)
	if peer.pushes != 0 {
		t.Fatalf("pulled message pushed back %d time(s)", peer.pushes)
	}

	// Alice's own writes still go out.
	listID := writeList(t, aliceNode, alice, bob.DID, []byte(`{"title":"from alice"}`))
	engine.RunOnce(ctx)
	if peer.pushes != 1 {
		t.Fatalf("push count = %d, want 1", peer.pushes)
	}
	if reply := bobNode.RecordsRead(ctx, listID, bob.DID); reply.Status.Code != 200 {
		t.Fatalf("bob read = %d", reply.Status.Code)
	}
}

func TestDeleteReplication(t *testing.T) {
	alice := newIdentity(t, 1)
	bob := newIdentity(t, 2)
	aliceNode := newNodeWithProtocol(t, alice)
	bobNode := newNodeWithProtocol(t, bob)
	ctx := context.Background()

	listID := writeList(t, aliceNode, alice, bob.DID, []byte(`{"title":"doomed"}`))

	engine := dwnsync.NewEngine(aliceNode, time.Second)
	engine.AddPeer(string(bob.DID), syncClient(t, bobNode))
	engine.RunOnce(ctx)

	del := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsDelete,
		MessageTimestamp: message.Now(),
		RecordID:         listID,
	}}
	if err := del.Sign(alice, did.HashSHA256); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if reply := aliceNode.RecordsDelete(ctx, del); reply.Status.Code != 202 {
		t.Fatalf("RecordsDelete status = %d", reply.Status.Code)
	}

	engine.RunOnce(ctx)

	read := bobNode.RecordsRead(ctx, listID, bob.DID)
	if read.Status.Code != 404 {
		t.Fatalf("read after replicated delete = %d", read.Status.Code)
	}
}
