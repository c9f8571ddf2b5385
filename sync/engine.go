// Package sync keeps a node's record log converged with its peers.
//
// Replication is cursor-based in both directions: the engine pushes its own
// log tail to each peer and pulls each peer's tail, remembering per-peer
// sequence cursors in the node index. Only record messages travel; protocol
// installs are per-node policy.
package sync

import (
	"context"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/message"
	"github.com/openwebnode/dwn/node"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

// DefaultInterval is how often the engine wakes when none is configured.
const DefaultInterval = 5 * time.Second

// pushPage bounds how many log entries one push pass sends per peer.
const pushPage = 64

// Peer is the replication surface of a remote node.
type Peer interface {
	Push(ctx context.Context, envelope, data []byte) (int, error)
	PullSince(ctx context.Context, cursor int64) (*grpcnode.Batch, error)
}

// Engine drives periodic replication for one node.
type Engine struct {
	node     *node.Node
	peers    map[string]Peer
	interval time.Duration
}

func NewEngine(n *node.Node, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{node: n, peers: make(map[string]Peer), interval: interval}
}

// AddPeer registers a peer under a stable name (its DID). Cursors are keyed
// by this name, so renaming a peer restarts its replication from zero.
func (e *Engine) AddPeer(name string, p Peer) {
	e.peers[name] = p
}

// Run replicates on a fixed interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	glog.Infof("sync: engine running, interval %s, %d peer(s)", e.interval, len(e.peers))
	for {
		select {
		case <-ctx.Done():
			glog.Infof("sync: engine stopped")
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce replicates with every peer once. Peer failures are logged, not
// fatal; the next tick retries from the stored cursors.
func (e *Engine) RunOnce(ctx context.Context) {
	names := make([]string, 0, len(e.peers))
	for name := range e.peers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.pushTo(ctx, name, e.peers[name]); err != nil {
			glog.Warningf("sync: push to %s: %v", name, err)
		}
		if err := e.pullFrom(ctx, name, e.peers[name]); err != nil {
			glog.Warningf("sync: pull from %s: %v", name, err)
		}
	}
}

func (e *Engine) pushTo(ctx context.Context, name string, p Peer) error {
	ix := e.node.Index()
	pushed, pulled, err := ix.Cursor(ctx, name)
	if err != nil {
		return err
	}

	for {
		entries, err := ix.MessagesSince(ctx, pushed, pushPage)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, le := range entries {
			env, err := message.Parse(le.Envelope)
			if err != nil {
				return err
			}
			pushed = le.Seq
			if !replicates(env.Descriptor.Interface) {
				continue
			}
			// The peer this entry was pulled from already has it.
			if le.Origin == name {
				continue
			}
			var data []byte
			if env.Descriptor.Interface == message.InterfaceRecordsWrite {
				id, err := cidutil.Parse(env.Descriptor.DataCID)
				if err != nil {
					return err
				}
				if data, err = e.node.DataStore().Get(id); err != nil {
					return err
				}
			}
			code, err := p.Push(ctx, le.Envelope, data)
			if err != nil {
				return err
			}
			switch {
			case code >= 500:
				// Transient on the remote side; retry from here next tick.
				return nil
			case code >= 400:
				// The peer rejected the message outright; it will never
				// accept it, so move past it.
				glog.Warningf("sync: peer %s rejected %s with %d", name, le.MessageCID, code)
			}
		}
		if err := ix.SetCursor(ctx, name, pushed, pulled); err != nil {
			return err
		}
	}
}

func (e *Engine) pullFrom(ctx context.Context, name string, p Peer) error {
	ix := e.node.Index()
	pushed, pulled, err := ix.Cursor(ctx, name)
	if err != nil {
		return err
	}

	for {
		batch, err := p.PullSince(ctx, pulled)
		if err != nil {
			return err
		}
		if batch.Next == pulled {
			return nil
		}
		for _, be := range batch.Entries {
			env, err := message.Parse(be.Message)
			if err != nil {
				return err
			}
			st := e.node.Ingest(ctx, env, be.Data)
			if st.Code >= 500 {
				return nil
			}
			if st.Code >= 400 {
				glog.Warningf("sync: rejected message from %s with %d: %s", name, st.Code, st.Detail)
				continue
			}
			msgCID, err := env.CID()
			if err != nil {
				return err
			}
			if err := ix.SetMessageOrigin(ctx, msgCID.String(), name); err != nil {
				return err
			}
		}
		pulled = batch.Next
		if err := ix.SetCursor(ctx, name, pushed, pulled); err != nil {
			return err
		}
	}
}

func replicates(iface string) bool {
	return iface == message.InterfaceRecordsWrite || iface == message.InterfaceRecordsDelete
}
