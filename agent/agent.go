// Package agent is the signing client for a local node. It mints record
// identifiers, stamps timestamps, signs descriptors with the agent identity,
// and hands the finished envelopes to the node engine.
package agent

import (
	"context"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/derrors"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/message"
	"github.com/openwebnode/dwn/node"
	"github.com/openwebnode/dwn/protocol"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

type Agent struct {
	ID   *did.Identity
	Node *node.Node

	// HashAlg selects the digest for signatures; defaults to sha256.
	HashAlg string
}

func New(id *did.Identity, n *node.Node) *Agent {
	return &Agent{ID: id, Node: n, HashAlg: did.HashSHA256}
}

func (a *Agent) hash() string {
	if a.HashAlg == "" {
		return did.HashSHA256
	}
	return a.HashAlg
}

// ConfigureProtocol signs and installs a protocol definition.
func (a *Agent) ConfigureProtocol(ctx context.Context, def *protocol.Definition) (*node.ProtocolsConfigureReply, error) {
	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceProtocolsConfigure,
		MessageTimestamp: message.Now(),
		Definition:       def,
	}}
	if err := env.Sign(a.ID, a.hash()); err != nil {
		return nil, err
	}
	return a.Node.ProtocolsConfigure(ctx, env), nil
}

// CreateOptions locate a new record inside a protocol.
type CreateOptions struct {
	Protocol     string
	ProtocolPath string
	Schema       string
	DataFormat   string
	Recipient    string
	ParentID     string
	ContextID    string
	Published    bool
}

// CreateRecord mints a record and writes its first revision. Root records
// anchor their own context; nested records inherit the context of their
// parent when ContextID is left empty.
func (a *Agent) CreateRecord(ctx context.Context, opts CreateOptions, data []byte) (*node.RecordsWriteReply, error) {
	recordID := message.NewRecordID()
	contextID := opts.ContextID
	if contextID == "" {
		if opts.ParentID == "" {
			contextID = recordID
		} else {
			parent, err := a.Node.Index().GetRecord(ctx, opts.ParentID)
			if err != nil {
				return nil, derrors.Wrap(derrors.KindValidation, "DWN-AGT-101", "parent record not found", err)
			}
			contextID = parent.ContextID
		}
	}

	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsWrite,
		MessageTimestamp: message.Now(),
		RecordID:         recordID,
		Protocol:         opts.Protocol,
		ProtocolPath:     opts.ProtocolPath,
		Schema:           opts.Schema,
		DataFormat:       opts.DataFormat,
		Recipient:        opts.Recipient,
		ParentID:         opts.ParentID,
		ContextID:        contextID,
		DataCID:          cidutil.DataCIDString(data),
		DataSize:         int64(len(data)),
		Published:        opts.Published,
	}}
	if err := env.Sign(a.ID, a.hash()); err != nil {
		return nil, err
	}
	return a.Node.RecordsWrite(ctx, env, data), nil
}

// UpdateRecord writes a new revision carrying data; addressing fields are
// carried over from the latest revision unchanged.
func (a *Agent) UpdateRecord(ctx context.Context, recordID string, data []byte) (*node.RecordsWriteReply, error) {
	entry, err := a.Node.Index().GetRecord(ctx, recordID)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindNotFound, "DWN-AGT-102", "record not found", err)
	}

	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsWrite,
		MessageTimestamp: message.Now(),
		RecordID:         entry.RecordID,
		Protocol:         entry.Protocol,
		ProtocolPath:     entry.ProtocolPath,
		Schema:           entry.Schema,
		DataFormat:       entry.DataFormat,
		Recipient:        entry.Recipient,
		ParentID:         entry.ParentID,
		ContextID:        entry.ContextID,
		DataCID:          cidutil.DataCIDString(data),
		DataSize:         int64(len(data)),
		Published:        entry.Published,
	}}
	if err := env.Sign(a.ID, a.hash()); err != nil {
		return nil, err
	}
	return a.Node.RecordsWrite(ctx, env, data), nil
}

// DeleteRecord signs a tombstone for a record.
func (a *Agent) DeleteRecord(ctx context.Context, recordID string) (*node.RecordsDeleteReply, error) {
	env := &message.Envelope{Descriptor: message.Descriptor{
		Interface:        message.InterfaceRecordsDelete,
		MessageTimestamp: message.Now(),
		RecordID:         recordID,
	}}
	if err := env.Sign(a.ID, a.hash()); err != nil {
		return nil, err
	}
	return a.Node.RecordsDelete(ctx, env), nil
}

// ReadRecord reads through the node as the agent identity.
func (a *Agent) ReadRecord(ctx context.Context, recordID string) *node.RecordsReadReply {
	return a.Node.RecordsRead(ctx, recordID, a.ID.DID)
}

// Send pushes a record's latest revision (and payload) straight to a remote
// node, ahead of the background sync. The returned int is the remote status
// code.
func (a *Agent) Send(ctx context.Context, peer *grpcnode.Client, recordID string) (int, error) {
	entry, err := a.Node.Index().GetRecord(ctx, recordID)
	if err != nil {
		return 0, derrors.Wrap(derrors.KindNotFound, "DWN-AGT-102", "record not found", err)
	}
	raw, err := a.Node.Index().GetMessage(ctx, entry.MessageCID)
	if err != nil {
		return 0, derrors.Wrap(derrors.KindInternal, "DWN-AGT-103", "logged envelope missing", err)
	}

	var data []byte
	if !entry.Tombstone && entry.DataCID != "" {
		id, err := cidutil.Parse(entry.DataCID)
		if err != nil {
			return 0, err
		}
		if data, err = a.Node.DataStore().Get(id); err != nil {
			return 0, derrors.Wrap(derrors.KindInternal, "DWN-AGT-104", "payload missing", err)
		}
	}
	return peer.Push(ctx, raw, data)
}
