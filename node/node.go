// Package node implements the record engine: protocol installs, record
// writes with protocol enforcement, reads, queries, deletes, and the message
// log replication feeds from.
package node

import (
	"context"
	"sync"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/derrors"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/message"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/protocol"
	"github.com/openwebnode/dwn/storage"
)

// Node is a single-tenant record store owned by one DID.
//
// Every reply carries a numeric status; callers branch on Status.Code, not
// on Go errors. 202 means a message was accepted (or had already been
// accepted).
type Node struct {
	owner  did.DID
	cas    storage.CAS
	ix     *index.Index
	events *EventBus

	// Serializes message acceptance so revision comparisons are race-free.
	mu sync.Mutex
}

func New(owner did.DID, cas storage.CAS, ix *index.Index) *Node {
	return &Node{owner: owner, cas: cas, ix: ix, events: NewEventBus()}
}

func (n *Node) Owner() did.DID         { return n.owner }
func (n *Node) Events() *EventBus      { return n.events }
func (n *Node) Index() *index.Index    { return n.ix }
func (n *Node) DataStore() storage.CAS { return n.cas }

// Reply is the common status envelope.
type Reply struct {
	Status derrors.Status `json:"status"`
}

type ProtocolsConfigureReply struct {
	Reply
	DefinitionCID string `json:"definitionCid,omitempty"`
}

type ProtocolsQueryReply struct {
	Reply
	Definition    *protocol.Definition `json:"definition,omitempty"`
	DefinitionCID string               `json:"definitionCid,omitempty"`
}

type RecordsWriteReply struct {
	Reply
	RecordID   string `json:"recordId,omitempty"`
	ContextID  string `json:"contextId,omitempty"`
	MessageCID string `json:"messageCid,omitempty"`
}

type RecordsReadReply struct {
	Reply
	Entry    *index.Entry      `json:"entry,omitempty"`
	Envelope *message.Envelope `json:"envelope,omitempty"`
	Data     []byte            `json:"data,omitempty"`
}

type RecordsQueryReply struct {
	Reply
	Entries []index.Entry `json:"entries,omitempty"`
}

type RecordsDeleteReply struct {
	Reply
}

func fail(err error) Reply { return Reply{Status: derrors.StatusFor(err)} }

// ProtocolsConfigure installs a protocol definition. Installation is
// idempotent: re-configuring an identical definition is a 202 no-op, while a
// different definition under the same URI is a 409. Only the node owner may
// configure.
func (n *Node) ProtocolsConfigure(ctx context.Context, env *message.Envelope) *ProtocolsConfigureReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := env.Validate(); err != nil {
		return &ProtocolsConfigureReply{Reply: fail(err)}
	}
	if env.Descriptor.Interface != message.InterfaceProtocolsConfigure {
		return &ProtocolsConfigureReply{Reply: fail(derrors.New(derrors.KindValidation, "DWN-PROT-201", "not a ProtocolsConfigure message"))}
	}
	if err := env.Verify(); err != nil {
		return &ProtocolsConfigureReply{Reply: fail(err)}
	}
	if env.Author() != n.owner {
		return &ProtocolsConfigureReply{Reply: fail(derrors.New(derrors.KindAuthorize, "DWN-PROT-202", "only the node owner may configure protocols"))}
	}

	def := env.Descriptor.Definition
	canonical, err := def.Canonical()
	if err != nil {
		return &ProtocolsConfigureReply{Reply: fail(err)}
	}
	defCID, err := cidutil.MessageCID(canonical)
	if err != nil {
		return &ProtocolsConfigureReply{Reply: fail(derrors.Wrap(derrors.KindCID, "DWN-PROT-203", "definition cid derivation failed", err))}
	}

	installedCID, _, err := n.ix.GetProtocol(ctx, def.Protocol)
	switch {
	case err == nil && installedCID == defCID.String():
		// Query-before-configure made this a no-op.
		return &ProtocolsConfigureReply{Reply: Reply{Status: derrors.Accepted()}, DefinitionCID: installedCID}
	case err == nil:
		return &ProtocolsConfigureReply{Reply: fail(derrors.New(derrors.KindConflict, "DWN-PROT-204", "a different definition is installed for "+def.Protocol))}
	case err != index.ErrNotFound:
		return &ProtocolsConfigureReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-001", "protocol lookup failed", err))}
	}

	if err := n.appendToLog(ctx, env, ""); err != nil {
		return &ProtocolsConfigureReply{Reply: fail(err)}
	}
	if err := n.ix.InstallProtocol(ctx, def.Protocol, defCID.String(), canonical); err != nil {
		return &ProtocolsConfigureReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-002", "protocol install failed", err))}
	}
	return &ProtocolsConfigureReply{Reply: Reply{Status: derrors.Accepted()}, DefinitionCID: defCID.String()}
}

// ProtocolsQuery fetches an installed definition by protocol URI.
func (n *Node) ProtocolsQuery(ctx context.Context, uri string) *ProtocolsQueryReply {
	installedCID, raw, err := n.ix.GetProtocol(ctx, uri)
	if err == index.ErrNotFound {
		return &ProtocolsQueryReply{Reply: fail(derrors.New(derrors.KindNotFound, "DWN-PROT-404", "protocol not installed: "+uri))}
	}
	if err != nil {
		return &ProtocolsQueryReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-001", "protocol lookup failed", err))}
	}
	def, err := protocol.Parse(raw)
	if err != nil {
		return &ProtocolsQueryReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-003", "stored definition unreadable", err))}
	}
	return &ProtocolsQueryReply{Reply: Reply{Status: derrors.OK()}, Definition: def, DefinitionCID: installedCID}
}

// RecordsWrite accepts a create or an update revision of a record.
func (n *Node) RecordsWrite(ctx context.Context, env *message.Envelope, data []byte) *RecordsWriteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := &env.Descriptor
	if err := env.Validate(); err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}
	if d.Interface != message.InterfaceRecordsWrite {
		return &RecordsWriteReply{Reply: fail(derrors.New(derrors.KindValidation, "DWN-REC-101", "not a RecordsWrite message"))}
	}
	if err := env.Verify(); err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}

	// The payload must be the payload the signed descriptor names.
	if cidutil.DataCIDString(data) != d.DataCID {
		return &RecordsWriteReply{Reply: fail(derrors.New(derrors.KindCID, "DWN-REC-102", "data does not match dataCid"))}
	}
	if int64(len(data)) != d.DataSize {
		return &RecordsWriteReply{Reply: fail(derrors.New(derrors.KindValidation, "DWN-REC-103", "data does not match dataSize"))}
	}

	msgCID, err := env.CID()
	if err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}
	if seen, err := n.ix.HasMessage(ctx, msgCID.String()); err != nil {
		return &RecordsWriteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-004", "log lookup failed", err))}
	} else if seen {
		// Exact replay; already accepted.
		return &RecordsWriteReply{Reply: Reply{Status: derrors.Accepted()}, RecordID: d.RecordID, ContextID: d.ContextID, MessageCID: msgCID.String()}
	}

	def, err := n.loadDefinition(ctx, d.Protocol)
	if err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}
	if err := def.CheckRecord(d.ProtocolPath, d.Schema, d.DataFormat); err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}

	parentChain, err := n.checkLinkage(ctx, d)
	if err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}

	existing, err := n.ix.GetRecord(ctx, d.RecordID)
	if err != nil && err != index.ErrNotFound {
		return &RecordsWriteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err))}
	}

	entry := index.Entry{
		RecordID:         d.RecordID,
		MessageCID:       msgCID.String(),
		DataCID:          d.DataCID,
		Protocol:         d.Protocol,
		ProtocolPath:     d.ProtocolPath,
		Schema:           d.Schema,
		DataFormat:       d.DataFormat,
		Author:           string(env.Author()),
		Recipient:        d.Recipient,
		ParentID:         d.ParentID,
		ContextID:        d.ContextID,
		Published:        d.Published,
		MessageTimestamp: d.MessageTimestamp,
	}

	if existing != nil {
		// Updates may not rewrite the record's place in the tree or its parties.
		if existing.Protocol != d.Protocol || existing.ProtocolPath != d.ProtocolPath ||
			existing.Schema != d.Schema || existing.Recipient != d.Recipient ||
			existing.ParentID != d.ParentID || existing.ContextID != d.ContextID {
			return &RecordsWriteReply{Reply: fail(derrors.New(derrors.KindValidation, "DWN-REC-104", "update changes immutable record fields"))}
		}
		// The initial author keeps the byline across revisions.
		entry.Author = existing.Author
	}

	actor := string(env.Author())
	if actor != string(n.owner) {
		selfMeta := protocol.RecordMeta{Path: d.ProtocolPath, Author: entry.Author, Recipient: d.Recipient}
		chain := append(parentChain, selfMeta)
		if err := def.Authorize(d.ProtocolPath, protocol.ActionWrite, actor, chain); err != nil {
			return &RecordsWriteReply{Reply: fail(err)}
		}
	}

	if _, err := n.cas.Put(data); err != nil {
		return &RecordsWriteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-006", "data store failed", err))}
	}
	if err := n.appendToLog(ctx, env, d.RecordID); err != nil {
		return &RecordsWriteReply{Reply: fail(err)}
	}

	// A revision that is not strictly newer than the indexed one is
	// acknowledged but does not displace it; replicas converge on the
	// same winner regardless of arrival order.
	if existing == nil || message.CompareRevisions(
		d.MessageTimestamp, msgCID.String(),
		existing.MessageTimestamp, existing.MessageCID) > 0 {
		if err := n.ix.UpsertRecord(ctx, entry); err != nil {
			return &RecordsWriteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-007", "index update failed", err))}
		}
		n.events.Publish(Event{
			Type:         EventWrite,
			RecordID:     entry.RecordID,
			ContextID:    entry.ContextID,
			Protocol:     entry.Protocol,
			ProtocolPath: entry.ProtocolPath,
			MessageCID:   entry.MessageCID,
			Author:       actor,
		})
	}
	return &RecordsWriteReply{Reply: Reply{Status: derrors.Accepted()}, RecordID: d.RecordID, ContextID: d.ContextID, MessageCID: msgCID.String()}
}

// RecordsRead returns the latest revision of a record and its payload.
func (n *Node) RecordsRead(ctx context.Context, recordID string, actor did.DID) *RecordsReadReply {
	entry, err := n.ix.GetRecord(ctx, recordID)
	if err == index.ErrNotFound {
		return &RecordsReadReply{Reply: fail(derrors.New(derrors.KindNotFound, "DWN-REC-404", "no such record"))}
	}
	if err != nil {
		return &RecordsReadReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err))}
	}
	if entry.Tombstone {
		return &RecordsReadReply{Reply: fail(derrors.New(derrors.KindNotFound, "DWN-REC-410", "record deleted"))}
	}
	if err := n.authorizeRead(ctx, entry, actor); err != nil {
		return &RecordsReadReply{Reply: fail(err)}
	}

	raw, err := n.ix.GetMessage(ctx, entry.MessageCID)
	if err != nil {
		return &RecordsReadReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-004", "log lookup failed", err))}
	}
	env, err := message.Parse(raw)
	if err != nil {
		return &RecordsReadReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-008", "stored envelope unreadable", err))}
	}

	var data []byte
	if entry.DataCID != "" {
		id, err := cidutil.Parse(entry.DataCID)
		if err != nil {
			return &RecordsReadReply{Reply: fail(derrors.Wrap(derrors.KindCID, "DWN-REC-105", "stored dataCid invalid", err))}
		}
		data, err = n.cas.Get(id)
		if err != nil {
			return &RecordsReadReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-006", "data fetch failed", err))}
		}
	}
	return &RecordsReadReply{Reply: Reply{Status: derrors.OK()}, Entry: entry, Envelope: env, Data: data}
}

// RecordsQuery lists matching records the actor may read, newest first.
func (n *Node) RecordsQuery(ctx context.Context, f index.Filter, actor did.DID) *RecordsQueryReply {
	entries, err := n.ix.Query(ctx, f)
	if err != nil {
		return &RecordsQueryReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record query failed", err))}
	}
	out := make([]index.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Tombstone {
			continue
		}
		if err := n.authorizeRead(ctx, &e, actor); err != nil {
			continue
		}
		out = append(out, e)
	}
	return &RecordsQueryReply{Reply: Reply{Status: derrors.OK()}, Entries: out}
}

// RecordsDelete tombstones a record. Tombstones replicate like writes and
// supersede prior revisions.
func (n *Node) RecordsDelete(ctx context.Context, env *message.Envelope) *RecordsDeleteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	d := &env.Descriptor
	if err := env.Validate(); err != nil {
		return &RecordsDeleteReply{Reply: fail(err)}
	}
	if d.Interface != message.InterfaceRecordsDelete {
		return &RecordsDeleteReply{Reply: fail(derrors.New(derrors.KindValidation, "DWN-REC-201", "not a RecordsDelete message"))}
	}
	if err := env.Verify(); err != nil {
		return &RecordsDeleteReply{Reply: fail(err)}
	}

	existing, err := n.ix.GetRecord(ctx, d.RecordID)
	if err == index.ErrNotFound {
		return &RecordsDeleteReply{Reply: fail(derrors.New(derrors.KindNotFound, "DWN-REC-404", "no such record"))}
	}
	if err != nil {
		return &RecordsDeleteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err))}
	}

	actor := string(env.Author())
	if actor != string(n.owner) && actor != existing.Author {
		return &RecordsDeleteReply{Reply: fail(derrors.New(derrors.KindAuthorize, "DWN-REC-202", "only the record author or node owner may delete"))}
	}

	msgCID, err := env.CID()
	if err != nil {
		return &RecordsDeleteReply{Reply: fail(err)}
	}
	if err := n.appendToLog(ctx, env, d.RecordID); err != nil {
		return &RecordsDeleteReply{Reply: fail(err)}
	}

	if message.CompareRevisions(
		d.MessageTimestamp, msgCID.String(),
		existing.MessageTimestamp, existing.MessageCID) > 0 {
		entry := *existing
		entry.MessageCID = msgCID.String()
		entry.MessageTimestamp = d.MessageTimestamp
		entry.Tombstone = true
		if err := n.ix.UpsertRecord(ctx, entry); err != nil {
			return &RecordsDeleteReply{Reply: fail(derrors.Wrap(derrors.KindInternal, "DWN-INT-007", "index update failed", err))}
		}
		n.events.Publish(Event{
			Type:       EventDelete,
			RecordID:   entry.RecordID,
			ContextID:  entry.ContextID,
			Protocol:   entry.Protocol,
			MessageCID: entry.MessageCID,
			Author:     actor,
		})
	}
	return &RecordsDeleteReply{Reply: Reply{Status: derrors.Accepted()}}
}

// Ingest dispatches a replicated envelope to the operation it carries.
// A pushed message is re-verified exactly like a local write.
func (n *Node) Ingest(ctx context.Context, env *message.Envelope, data []byte) derrors.Status {
	switch env.Descriptor.Interface {
	case message.InterfaceRecordsWrite:
		return n.RecordsWrite(ctx, env, data).Status
	case message.InterfaceRecordsDelete:
		return n.RecordsDelete(ctx, env).Status
	case message.InterfaceProtocolsConfigure:
		return n.ProtocolsConfigure(ctx, env).Status
	default:
		return derrors.StatusFor(derrors.New(derrors.KindValidation, "DWN-MSG-101", "unknown interface: "+env.Descriptor.Interface))
	}
}

func (n *Node) loadDefinition(ctx context.Context, uri string) (*protocol.Definition, error) {
	if uri == "" {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-106", "record names no protocol")
	}
	_, raw, err := n.ix.GetProtocol(ctx, uri)
	if err == index.ErrNotFound {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-107", "protocol not installed: "+uri)
	}
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "DWN-INT-001", "protocol lookup failed", err)
	}
	return protocol.Parse(raw)
}

// checkLinkage enforces parent/context rules and returns the record's
// ancestor chain ordered root-first.
func (n *Node) checkLinkage(ctx context.Context, d *message.Descriptor) ([]protocol.RecordMeta, error) {
	parentPath := protocol.ParentPath(d.ProtocolPath)
	if parentPath == "" {
		if d.ParentID != "" {
			return nil, derrors.New(derrors.KindValidation, "DWN-REC-111", "root records may not carry parentId")
		}
		if d.ContextID != d.RecordID {
			return nil, derrors.New(derrors.KindValidation, "DWN-REC-112", "root records must anchor their own context")
		}
		return nil, nil
	}

	if d.ParentID == "" {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-113", "nested records require parentId")
	}
	parent, err := n.ix.GetRecord(ctx, d.ParentID)
	if err == index.ErrNotFound {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-114", "parent record does not exist")
	}
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err)
	}
	if parent.ProtocolPath != parentPath {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-115", "parent record sits at the wrong protocol path")
	}
	if d.ContextID != parent.ContextID {
		return nil, derrors.New(derrors.KindValidation, "DWN-REC-116", "contextId does not match parent context")
	}

	// Walk to the root. Depth is bounded to keep malformed data from looping.
	chain := []protocol.RecordMeta{{Path: parent.ProtocolPath, Author: parent.Author, Recipient: parent.Recipient}}
	cur := parent
	for depth := 0; cur.ParentID != ""; depth++ {
		if depth > 32 {
			return nil, derrors.New(derrors.KindValidation, "DWN-REC-117", "record ancestry too deep")
		}
		cur, err = n.ix.GetRecord(ctx, cur.ParentID)
		if err != nil {
			return nil, derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err)
		}
		chain = append([]protocol.RecordMeta{{Path: cur.ProtocolPath, Author: cur.Author, Recipient: cur.Recipient}}, chain...)
	}
	return chain, nil
}

func (n *Node) authorizeRead(ctx context.Context, entry *index.Entry, actor did.DID) error {
	a := string(actor)
	if entry.Published || a == string(n.owner) || a == entry.Author || (entry.Recipient != "" && a == entry.Recipient) {
		return nil
	}
	def, err := n.loadDefinition(ctx, entry.Protocol)
	if err != nil {
		return err
	}
	chain, err := n.chainFor(ctx, entry)
	if err != nil {
		return err
	}
	return def.Authorize(entry.ProtocolPath, protocol.ActionRead, a, chain)
}

func (n *Node) chainFor(ctx context.Context, entry *index.Entry) ([]protocol.RecordMeta, error) {
	chain := []protocol.RecordMeta{{Path: entry.ProtocolPath, Author: entry.Author, Recipient: entry.Recipient}}
	cur := entry
	var err error
	for depth := 0; cur.ParentID != ""; depth++ {
		if depth > 32 {
			return nil, derrors.New(derrors.KindValidation, "DWN-REC-117", "record ancestry too deep")
		}
		cur, err = n.ix.GetRecord(ctx, cur.ParentID)
		if err != nil {
			return nil, derrors.Wrap(derrors.KindInternal, "DWN-INT-005", "record lookup failed", err)
		}
		chain = append([]protocol.RecordMeta{{Path: cur.ProtocolPath, Author: cur.Author, Recipient: cur.Recipient}}, chain...)
	}
	return chain, nil
}

func (n *Node) appendToLog(ctx context.Context, env *message.Envelope, recordID string) error {
	msgCID, err := env.CID()
	if err != nil {
		return err
	}
	raw, err := env.Canonical()
	if err != nil {
		return err
	}
	if _, err := n.ix.AppendMessage(ctx, msgCID.String(), recordID, raw); err != nil {
		return derrors.Wrap(derrors.KindInternal, "DWN-INT-004", "log append failed", err)
	}
	return nil
}
