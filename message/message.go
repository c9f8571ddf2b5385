// Package message implements the signed message envelopes a node accepts:
// protocol installs, record writes, and record deletes.
package message

import (
	"encoding/json"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/oklog/ulid/v2"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/derrors"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/protocol"
)

const (
	InterfaceProtocolsConfigure = "ProtocolsConfigure"
	InterfaceRecordsWrite       = "RecordsWrite"
	InterfaceRecordsDelete      = "RecordsDelete"
)

// Descriptor is the signed body of a message. Field order matters: canonical
// bytes are the JSON marshalling of this struct.
type Descriptor struct {
	Interface        string `json:"interface"`
	MessageTimestamp string `json:"messageTimestamp"`

	// Record addressing.
	RecordID     string `json:"recordId,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
	ProtocolPath string `json:"protocolPath,omitempty"`
	Schema       string `json:"schema,omitempty"`
	DataFormat   string `json:"dataFormat,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	ContextID    string `json:"contextId,omitempty"`

	// Data payload linkage.
	DataCID  string `json:"dataCid,omitempty"`
	DataSize int64  `json:"dataSize,omitempty"`

	Published bool `json:"published,omitempty"`

	// ProtocolsConfigure only.
	Definition *protocol.Definition `json:"definition,omitempty"`
}

// Authorization is a detached signature over the canonical descriptor bytes.
type Authorization struct {
	Signer    did.DID `json:"signer"`
	Algorithm string  `json:"algorithm"`
	Hash      string  `json:"hash"`
	Signature string  `json:"signature"`
}

// Envelope is a descriptor plus its authorization.
type Envelope struct {
	Descriptor    Descriptor     `json:"descriptor"`
	Authorization *Authorization `json:"authorization,omitempty"`
}

// NewRecordID mints a fresh record identifier.
func NewRecordID() string {
	return ulid.Make().String()
}

// Now returns the timestamp format messages carry.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Canonical returns the canonical bytes of the descriptor: the signing scope.
func (d *Descriptor) Canonical() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindCanonical, "DWN-MSG-002", "canonical marshal failed", err)
	}
	return b, nil
}

// Canonical returns the canonical bytes of the whole envelope: the bytes a
// message CID is derived from and the bytes stored and replicated.
func (e *Envelope) Canonical() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindCanonical, "DWN-MSG-002", "canonical marshal failed", err)
	}
	return b, nil
}

// CID returns the message identity.
func (e *Envelope) CID() (cid.Cid, error) {
	b, err := e.Canonical()
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.MessageCID(b)
}

// Parse decodes an envelope and checks its structural rules. It does not
// verify the signature; callers decide when Verify runs.
func Parse(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, derrors.Wrap(derrors.KindParse, "DWN-MSG-001", "message is not valid JSON", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate enforces the structural rules for an envelope.
func (e *Envelope) Validate() error {
	d := &e.Descriptor
	switch d.Interface {
	case InterfaceProtocolsConfigure:
		if d.Definition == nil {
			return derrors.New(derrors.KindValidation, "DWN-MSG-110", "ProtocolsConfigure requires a definition")
		}
		if err := d.Definition.Validate(); err != nil {
			return err
		}
	case InterfaceRecordsWrite:
		if d.RecordID == "" {
			return derrors.New(derrors.KindValidation, "DWN-MSG-103", "RecordsWrite requires recordId")
		}
		if d.Protocol == "" || d.ProtocolPath == "" {
			return derrors.New(derrors.KindValidation, "DWN-MSG-104", "RecordsWrite requires protocol and protocolPath")
		}
		if d.DataCID == "" {
			return derrors.New(derrors.KindValidation, "DWN-MSG-105", "RecordsWrite requires dataCid")
		}
		if _, err := cidutil.Parse(d.DataCID); err != nil {
			return derrors.Wrap(derrors.KindCID, "DWN-MSG-106", "invalid dataCid", err)
		}
		if d.DataSize < 0 {
			return derrors.New(derrors.KindValidation, "DWN-MSG-107", "negative dataSize")
		}
	case InterfaceRecordsDelete:
		if d.RecordID == "" {
			return derrors.New(derrors.KindValidation, "DWN-MSG-103", "RecordsDelete requires recordId")
		}
	case "":
		return derrors.New(derrors.KindValidation, "DWN-MSG-101", "missing interface")
	default:
		return derrors.New(derrors.KindValidation, "DWN-MSG-101", "unknown interface: "+d.Interface)
	}

	if d.MessageTimestamp == "" {
		return derrors.New(derrors.KindValidation, "DWN-MSG-102", "missing messageTimestamp")
	}
	if _, err := time.Parse(time.RFC3339Nano, d.MessageTimestamp); err != nil {
		return derrors.Wrap(derrors.KindValidation, "DWN-MSG-102", "invalid messageTimestamp", err)
	}
	return nil
}

// Sign attaches an authorization to the envelope.
func (e *Envelope) Sign(id *did.Identity, hashAlg string) error {
	if id == nil {
		return derrors.New(derrors.KindCrypto, "DWN-MSG-201", "missing signing identity")
	}
	if hashAlg == "" {
		hashAlg = did.HashSHA256
	}
	scope, err := e.Descriptor.Canonical()
	if err != nil {
		return err
	}
	sig, err := id.Sign(hashAlg, scope)
	if err != nil {
		return err
	}
	e.Authorization = &Authorization{
		Signer:    id.DID,
		Algorithm: id.Alg,
		Hash:      hashAlg,
		Signature: sig,
	}
	return nil
}

// Verify checks the envelope's authorization against its signer DID.
func (e *Envelope) Verify() error {
	if e.Authorization == nil {
		return derrors.New(derrors.KindCrypto, "DWN-MSG-202", "missing authorization")
	}
	a := e.Authorization
	if a.Signer == "" {
		return derrors.New(derrors.KindCrypto, "DWN-MSG-203", "missing signer")
	}
	alg, _, err := did.Resolve(a.Signer)
	if err != nil {
		return err
	}
	if a.Algorithm != "" && a.Algorithm != alg {
		return derrors.New(derrors.KindCrypto, "DWN-MSG-204", "signer key algorithm does not match authorization")
	}
	scope, err := e.Descriptor.Canonical()
	if err != nil {
		return err
	}
	return did.Verify(a.Signer, a.Hash, scope, a.Signature)
}

// Author returns the signer DID, or "" for an unsigned envelope.
func (e *Envelope) Author() did.DID {
	if e.Authorization == nil {
		return ""
	}
	return e.Authorization.Signer
}

// CompareRevisions orders two revisions of a record. The later
// (messageTimestamp, messageCid) pair wins; the CID string breaks timestamp
// ties so replicas converge no matter the arrival order.
func CompareRevisions(tsA, cidA, tsB, cidB string) int {
	a, errA := time.Parse(time.RFC3339Nano, tsA)
	b, errB := time.Parse(time.RFC3339Nano, tsB)
	switch {
	case errA == nil && errB == nil && a.Before(b):
		return -1
	case errA == nil && errB == nil && a.After(b):
		return 1
	}
	switch {
	case cidA < cidB:
		return -1
	case cidA > cidB:
		return 1
	default:
		return 0
	}
}
