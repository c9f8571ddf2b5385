package storage

import "github.com/ipfs/go-cid"

// CAS is the content-addressable store record data payloads live in.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - CIDs are derived from the bytes written (raw codec, sha2-256).
// - Get MUST return ErrNotFound when the CID is absent.
//
// Message envelopes are not stored here; they live in the node's message log
// keyed by their dag-json CIDs.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
