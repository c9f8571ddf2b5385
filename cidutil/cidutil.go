package cidutil

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrInvalid is returned by Parse for malformed or undefined CID strings.
var ErrInvalid = errors.New("cidutil: invalid cid")

// MessageCID returns the CIDv1 for a canonical message envelope.
//
// Messages are canonical JSON, so they use the dag-json multicodec with a
// sha2-256 multihash. All message identity in this module derives from this
// function; two envelopes are the same message iff their MessageCIDs match.
func MessageCID(canonical []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(canonical, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagJSON, sum), nil
}

// DataCID returns the CIDv1 for an opaque record data payload.
//
// Payload bytes are not interpreted, so they use the raw multicodec.
func DataCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// DataCIDString is DataCID rendered as a string, or "" on error.
func DataCIDString(data []byte) string {
	id, err := DataCID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Parse decodes a CID string and rejects the undefined CID.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, ErrInvalid
	}
	if !id.Defined() {
		return cid.Undef, ErrInvalid
	}
	return id, nil
}
