// Package did implements did:key identities.
//
// A did:key identifier embeds the public key itself: the multibase base58btc
// payload is a multicodec varint followed by the raw public key bytes.
// Resolution therefore never touches the network; it is a pure decode.
package did

import (
	"crypto/ed25519"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"

	"github.com/openwebnode/dwn/derrors"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

const prefix = "did:key:"

// Multicodec codes for the supported key types. Ed25519 is the registered
// ed25519-pub code; dilithium3 has no registered code yet, so we carry a
// draft code and only accept it from our own peers.
const (
	codecEd25519    = uint64(0xed)
	codecDilithium3 = uint64(0x1207)
)

// DID is an opaque decentralized identifier string.
type DID string

func (d DID) String() string { return string(d) }

// FromPublicKey encodes raw public key bytes as a did:key identifier.
func FromPublicKey(alg string, pub []byte) (DID, error) {
	var code uint64
	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return "", derrors.New(derrors.KindCrypto, "DWN-DID-101", "invalid ed25519 public key length")
		}
		code = codecEd25519
	case AlgDilithium3:
		if len(pub) != mode3.PublicKeySize {
			return "", derrors.New(derrors.KindCrypto, "DWN-DID-102", "invalid dilithium3 public key length")
		}
		code = codecDilithium3
	default:
		return "", derrors.New(derrors.KindCrypto, "DWN-DID-103", "unsupported key algorithm: "+alg)
	}

	payload := append(varint.ToUvarint(code), pub...)
	enc, err := multibase.Encode(multibase.Base58BTC, payload)
	if err != nil {
		return "", derrors.Wrap(derrors.KindCrypto, "DWN-DID-104", "multibase encode failed", err)
	}
	return DID(prefix + enc), nil
}

// Resolve decodes a did:key identifier into its algorithm and public key
// bytes. This is the only resolution the module performs: the identifier is
// compared against and decoded into the key it names.
func Resolve(d DID) (alg string, pub []byte, err error) {
	s := string(d)
	if !strings.HasPrefix(s, prefix) {
		return "", nil, derrors.New(derrors.KindCrypto, "DWN-DID-111", "not a did:key identifier")
	}
	_, payload, err := multibase.Decode(s[len(prefix):])
	if err != nil {
		return "", nil, derrors.Wrap(derrors.KindCrypto, "DWN-DID-112", "invalid multibase payload", err)
	}
	code, n, err := varint.FromUvarint(payload)
	if err != nil {
		return "", nil, derrors.Wrap(derrors.KindCrypto, "DWN-DID-113", "invalid multicodec prefix", err)
	}
	pub = payload[n:]

	switch code {
	case codecEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return "", nil, derrors.New(derrors.KindCrypto, "DWN-DID-101", "invalid ed25519 public key length")
		}
		return AlgEd25519, pub, nil
	case codecDilithium3:
		if len(pub) != mode3.PublicKeySize {
			return "", nil, derrors.New(derrors.KindCrypto, "DWN-DID-102", "invalid dilithium3 public key length")
		}
		return AlgDilithium3, pub, nil
	default:
		return "", nil, derrors.New(derrors.KindCrypto, "DWN-DID-114", "unsupported key multicodec")
	}
}

// Equal reports whether two identifiers name the same key.
// Spec'd as explicit resolution-by-comparison for callers that want the
// intent visible at the call site.
func Equal(a, b DID) bool { return a == b }
