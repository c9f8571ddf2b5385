package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"github.com/openwebnode/dwn/derrors"
)

const (
	HashSHA256  = "sha256"
	HashSHA512  = "sha512"
	HashSHA3256 = "sha3-256"
)

// Identity is a resolvable DID together with its private key material.
type Identity struct {
	DID DID
	Alg string

	ed ed25519.PrivateKey
	d3 *mode3.PrivateKey
}

// NewEd25519FromSeed builds an ed25519 identity from a 32-byte seed.
func NewEd25519FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, derrors.New(derrors.KindCrypto, "DWN-DID-201", "ed25519 seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	d, err := FromPublicKey(AlgEd25519, priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Identity{DID: d, Alg: AlgEd25519, ed: priv}, nil
}

// NewDilithium3FromSeed builds a dilithium3 identity from a 32-byte seed.
func NewDilithium3FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != mode3.SeedSize {
		return nil, derrors.New(derrors.KindCrypto, "DWN-DID-202", "dilithium3 seed must be 32 bytes")
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pub, priv := mode3.NewKeyFromSeed(&s)
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, derrors.Wrap(derrors.KindCrypto, "DWN-DID-203", "dilithium3 public key marshal failed", err)
	}
	d, err := FromPublicKey(AlgDilithium3, pubBytes)
	if err != nil {
		return nil, err
	}
	return &Identity{DID: d, Alg: AlgDilithium3, d3: priv}, nil
}

// Generate creates a fresh identity for alg using rng (crypto/rand when nil).
func Generate(alg string, rng io.Reader) (*Identity, error) {
	if rng == nil {
		rng = rand.Reader
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rng, seed); err != nil {
		return nil, derrors.Wrap(derrors.KindCrypto, "DWN-DID-204", "entropy read failed", err)
	}
	switch alg {
	case AlgEd25519:
		return NewEd25519FromSeed(seed)
	case AlgDilithium3:
		return NewDilithium3FromSeed(seed)
	default:
		return nil, derrors.New(derrors.KindCrypto, "DWN-DID-103", "unsupported key algorithm: "+alg)
	}
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case HashSHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case HashSHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case HashSHA3256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, derrors.New(derrors.KindCrypto, "DWN-DID-211", "unsupported hash algorithm: "+hashAlg)
	}
}

// Sign returns a base64 signature over hash(message).
func (id *Identity) Sign(hashAlg string, message []byte) (string, error) {
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return "", err
	}
	switch id.Alg {
	case AlgEd25519:
		return base64.StdEncoding.EncodeToString(ed25519.Sign(id.ed, digest)), nil
	case AlgDilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(id.d3, digest, sig)
		return base64.StdEncoding.EncodeToString(sig), nil
	default:
		return "", derrors.New(derrors.KindCrypto, "DWN-DID-103", "unsupported key algorithm: "+id.Alg)
	}
}

// Verify checks a base64 signature made by the key the DID names.
func Verify(d DID, hashAlg string, message []byte, sigB64 string) error {
	alg, pub, err := Resolve(d)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return derrors.Wrap(derrors.KindCrypto, "DWN-DID-221", "invalid signature base64", err)
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return err
	}

	switch alg {
	case AlgEd25519:
		if len(sig) != ed25519.SignatureSize {
			return derrors.New(derrors.KindCrypto, "DWN-DID-222", "invalid ed25519 signature length")
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return derrors.New(derrors.KindCrypto, "DWN-DID-401", "signature invalid")
		}
		return nil
	case AlgDilithium3:
		if len(sig) != mode3.SignatureSize {
			return derrors.New(derrors.KindCrypto, "DWN-DID-223", "invalid dilithium3 signature length")
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return derrors.Wrap(derrors.KindCrypto, "DWN-DID-224", "invalid dilithium3 public key", err)
		}
		if !mode3.Verify(&pk, digest, sig) {
			return derrors.New(derrors.KindCrypto, "DWN-DID-401", "signature invalid")
		}
		return nil
	default:
		return derrors.New(derrors.KindCrypto, "DWN-DID-114", "unsupported key multicodec")
	}
}
