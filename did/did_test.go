package did

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"
)

func testSeed(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestEd25519RoundTrip(t *testing.T) {
	id, err := NewEd25519FromSeed(testSeed(1))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	if !strings.HasPrefix(string(id.DID), "did:key:z") {
		t.Fatalf("unexpected identifier shape: %s", id.DID)
	}

	alg, pub, err := Resolve(id.DID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if alg != AlgEd25519 {
		t.Fatalf("alg: got %s", alg)
	}
	want := ed25519.NewKeyFromSeed(testSeed(1)).Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, want) {
		t.Fatalf("resolved key does not match the generating key")
	}
}

func TestDeterministicAndDistinct(t *testing.T) {
	a, err := NewEd25519FromSeed(testSeed(2))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	b, err := NewEd25519FromSeed(testSeed(2))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	c, err := NewEd25519FromSeed(testSeed(3))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	if !Equal(a.DID, b.DID) {
		t.Fatalf("same seed should produce the same DID")
	}
	if Equal(a.DID, c.DID) {
		t.Fatalf("different seeds should produce different DIDs")
	}
}

func TestSignVerifyEd25519(t *testing.T) {
	id, err := NewEd25519FromSeed(testSeed(4))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	msg := []byte("canonical descriptor bytes")

	for _, hash := range []string{HashSHA256, HashSHA512, HashSHA3256} {
		sig, err := id.Sign(hash, msg)
		if err != nil {
			t.Fatalf("Sign(%s): %v", hash, err)
		}
		if err := Verify(id.DID, hash, msg, sig); err != nil {
			t.Fatalf("Verify(%s): %v", hash, err)
		}
		if err := Verify(id.DID, hash, []byte("tampered"), sig); err == nil {
			t.Fatalf("Verify(%s) accepted tampered message", hash)
		}
	}

	// A signature must not verify under a different DID.
	other, err := NewEd25519FromSeed(testSeed(5))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	sig, err := id.Sign(HashSHA256, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(other.DID, HashSHA256, msg, sig); err == nil {
		t.Fatalf("Verify accepted signature under the wrong DID")
	}
}

func TestSignVerifyDilithium3(t *testing.T) {
	id, err := NewDilithium3FromSeed(testSeed(6))
	if err != nil {
		t.Fatalf("NewDilithium3FromSeed: %v", err)
	}
	msg := []byte("post-quantum payload")
	sig, err := id.Sign(HashSHA256, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(id.DID, HashSHA256, msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(id.DID, HashSHA256, []byte("tampered"), sig); err == nil {
		t.Fatalf("Verify accepted tampered message")
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "did:web:example.com", "did:key:", "did:key:zzz!"} {
		if _, _, err := Resolve(DID(s)); err == nil {
			t.Fatalf("Resolve(%q) should fail", s)
		}
	}
}

func TestKeystoreLifecycle(t *testing.T) {
	ks, err := OpenKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKeystore: %v", err)
	}

	id, err := ks.Initialize("alice", AlgEd25519, testSeed(7), false)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Re-initializing without overwrite must not clobber the identity.
	if _, err := ks.Initialize("alice", AlgEd25519, testSeed(8), false); err == nil {
		t.Fatalf("Initialize should refuse to overwrite an existing key")
	}

	loaded, err := ks.Load("alice", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DID != id.DID {
		t.Fatalf("Load returned a different identity: %s vs %s", loaded.DID, id.DID)
	}

	dev, err := ks.DeriveDevice("alice", "laptop", false)
	if err != nil {
		t.Fatalf("DeriveDevice: %v", err)
	}
	dev2, err := ks.Load("alice", "laptop")
	if err != nil {
		t.Fatalf("Load device: %v", err)
	}
	if dev.DID != dev2.DID {
		t.Fatalf("device identity not stable across load")
	}
	if dev.DID == id.DID {
		t.Fatalf("device identity should differ from root")
	}

	entries, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "alice" || len(entries[0].Devices) != 1 || entries[0].Devices[0] != "laptop" {
		t.Fatalf("unexpected List result: %+v", entries)
	}
}

func TestCheckNameRejectsPathCharacters(t *testing.T) {
	for _, name := range []string{"", "a/b", "a b", "a.b", "../x"} {
		if err := CheckName(name); err == nil {
			t.Fatalf("CheckName(%q) should fail", name)
		}
	}
	if err := CheckName("alice-Laptop_2"); err != nil {
		t.Fatalf("CheckName: %v", err)
	}
}
