package storage_test

import (
	"bytes"
	"testing"

	"github.com/openwebnode/dwn/cidutil"
	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/testkit"
)

func TestReplicatingCAS_WritesToAllBackends(t *testing.T) {
	a := testkit.NewMemCAS()
	b := testkit.NewMemCAS()
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "a", CAS: a},
		{Name: "b", CAS: b},
	}}

	payload := []byte("replicate me")
	id, perBackend, err := r.PutAll(payload)
	if err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	want, err := cidutil.DataCID(payload)
	if err != nil {
		t.Fatalf("DataCID failed: %v", err)
	}
	if id != want {
		t.Fatalf("canonical CID mismatch")
	}
	if perBackend["a"] != want || perBackend["b"] != want {
		t.Fatalf("per-backend CID map wrong: %v", perBackend)
	}
	if !a.Has(id) || !b.Has(id) {
		t.Fatalf("payload missing from a backend")
	}
}

func TestReplicatingCAS_GetFallsBack(t *testing.T) {
	empty := testkit.NewMemCAS()
	full := testkit.NewMemCAS()
	payload := []byte("only in second")
	id, err := full.Put(payload)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "empty", CAS: empty},
		{Name: "full", CAS: full},
	}}
	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get bytes mismatch")
	}
	if !r.Has(id) {
		t.Fatalf("Has should report true when any backend has the object")
	}
}

func TestReplicatingCAS_FailingBackendFailsPut(t *testing.T) {
	ok := testkit.NewMemCAS()
	bad := testkit.NewMemCAS()
	bad.FailPuts = true
	r := storage.ReplicatingCAS{Backends: []storage.NamedCAS{
		{Name: "ok", CAS: ok},
		{Name: "bad", CAS: bad},
	}}
	if _, err := r.Put([]byte("x")); err == nil {
		t.Fatalf("Put should fail when any backend fails")
	}
}

func TestReplicatingCAS_NoBackends(t *testing.T) {
	r := storage.ReplicatingCAS{}
	if _, err := r.Put([]byte("x")); err == nil {
		t.Fatalf("Put should fail with no backends")
	}
	id, err := cidutil.DataCID([]byte("x"))
	if err != nil {
		t.Fatalf("DataCID failed: %v", err)
	}
	if _, err := r.Get(id); !storage.IsNotFound(err) {
		t.Fatalf("Get with no backends: got %v", err)
	}
}

func TestMultiCAS_PutFirstReadAny(t *testing.T) {
	first := testkit.NewMemCAS()
	second := testkit.NewMemCAS()
	m := storage.MultiCAS{Adapters: []storage.CAS{first, second}}

	id, err := m.Put([]byte("primary only"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !first.Has(id) {
		t.Fatalf("first adapter should hold the object")
	}
	if second.Has(id) {
		t.Fatalf("MultiCAS must not fan out writes")
	}

	// Reads fall back to later adapters.
	other, err := second.Put([]byte("secondary only"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := m.Get(other); err != nil {
		t.Fatalf("Get fallback failed: %v", err)
	}
}
