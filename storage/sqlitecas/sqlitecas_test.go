package sqlitecas

import (
	"path/filepath"
	"testing"

	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/testkit"
)

func TestSQLiteCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		cas, err := Open(filepath.Join(t.TempDir(), "cas.sqlite3"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() { _ = cas.Close() })
		return cas
	})
}

func TestSQLiteCAS_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cas.sqlite3")

	cas, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	id, err := cas.Put([]byte("durable payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cas.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cas2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer cas2.Close()
	got, err := cas2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "durable payload" {
		t.Fatalf("payload changed across reopen")
	}
}

func TestSQLiteCAS_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("Open should reject an empty path")
	}
}
