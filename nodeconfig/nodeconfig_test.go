package nodeconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openwebnode/dwn/nodeconfig"
	"github.com/openwebnode/dwn/storage/casregistry"

	_ "github.com/openwebnode/dwn/storage/localfs"
)

func validConfig() nodeconfig.Config {
	return nodeconfig.Config{
		Owner:     nodeconfig.OwnerConfig{KeystoreDir: "/tmp/keys", Name: "alice"},
		IndexPath: "/tmp/index.db",
		Storage: nodeconfig.StorageConfig{
			Backends: []nodeconfig.BackendConfig{
				{Name: "localfs", Config: map[string]string{"localfs-dir": "/tmp/blobs"}},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*nodeconfig.Config)
	}{
		{"missing owner", func(c *nodeconfig.Config) { c.Owner.Name = "" }},
		{"missing index path", func(c *nodeconfig.Config) { c.IndexPath = "" }},
		{"no backends", func(c *nodeconfig.Config) { c.Storage.Backends = nil }},
		{"unnamed backend", func(c *nodeconfig.Config) { c.Storage.Backends[0].Name = "" }},
		{"bad write policy", func(c *nodeconfig.Config) { c.Storage.WritePolicy = "quorum" }},
		{"bad interval", func(c *nodeconfig.Config) { c.Sync.Interval = "soon" }},
		{"negative interval", func(c *nodeconfig.Config) { c.Sync.Interval = "-3s" }},
		{"duplicate backend id", func(c *nodeconfig.Config) {
			c.Storage.Backends = append(c.Storage.Backends, c.Storage.Backends[0])
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dwn.json")
	body := `{
	  "owner": {"keystore_dir": "/tmp/keys", "name": "alice", "device": "laptop"},
	  "index_path": "/tmp/index.db",
	  "storage": {
	    "write_policy": "all",
	    "backends": [
	      {"name": "localfs", "config": {"localfs-dir": "/tmp/blobs"}},
	      {"name": "localfs", "id": "mirror", "config": {"localfs-dir": "/tmp/mirror"}}
	    ]
	  },
	  "sync": {"interval": "10s", "peers": {"did:key:zBob": "bob.example.com:7470"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := nodeconfig.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Owner.Device != "laptop" {
		t.Fatalf("Device = %q", cfg.Owner.Device)
	}
	if cfg.Storage.WritePolicy != "all" || len(cfg.Storage.Backends) != 2 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	d, err := cfg.Sync.IntervalDuration()
	if err != nil || d != 10*time.Second {
		t.Fatalf("IntervalDuration = %v, %v", d, err)
	}
	if cfg.Sync.Peers["did:key:zBob"] != "bob.example.com:7470" {
		t.Fatalf("peers = %v", cfg.Sync.Peers)
	}

	// Unset listen addresses fall back to the defaults.
	if cfg.GRPCAddr() != nodeconfig.DefaultGRPCAddr || cfg.HTTPAddr() != nodeconfig.DefaultHTTPAddr {
		t.Fatalf("listen = %q, %q", cfg.GRPCAddr(), cfg.HTTPAddr())
	}

	if _, err := nodeconfig.LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := nodeconfig.StorageConfig{
		WritePolicy: "all",
		Backends: []nodeconfig.BackendConfig{
			{Name: "localfs", ID: "primary", Config: map[string]string{"localfs-dir": filepath.Join(dir, "a")}},
			{Name: "localfs", ID: "mirror", Config: map[string]string{"localfs-dir": filepath.Join(dir, "b")}},
		},
	}

	cas, closeAll, err := cfg.Open(casregistry.UsageDaemon)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeAll()

	id, err := cas.Put([]byte("mirrored payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !cas.Has(id) {
		t.Fatal("Has = false after Put")
	}
	// Both replicas hold the blob.
	for _, sub := range []string{"a", "b"} {
		single := nodeconfig.StorageConfig{Backends: []nodeconfig.BackendConfig{
			{Name: "localfs", Config: map[string]string{"localfs-dir": filepath.Join(dir, sub)}},
		}}
		one, closeOne, err := single.Open(casregistry.UsageDaemon)
		if err != nil {
			t.Fatalf("Open(%s): %v", sub, err)
		}
		if !one.Has(id) {
			t.Fatalf("replica %s missing blob", sub)
		}
		closeOne()
	}
}
