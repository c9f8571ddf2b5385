// Package nodeconfig loads the daemon configuration file.
//
// Example:
//
//	{
//	  "owner": {"keystore_dir":"/var/lib/dwn/keys", "name":"alice"},
//	  "index_path": "/var/lib/dwn/index.db",
//	  "storage": {
//	    "write_policy": "all",
//	    "backends": [
//	      {"name":"localfs", "config":{"localfs-dir":"/var/lib/dwn/blobs"}},
//	      {"name":"sqlite", "config":{"sqlite-db":"/var/lib/dwn/blobs.db"}}
//	    ]
//	  },
//	  "listen": {"grpc":":7470", "http":":7471"},
//	  "sync": {
//	    "interval": "5s",
//	    "peers": {"did:key:z6Mk...": "bob.example.com:7470"}
//	  }
//	}
package nodeconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/casregistry"
)

const (
	DefaultGRPCAddr = ":7470"
	DefaultHTTPAddr = ":7471"
)

type Config struct {
	Owner     OwnerConfig   `json:"owner"`
	IndexPath string        `json:"index_path"`
	Storage   StorageConfig `json:"storage"`
	Listen    ListenConfig  `json:"listen"`
	Sync      SyncConfig    `json:"sync"`
}

// OwnerConfig names the identity the node runs as.
type OwnerConfig struct {
	KeystoreDir string `json:"keystore_dir"`
	Name        string `json:"name"`
	// Device selects a device key; empty means the root key.
	Device string `json:"device,omitempty"`
}

// StorageConfig describes the data payload backends, opened via casregistry.
//
// WritePolicy values:
// - "first" (default): write only to the first backend; reads fall back in order
// - "all": write to all backends and require CID equality
type StorageConfig struct {
	WritePolicy string          `json:"write_policy,omitempty"`
	Backends    []BackendConfig `json:"backends"`
}

type BackendConfig struct {
	// Name is the casregistry backend to open (e.g. "localfs", "sqlite", "grpc").
	Name string `json:"name"`
	// ID is an optional stable alias for this backend instance.
	ID     string            `json:"id,omitempty"`
	Config map[string]string `json:"config,omitempty"`
}

type ListenConfig struct {
	GRPC string `json:"grpc,omitempty"`
	HTTP string `json:"http,omitempty"`
}

type SyncConfig struct {
	// Interval is a Go duration string; empty disables the background engine
	// only when there are no peers, otherwise it defaults to 5s.
	Interval string `json:"interval,omitempty"`
	// Peers maps a peer DID to its gRPC sync target.
	Peers map[string]string `json:"peers,omitempty"`
}

func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("nodeconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Owner.KeystoreDir == "" || c.Owner.Name == "" {
		return errors.New("nodeconfig: owner keystore_dir and name are required")
	}
	if c.IndexPath == "" {
		return errors.New("nodeconfig: index_path is required")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := c.Sync.IntervalDuration(); err != nil {
		return err
	}
	return nil
}

func (c Config) GRPCAddr() string {
	if c.Listen.GRPC == "" {
		return DefaultGRPCAddr
	}
	return c.Listen.GRPC
}

func (c Config) HTTPAddr() string {
	if c.Listen.HTTP == "" {
		return DefaultHTTPAddr
	}
	return c.Listen.HTTP
}

func (s StorageConfig) Validate() error {
	if len(s.Backends) == 0 {
		return errors.New("nodeconfig: at least one storage backend is required")
	}
	seen := make(map[string]struct{}, len(s.Backends))
	for _, b := range s.Backends {
		if b.Name == "" {
			return errors.New("nodeconfig: storage backend name is required")
		}
		id := b.Name
		if b.ID != "" {
			id = b.ID
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("nodeconfig: duplicate storage backend id %q", id)
		}
		seen[id] = struct{}{}
	}
	switch s.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("nodeconfig: invalid write_policy %q", s.WritePolicy)
	}
}

// Open opens the configured payload store.
func (s StorageConfig) Open(usage casregistry.Usage) (storage.CAS, func() error, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]storage.NamedCAS, 0, len(s.Backends))
	closers := make([]func() error, 0, len(s.Backends))
	for _, b := range s.Backends {
		cas, closeFn, err := casregistry.Open(b.Name, usage, b.Config)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			return nil, nil, err
		}
		name := b.Name
		if b.ID != "" {
			name = b.ID
		}
		named = append(named, storage.NamedCAS{Name: name, CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}

	switch s.WritePolicy {
	case "", "first":
		adapters := make([]storage.CAS, 0, len(named))
		for _, n := range named {
			adapters = append(adapters, n.CAS)
		}
		return storage.MultiCAS{Adapters: adapters}, closeAll, nil
	case "all":
		return storage.ReplicatingCAS{Backends: named}, closeAll, nil
	default:
		return nil, nil, fmt.Errorf("nodeconfig: invalid write_policy %q", s.WritePolicy)
	}
}

// IntervalDuration parses the sync interval; zero means use the default.
func (s SyncConfig) IntervalDuration() (time.Duration, error) {
	if s.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("nodeconfig: invalid sync interval %q: %w", s.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("nodeconfig: sync interval must be positive, got %q", s.Interval)
	}
	return d, nil
}
