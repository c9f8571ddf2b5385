package grpcblob

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/casregistry"
)

var (
	flagTarget      string
	flagDialTimeout time.Duration
	flagTimeout     time.Duration
	flagMaxMsgBytes int
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC blob-store client (talks to a dwnd --serve-blobs daemon)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.DurationVar(&flagDialTimeout, "grpc-dial-timeout", 5*time.Second, "Dial timeout (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			target := flagTarget
			timeout := flagTimeout
			if cfg != nil {
				target = cfg["grpc-target"]
				if v := cfg["grpc-timeout"]; v != "" {
					d, err := time.ParseDuration(v)
					if err != nil {
						return nil, nil, fmt.Errorf("invalid grpc-timeout %q: %w", v, err)
					}
					timeout = d
				}
			}
			target = strings.TrimSpace(target)
			if target == "" {
				return nil, nil, fmt.Errorf("missing --grpc-target")
			}
			client, err := Dial(target, DialOptions{Timeout: flagDialTimeout, MaxMsgBytes: flagMaxMsgBytes})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
