package localfs

import (
	"flag"
	"fmt"

	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/casregistry"
)

var flagLocalDir string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem CAS (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagLocalDir, "localfs-dir", "", "LocalFS CAS directory (for --backend=localfs)")
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			dir := flagLocalDir
			if cfg != nil {
				dir = cfg["localfs-dir"]
			}
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
