package sqlitecas

import (
	"flag"
	"fmt"

	"github.com/openwebnode/dwn/storage"
	"github.com/openwebnode/dwn/storage/casregistry"
)

var flagDBPath string

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "sqlite",
		Description: "sqlite-backed CAS (single database file)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagDBPath, "sqlite-db", "", "sqlite CAS database path (for --backend=sqlite)")
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			path := flagDBPath
			if cfg != nil {
				path = cfg["sqlite-db"]
			}
			if path == "" {
				return nil, nil, fmt.Errorf("missing --sqlite-db")
			}
			cas, err := Open(path)
			if err != nil {
				return nil, nil, err
			}
			return cas, cas.Close, nil
		},
	})
}
