// Command dwn is the operator CLI: key management, protocol installs, and
// record operations against a local node's stores.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/openwebnode/dwn/agent"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/node"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/storage/casregistry"

	_ "github.com/openwebnode/dwn/storage/grpcblob"
	_ "github.com/openwebnode/dwn/storage/localfs"
	_ "github.com/openwebnode/dwn/storage/sqlitecas"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "protocol":
		return cmdProtocol(args[1:], out, errOut)
	case "record":
		return cmdRecord(args[1:], out, errOut)
	case "todo":
		return cmdTodo(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "dwn: node operator CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dwn key init --keystore <dir> --name <name> [--alg ed25519|dilithium3] [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  dwn key derive --keystore <dir> --name <name> --device <device> [--force]")
	fmt.Fprintln(w, "  dwn key list --keystore <dir>")
	fmt.Fprintln(w, "  dwn key export --keystore <dir> --name <name> [--device <device>]")
	fmt.Fprintln(w, "  dwn protocol install --file <def.json> [store flags]")
	fmt.Fprintln(w, "  dwn protocol show --uri <uri> [store flags]")
	fmt.Fprintln(w, "  dwn protocol list [store flags]")
	fmt.Fprintln(w, "  dwn record create --protocol <uri> --path <protocolPath> [--schema <uri>] [--format <mime>] [--recipient <did>] [--parent <id>] [--published] (--data <json> | --data-file <path>) [store flags]")
	fmt.Fprintln(w, "  dwn record read --id <recordId> [store flags]")
	fmt.Fprintln(w, "  dwn record query [--protocol <uri>] [--path <protocolPath>] [--parent <id>] [--context <id>] [store flags]")
	fmt.Fprintln(w, "  dwn record update --id <recordId> (--data <json> | --data-file <path>) [store flags]")
	fmt.Fprintln(w, "  dwn record delete --id <recordId> [store flags]")
	fmt.Fprintln(w, "  dwn record send --id <recordId> (--recipient <did> --config <file> | --target <host:port>) [store flags]")
	fmt.Fprintln(w, "  dwn todo <install|create-list|lists|add|tasks|toggle|remove|send-list> ... [store flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Store flags (shared by protocol/record/todo):")
	fmt.Fprintln(w, "  --keystore <dir> --name <name> [--device <device>] --index <path> --backend <name> plus backend flags")
	fmt.Fprintln(w, "  (e.g. --backend=localfs --localfs-dir=/var/lib/dwn/blobs, --backend=sqlite --sqlite-db=blobs.db)")
}

// storeFlags are the flags every store-touching subcommand shares.
type storeFlags struct {
	keystore string
	name     string
	device   string
	index    string
	backend  string
}

func registerStoreFlags(fs *flag.FlagSet) *storeFlags {
	var sf storeFlags
	fs.StringVar(&sf.keystore, "keystore", "", "keystore directory")
	fs.StringVar(&sf.name, "name", "", "identity name in the keystore")
	fs.StringVar(&sf.device, "device", "", "device key to sign with (empty = root key)")
	fs.StringVar(&sf.index, "index", "", "record index path")
	fs.StringVar(&sf.backend, "backend", "localfs", "payload store backend")
	casregistry.RegisterFlags(fs, casregistry.UsageCLI)
	return &sf
}

// openAgent opens the keystore identity and the local stores.
func (sf *storeFlags) openAgent() (*agent.Agent, func(), error) {
	if sf.keystore == "" || sf.name == "" {
		return nil, nil, fmt.Errorf("--keystore and --name are required")
	}
	if sf.index == "" {
		return nil, nil, fmt.Errorf("--index is required")
	}

	ks, err := did.OpenKeystore(sf.keystore)
	if err != nil {
		return nil, nil, err
	}
	id, err := ks.Load(sf.name, sf.device)
	if err != nil {
		return nil, nil, err
	}

	cas, closeCAS, err := casregistry.Open(sf.backend, casregistry.UsageCLI, nil)
	if err != nil {
		return nil, nil, err
	}
	ix, err := index.Open(sf.index)
	if err != nil {
		if closeCAS != nil {
			_ = closeCAS()
		}
		return nil, nil, err
	}

	cleanup := func() {
		_ = ix.Close()
		if closeCAS != nil {
			_ = closeCAS()
		}
	}
	return agent.New(id, node.New(id.DID, cas, ix)), cleanup, nil
}
