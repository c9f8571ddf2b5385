package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/openwebnode/dwn/protocol"
)

func cmdProtocol(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: dwn protocol <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: install, show, list")
		return 2
	}
	switch args[0] {
	case "install":
		return cmdProtocolInstall(args[1:], out, errOut)
	case "show":
		return cmdProtocolShow(args[1:], out, errOut)
	case "list":
		return cmdProtocolList(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown protocol subcommand: %s\n", args[0])
		return 2
	}
}

func cmdProtocolInstall(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("protocol install", flag.ContinueOnError)
	fs.SetOutput(errOut)
	file := fs.String("file", "", "protocol definition file")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(errOut, "protocol install: --file is required")
		return 2
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	def, err := protocol.Parse(raw)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply, err := a.ConfigureProtocol(context.Background(), def)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if reply.Status.Code != 202 {
		fmt.Fprintf(errOut, "install refused: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	fmt.Fprintln(out, reply.DefinitionCID)
	return 0
}

func cmdProtocolShow(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("protocol show", flag.ContinueOnError)
	fs.SetOutput(errOut)
	uri := fs.String("uri", "", "protocol URI")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *uri == "" {
		fmt.Fprintln(errOut, "protocol show: --uri is required")
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply := a.Node.ProtocolsQuery(context.Background(), *uri)
	if reply.Status.Code != 200 {
		fmt.Fprintf(errOut, "query failed: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(reply.Definition)
	return 0
}

func cmdProtocolList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("protocol list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	uris, err := a.Node.Index().ListProtocols(context.Background())
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, uri := range uris {
		fmt.Fprintln(out, uri)
	}
	return 0
}
