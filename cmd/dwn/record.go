package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openwebnode/dwn/agent"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/nodeconfig"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

func cmdRecord(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: dwn record <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: create, read, query, update, delete, send")
		return 2
	}
	switch args[0] {
	case "create":
		return cmdRecordCreate(args[1:], out, errOut)
	case "read":
		return cmdRecordRead(args[1:], out, errOut)
	case "query":
		return cmdRecordQuery(args[1:], out, errOut)
	case "update":
		return cmdRecordUpdate(args[1:], out, errOut)
	case "delete":
		return cmdRecordDelete(args[1:], out, errOut)
	case "send":
		return cmdRecordSend(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown record subcommand: %s\n", args[0])
		return 2
	}
}

// readData resolves the --data / --data-file pair.
func readData(data, dataFile string) ([]byte, error) {
	switch {
	case data != "" && dataFile != "":
		return nil, fmt.Errorf("--data and --data-file are mutually exclusive")
	case data != "":
		return []byte(data), nil
	case dataFile != "":
		return os.ReadFile(dataFile)
	default:
		return nil, fmt.Errorf("one of --data or --data-file is required")
	}
}

func cmdRecordCreate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record create", flag.ContinueOnError)
	fs.SetOutput(errOut)
	protocolURI := fs.String("protocol", "", "protocol URI")
	path := fs.String("path", "", "protocol path")
	schema := fs.String("schema", "", "record schema URI")
	format := fs.String("format", "application/json", "data format")
	recipient := fs.String("recipient", "", "recipient DID")
	parent := fs.String("parent", "", "parent record id")
	published := fs.Bool("published", false, "mark the record published")
	data := fs.String("data", "", "inline payload")
	dataFile := fs.String("data-file", "", "payload file")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *protocolURI == "" || *path == "" {
		fmt.Fprintln(errOut, "record create: --protocol and --path are required")
		return 2
	}
	payload, err := readData(*data, *dataFile)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply, err := a.CreateRecord(context.Background(), agent.CreateOptions{
		Protocol:     *protocolURI,
		ProtocolPath: *path,
		Schema:       *schema,
		DataFormat:   *format,
		Recipient:    *recipient,
		ParentID:     *parent,
		Published:    *published,
	}, payload)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if reply.Status.Code != 202 {
		fmt.Fprintf(errOut, "create refused: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	fmt.Fprintln(out, reply.RecordID)
	return 0
}

func cmdRecordRead(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record read", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "record id")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "record read: --id is required")
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply := a.ReadRecord(context.Background(), *id)
	if reply.Status.Code != 200 {
		fmt.Fprintf(errOut, "read failed: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	_, _ = out.Write(reply.Data)
	fmt.Fprintln(out)
	return 0
}

func cmdRecordQuery(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record query", flag.ContinueOnError)
	fs.SetOutput(errOut)
	protocolURI := fs.String("protocol", "", "protocol URI")
	path := fs.String("path", "", "protocol path")
	parent := fs.String("parent", "", "parent record id")
	contextID := fs.String("context", "", "context id")
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

	reply := a.Node.RecordsQuery(context.Background(), index.Filter{
		Protocol:     *protocolURI,
		ProtocolPath: *path,
		ParentID:     *parent,
		ContextID:    *contextID,
	}, a.ID.DID)
	if reply.Status.Code != 200 {
		fmt.Fprintf(errOut, "query failed: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(reply.Entries)
	return 0
}

func cmdRecordUpdate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record update", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "record id")
	data := fs.String("data", "", "inline payload")
	dataFile := fs.String("data-file", "", "payload file")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "record update: --id is required")
		return 2
	}
	payload, err := readData(*data, *dataFile)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply, err := a.UpdateRecord(context.Background(), *id, payload)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if reply.Status.Code != 202 {
		fmt.Fprintf(errOut, "update refused: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	fmt.Fprintln(out, reply.MessageCID)
	return 0
}

func cmdRecordDelete(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record delete", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "record id")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "record delete: --id is required")
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	reply, err := a.DeleteRecord(context.Background(), *id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if reply.Status.Code != 202 {
		fmt.Fprintf(errOut, "delete refused: %d %s\n", reply.Status.Code, reply.Status.Detail)
		return 1
	}
	return 0
}

// resolveSendTarget picks the gRPC address to send to. A recipient DID is
// looked up in the node config's peer map; an explicit target is the
// fallback for unmapped DIDs.
func resolveSendTarget(configPath, recipient, target string) (string, error) {
	if recipient != "" && configPath != "" {
		cfg, err := nodeconfig.LoadFile(configPath)
		if err != nil {
			return "", err
		}
		if t, ok := cfg.Sync.Peers[recipient]; ok {
			return t, nil
		}
	}
	if target != "" {
		return target, nil
	}
	if recipient != "" {
		return "", fmt.Errorf("no peer mapping for %s and no --target given", recipient)
	}
	return "", errors.New("one of --recipient or --target is required")
}

func cmdRecordSend(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("record send", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "record id")
	recipient := fs.String("recipient", "", "recipient DID, resolved via the config's peer map")
	target := fs.String("target", "", "remote node gRPC target")
	configPath := fs.String("config", "", "node config file holding the peer map")
	sf := registerStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(errOut, "record send: --id is required")
		return 2
	}
	addr, err := resolveSendTarget(*configPath, *recipient, *target)
	if err != nil {
		fmt.Fprintln(errOut, "record send:", err)
		return 2
	}

	a, cleanup, err := sf.openAgent()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	peer, err := grpcnode.Dial(addr, grpcnode.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer peer.Close()

	code, err := a.Send(context.Background(), peer, *id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if code != 202 {
		fmt.Fprintf(errOut, "remote refused: %d\n", code)
		return 1
	}
	fmt.Fprintln(out, "accepted")
	return 0
}
