package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/openwebnode/dwn/did"
)

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: dwn key <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: init, derive, list, export")
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keystore", "", "keystore directory")
	name := fs.String("name", "", "identity name")
	alg := fs.String("alg", did.AlgEd25519, "signing algorithm (ed25519 or dilithium3)")
	seedHex := fs.String("seed-hex", "", "32-byte seed as 64 hex chars (omit to generate)")
	force := fs.Bool("force", false, "overwrite an existing key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" || *name == "" {
		fmt.Fprintln(errOut, "key init: --keystore and --name are required")
		return 2
	}

	ks, err := did.OpenKeystore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	var seed []byte
	if *seedHex != "" {
		if seed, err = did.ParseSeedHex(*seedHex); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	} else {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}

	id, err := ks.Initialize(*name, *alg, seed, *force)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id.DID)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keystore", "", "keystore directory")
	name := fs.String("name", "", "identity name")
	device := fs.String("device", "", "device name")
	force := fs.Bool("force", false, "overwrite an existing device key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" || *name == "" || *device == "" {
		fmt.Fprintln(errOut, "key derive: --keystore, --name and --device are required")
		return 2
	}

	ks, err := did.OpenKeystore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	id, err := ks.DeriveDevice(*name, *device, *force)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id.DID)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keystore", "", "keystore directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		fmt.Fprintln(errOut, "key list: --keystore is required")
		return 2
	}

	ks, err := did.OpenKeystore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	entries, err := ks.List()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, e := range entries {
		devices := ""
		if len(e.Devices) > 0 {
			devices = "\tdevices: " + strings.Join(e.Devices, ",")
		}
		fmt.Fprintf(out, "%s\t%s\t%s%s\n", e.Name, e.Alg, e.DID, devices)
	}
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("keystore", "", "keystore directory")
	name := fs.String("name", "", "identity name")
	device := fs.String("device", "", "device name (empty = root key)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dir == "" || *name == "" {
		fmt.Fprintln(errOut, "key export: --keystore and --name are required")
		return 2
	}

	ks, err := did.OpenKeystore(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	id, err := ks.Load(*name, *device)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id.DID)
	return 0
}
