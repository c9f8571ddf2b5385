// Command protogen prints the canonical bytes and CID of the embedded
// shared-todo protocol definition. Useful when pinning the definition CID in
// docs or fixtures.
package main

import (
	"fmt"
	"os"

	"github.com/openwebnode/dwn/todo"
)

func main() {
	def, err := todo.Definition()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	canonical, err := def.Canonical()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	id, err := def.CID()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(id)
	os.Stdout.Write(canonical)
	fmt.Println()
}
