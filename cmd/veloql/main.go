// Command veloql serves a GraphQL API generated from a declarative model
// configuration.
package main

import (
	"fmt"
	"os"

	"github.com/syssam/veloql/cmd/veloql/internal/command"
)

func main() {
	if err := command.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
