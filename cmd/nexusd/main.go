// Command nexusd indexes homeserver events and serves cached views.
package main

import (
	"fmt"
	"os"

	"github.com/gillohner/pubky-nexus/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
