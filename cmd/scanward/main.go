// Command scanward is the entry point for the scanward daemon and its
// management CLI.
package main

import (
	"github.com/openfathom/scanward/cmd/cli"
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
