// Package main wires together the web archival service binary.
package main

import (
	"fmt"
	"os"

	"github.com/arechgie/webarchive/internal/cli"
)

// Version information set by build flags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, BuildTime)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
