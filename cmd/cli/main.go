// Package main is the entry point for the clusterplane CLI.
// The CLI is the developer terminal tool for interacting with the
// clusterplane API.
package main

import (
	"clusterplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
