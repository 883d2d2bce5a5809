// Package main is the entry point for the paracycle demo CLI.
package main

import (
	"fmt"
	"os"

	"github.com/zjrosen/paracycle/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SetVersion(versionString)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
