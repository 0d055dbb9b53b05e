// Package main is the entry point for the trac2gitlab CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/danielolaszy/trac2gitlab/cmd"
	"github.com/danielolaszy/trac2gitlab/internal/logging"
)

var version = "dev"

// main executes the root command and exits non-zero if it fails.
func main() {
	logging.Debug("starting trac2gitlab", "version", version)

	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
