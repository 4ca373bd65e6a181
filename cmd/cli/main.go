// Package main is the entry point for the flexplan CLI.
package main

import (
	"fmt"
	"os"

	"flexplan/cmd/cli/cmd"
	"flexplan/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(errors.ExitCode(err))
	}
}
