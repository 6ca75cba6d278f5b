// Package main provides the entry point for the msrlctl CLI.
package main

import (
	"os"

	"github.com/ostanlabs/msrl/cmd/msrlctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
