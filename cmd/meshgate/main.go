// Package main is the entry point for the meshgate CLI.
package main

import (
	"os"

	"github.com/MeshGate/MeshGate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
