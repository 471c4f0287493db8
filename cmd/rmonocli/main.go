// Package main is the entrypoint for rmonocli.
package main

import "github.com/tutu-network/rmono/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
