// Package main is the entry point for the egov CLI.
package main

import "github.com/digitalsociety/egov-cli/internal/cli"

func main() {
	cli.Execute()
}
