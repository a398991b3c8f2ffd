// Package main provides the quarry command-line tool.
package main

import (
	"os"

	"github.com/quarrylabs/quarry/internal/cli"

	_ "github.com/quarrylabs/quarry/pkg/adapters/duckdb"
	_ "github.com/quarrylabs/quarry/pkg/adapters/postgres"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
