// Package adapter provides the database adapter contract used to run
// compiled queries against a trace database.
//
// Concrete adapter implementations live in pkg/adapters/ subdirectories
// and register themselves with this package's registry in their init()
// functions. Core types (Config, Column, Metadata, Rows) are defined in
// pkg/core and re-exported here via type aliases.
package adapter

import (
	"github.com/quarrylabs/quarry/pkg/core"
)

// Type aliases for the core types adapters operate on.
type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)

// Adapter is the interface every database adapter implements.
type Adapter = core.Adapter
