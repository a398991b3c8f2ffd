// Package engine executes compiled structured queries against a trace
// database through a registered adapter. It owns the adapter connection
// and translates database column types into the pipeline's type kinds.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quarrylabs/quarry/pkg/adapter"
	"github.com/quarrylabs/quarry/pkg/columns"
	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Config holds engine configuration.
type Config struct {
	Adapter core.AdapterConfig
	Logger  *slog.Logger
}

// Engine runs structured queries and raw SQL against one database.
type Engine struct {
	adapter adapter.Adapter
	logger  *slog.Logger
}

// New creates an engine and connects its adapter.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	a, err := adapter.NewAdapter(cfg.Adapter, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg.Adapter); err != nil {
		return nil, fmt.Errorf("connect %s adapter: %w", cfg.Adapter.Type, err)
	}

	return &Engine{adapter: a, logger: logger}, nil
}

// Close releases the adapter connection.
func (e *Engine) Close() error {
	return e.adapter.Close()
}

// Adapter exposes the underlying adapter, used by callers that load
// data or inspect metadata directly.
func (e *Engine) Adapter() adapter.Adapter {
	return e.adapter
}

// Execute generates SQL for a compiled structured query and runs it.
// Preamble statements run first through Exec; the query itself runs
// last and its rows are returned.
func (e *Engine) Execute(ctx context.Context, q *sq.Query) (*core.Rows, error) {
	if q == nil {
		return nil, fmt.Errorf("nothing to execute: the query did not compile")
	}
	gen, err := sq.Generate(q)
	if err != nil {
		return nil, fmt.Errorf("generate SQL: %w", err)
	}

	if len(gen.Modules) > 0 {
		e.logger.Debug("query references modules", slog.Any("modules", gen.Modules))
	}
	for _, pre := range gen.Preambles {
		if err := e.adapter.Exec(ctx, pre); err != nil {
			return nil, fmt.Errorf("run preamble: %w", err)
		}
	}

	e.logger.Debug("executing structured query", slog.String("root", q.ID))
	return e.adapter.Query(ctx, gen.SQL)
}

// GenerateSQL renders a compiled structured query into its executable
// script without running it.
func (e *Engine) GenerateSQL(q *sq.Query) (string, error) {
	if q == nil {
		return "", fmt.Errorf("nothing to generate: the query did not compile")
	}
	gen, err := sq.Generate(q)
	if err != nil {
		return "", err
	}
	return gen.Script(), nil
}

// Query runs raw SQL directly. Used by raw-SQL source tooling to probe
// a statement's result schema, never by the compiler.
func (e *Engine) Query(ctx context.Context, rawSQL string) (*core.Rows, error) {
	return e.adapter.Query(ctx, rawSQL)
}

// Exec runs a statement that returns no rows.
func (e *Engine) Exec(ctx context.Context, rawSQL string) error {
	return e.adapter.Exec(ctx, rawSQL)
}

// TableColumns loads a table's schema and maps it into pipeline columns.
func (e *Engine) TableColumns(ctx context.Context, table string) ([]columns.Column, error) {
	meta, err := e.adapter.GetTableMetadata(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("load metadata for %s: %w", table, err)
	}
	out := make([]columns.Column, 0, len(meta.Columns))
	for _, c := range meta.Columns {
		out = append(out, columns.New(c.Name, KindForDBType(c.Name, c.Type)))
	}
	return out, nil
}
