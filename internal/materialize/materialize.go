// Package materialize caches a pipeline node's compiled output as a
// named table and disposes those tables safely when nodes are removed
// from the graph.
package materialize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quarrylabs/quarry/pkg/pipeline"
	"github.com/quarrylabs/quarry/pkg/sq"
)

// Service is the materialization contract consumed by the pipeline
// core. Implementations must serialize concurrent drops of the same
// cache key.
type Service interface {
	// Materialize persists the node's compiled output as a table.
	Materialize(ctx context.Context, node pipeline.Node) error

	// IsMaterialized reports whether the node's output is cached.
	IsMaterialized(node pipeline.Node) bool

	// MaterializedTableName returns the cached table's name, if any.
	MaterializedTableName(node pipeline.Node) (string, bool)

	// DropMaterialization removes the node's cached table.
	DropMaterialization(ctx context.Context, node pipeline.Node) error

	// DropAll removes every cached table.
	DropAll(ctx context.Context) error
}

// Executor is the subset of the engine the service needs.
type Executor interface {
	Exec(ctx context.Context, sql string) error
}

// TableName derives the cache table name for a compiled query. The name
// is a content hash of the canonical query tree: stable across repeated
// calls for an unchanged subgraph, different whenever the compiled query
// changes.
func TableName(q *sq.Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("hash query: %w", err)
	}
	sum := sha256.Sum256(data)
	return "mat_" + hex.EncodeToString(sum[:])[:12], nil
}

// SQLService materializes node outputs as CREATE TABLE ... AS SELECT
// against an executor.
type SQLService struct {
	mu     sync.Mutex
	exec   Executor
	logger *slog.Logger
	tables map[string]string // node id -> table name
}

// NewSQLService creates a materialization service over the executor.
// If logger is nil, a discard logger is used.
func NewSQLService(exec Executor, logger *slog.Logger) *SQLService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLService{
		exec:   exec,
		logger: logger,
		tables: make(map[string]string),
	}
}

// Materialize compiles the node and persists its output.
func (s *SQLService) Materialize(ctx context.Context, node pipeline.Node) error {
	q := node.StructuredQuery()
	if q == nil {
		return fmt.Errorf("node %q did not compile: %v", node.Title(), node.Issues().FirstError())
	}
	gen, err := sq.Generate(q)
	if err != nil {
		return fmt.Errorf("generate SQL for %q: %w", node.Title(), err)
	}
	name, err := TableName(q)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tables[node.ID()]; ok && existing == name {
		return nil
	}

	for _, pre := range gen.Preambles {
		if err := s.exec.Exec(ctx, pre); err != nil {
			return fmt.Errorf("run preamble: %w", err)
		}
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", name, gen.SQL)
	if err := s.exec.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("materialize %q: %w", node.Title(), err)
	}

	// A stale table under the old hash is dropped best-effort.
	if old, ok := s.tables[node.ID()]; ok && old != name {
		if err := s.exec.Exec(ctx, "DROP TABLE IF EXISTS "+old); err != nil {
			s.logger.Warn("failed to drop stale materialization",
				slog.String("table", old), slog.Any("error", err))
		}
	}

	s.tables[node.ID()] = name
	s.logger.Debug("materialized node output",
		slog.String("node", node.ID()), slog.String("table", name))
	return nil
}

// IsMaterialized reports whether the node's output is cached.
func (s *SQLService) IsMaterialized(node pipeline.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[node.ID()]
	return ok
}

// MaterializedTableName returns the cached table's name, if any.
func (s *SQLService) MaterializedTableName(node pipeline.Node) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.tables[node.ID()]
	return name, ok
}

// DropMaterialization removes the node's cached table. Concurrent drops
// of the same key are serialized by the service's lock.
func (s *SQLService) DropMaterialization(ctx context.Context, node pipeline.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.tables[node.ID()]
	if !ok {
		return nil
	}
	if err := s.exec.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop materialization %s: %w", name, err)
	}
	delete(s.tables, node.ID())
	return nil
}

// DropAll removes every cached table, keeping going past failures and
// returning the first error encountered.
func (s *SQLService) DropAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, name := range s.tables {
		if err := s.exec.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(s.tables, id)
	}
	return firstErr
}

var _ Service = (*SQLService)(nil)
