// Package state persists serialized pipeline graphs in a local SQLite
// database.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// ErrNotFound is returned when a named graph does not exist.
var ErrNotFound = errors.New("graph not found")

// GraphInfo describes one stored graph.
type GraphInfo struct {
	Name      string
	NodeCount int
	UpdatedAt time.Time
}

// Store persists graphs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at the given path and runs pending
// migrations. Use ":memory:" for an in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveGraph stores a serialized graph document under a name, replacing
// any previous version.
func (s *Store) SaveGraph(name string, document []byte, nodeCount int) error {
	if name == "" {
		return fmt.Errorf("graph name must not be empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO graphs (name, document, node_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			document = excluded.document,
			node_count = excluded.node_count,
			updated_at = excluded.updated_at
	`, name, document, nodeCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save graph %q: %w", name, err)
	}
	return nil
}

// LoadGraph retrieves a stored graph document by name.
func (s *Store) LoadGraph(name string) ([]byte, error) {
	var document []byte
	err := s.db.QueryRow(`SELECT document FROM graphs WHERE name = ?`, name).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load graph %q: %w", name, err)
	}
	return document, nil
}

// ListGraphs returns info about every stored graph, most recent first.
func (s *Store) ListGraphs() ([]GraphInfo, error) {
	rows, err := s.db.Query(`
		SELECT name, node_count, updated_at
		FROM graphs
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []GraphInfo
	for rows.Next() {
		var info GraphInfo
		if err := rows.Scan(&info.Name, &info.NodeCount, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan graph info: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graphs: %w", err)
	}
	return out, nil
}

// DeleteGraph removes a stored graph by name.
func (s *Store) DeleteGraph(name string) error {
	res, err := s.db.Exec(`DELETE FROM graphs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete graph %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
