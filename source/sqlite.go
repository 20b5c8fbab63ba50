package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/arloliu/streamd/types"
)

// sqliteIdentifier restricts table names to plain identifiers since table
// names cannot be bound as query parameters.
var sqliteIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteConfig configures the SQLite stream catalog.
type SQLiteConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// Table is the catalog table name. Defaults to "streams". The table
	// must have id, name, and url columns.
	Table string `yaml:"table"`

	// OnlyEnabled filters the catalog to rows where the enabled column is
	// non-zero. Leave false for tables without an enabled column.
	OnlyEnabled bool `yaml:"onlyEnabled"`
}

// SetDefaults fills in default values for zero fields.
func (c *SQLiteConfig) SetDefaults() {
	if c.Table == "" {
		c.Table = "streams"
	}
}

// SQLite reads the stream catalog from a SQLite database table.
//
// The source is read-only: it only ever issues SELECT statements. Rows are
// ordered by id so the catalog ordering, and therefore grant candidate
// ordering, is stable across calls.
type SQLite struct {
	db    *sql.DB
	query string
}

var _ types.StreamSource = (*SQLite)(nil)

// NewSQLite opens a SQLite-backed stream catalog.
//
// Parameters:
//   - cfg: Catalog configuration; zero fields take defaults
//
// Returns:
//   - *SQLite: Initialized catalog, caller must Close it
//   - error: Invalid configuration or database open failure
//
// Example:
//
//	src, err := source.NewSQLite(source.SQLiteConfig{Path: "catalog.db"})
//	if err != nil { /* handle */ }
//	defer src.Close()
//	orch, err := streamd.NewOrchestrator(&cfg, nc, src)
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	cfg.SetDefaults()

	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlite catalog path is required", types.ErrInvalidConfig)
	}
	if !sqliteIdentifier.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid sqlite catalog table %q", types.ErrInvalidConfig, cfg.Table)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite catalog %s: %w", cfg.Path, err)
	}

	query := fmt.Sprintf("SELECT id, name, url FROM %s", cfg.Table)
	if cfg.OnlyEnabled {
		query += " WHERE enabled != 0"
	}
	query += " ORDER BY id"

	return &SQLite{
		db:    db,
		query: query,
	}, nil
}

// ListStreams returns all catalog rows, ordered by id.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - []types.Stream: All catalog entries
//   - error: Query or scan failure
func (s *SQLite) ListStreams(ctx context.Context) ([]types.Stream, error) {
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sqlite catalog: %w", err)
	}
	defer rows.Close()

	var streams []types.Stream
	for rows.Next() {
		var stream types.Stream
		if err := rows.Scan(&stream.ID, &stream.Name, &stream.URL); err != nil {
			return nil, fmt.Errorf("failed to scan sqlite catalog row: %w", err)
		}

		streams = append(streams, stream)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sqlite catalog: %w", err)
	}

	return streams, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
