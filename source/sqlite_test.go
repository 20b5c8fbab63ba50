package source

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/types"
)

func newCatalogDB(t *testing.T, schema string, inserts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, stmt := range inserts {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	return path
}

func TestSQLite_ListStreams(t *testing.T) {
	path := newCatalogDB(t,
		`CREATE TABLE streams (id TEXT PRIMARY KEY, name TEXT, url TEXT, enabled INTEGER DEFAULT 1)`,
		`INSERT INTO streams VALUES ('stream-002', 'south-feed', 'rtsp://cam-south/live', 1)`,
		`INSERT INTO streams VALUES ('stream-001', 'north-feed', 'rtsp://cam-north/live', 1)`,
		`INSERT INTO streams VALUES ('stream-003', 'east-feed', 'rtsp://cam-east/live', 0)`,
	)

	t.Run("returns rows ordered by id", func(t *testing.T) {
		src, err := NewSQLite(SQLiteConfig{Path: path})
		require.NoError(t, err)
		defer src.Close()

		streams, err := src.ListStreams(t.Context())
		require.NoError(t, err)
		require.Equal(t, []types.Stream{
			{ID: "stream-001", Name: "north-feed", URL: "rtsp://cam-north/live"},
			{ID: "stream-002", Name: "south-feed", URL: "rtsp://cam-south/live"},
			{ID: "stream-003", Name: "east-feed", URL: "rtsp://cam-east/live"},
		}, streams)
	})

	t.Run("only enabled filters disabled rows", func(t *testing.T) {
		src, err := NewSQLite(SQLiteConfig{Path: path, OnlyEnabled: true})
		require.NoError(t, err)
		defer src.Close()

		streams, err := src.ListStreams(t.Context())
		require.NoError(t, err)
		require.Len(t, streams, 2)
		for _, stream := range streams {
			require.NotEqual(t, "stream-003", stream.ID)
		}
	})
}

func TestSQLite_CustomTable(t *testing.T) {
	path := newCatalogDB(t,
		`CREATE TABLE feeds (id TEXT PRIMARY KEY, name TEXT, url TEXT)`,
		`INSERT INTO feeds VALUES ('stream-001', 'north-feed', 'rtsp://cam-north/live')`,
	)

	src, err := NewSQLite(SQLiteConfig{Path: path, Table: "feeds"})
	require.NoError(t, err)
	defer src.Close()

	streams, err := src.ListStreams(t.Context())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, "north-feed", streams[0].Name)
}

func TestSQLite_InvalidConfig(t *testing.T) {
	_, err := NewSQLite(SQLiteConfig{})
	require.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = NewSQLite(SQLiteConfig{Path: "catalog.db", Table: "streams; DROP TABLE streams"})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestSQLite_MissingTable(t *testing.T) {
	path := newCatalogDB(t, `CREATE TABLE other (id TEXT)`)

	src, err := NewSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ListStreams(t.Context())
	require.Error(t, err)
}
