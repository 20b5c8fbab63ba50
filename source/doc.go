// Package source provides built-in stream catalog implementations.
//
// Catalog sources enumerate the streams available for assignment. The
// orchestrator treats the catalog as read-only ground truth: it computes
// the unassigned pool from it but never creates, mutates, or deletes
// entries. The package includes:
//
//   - Static: fixed in-memory list of streams
//   - SQLite: reads the catalog from a SQLite database table
//
// Custom catalogs can be implemented by satisfying the types.StreamSource
// interface.
package source
