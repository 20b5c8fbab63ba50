package types

import "context"

// Stream represents one unit of assignable work from the external catalog.
//
// Streams are identified by a stable ID and carry descriptive metadata.
// The orchestrator only reads streams from the catalog; it never creates,
// mutates, or deletes them.
type Stream struct {
	// ID uniquely identifies the stream across the whole system.
	ID string `json:"id"`

	// Name is a human-readable label (e.g. a station or channel name).
	Name string `json:"name"`

	// URL is the media location handed to the relay instance.
	URL string `json:"url"`
}

// StreamSource provides the catalog of known streams.
//
// The orchestrator enumerates stream IDs from the source to compute the
// unassigned pool. Implementations must be safe for concurrent use and
// should return a stable ordering so grant decisions stay deterministic.
type StreamSource interface {
	// ListStreams returns all known streams.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - []Stream: All catalog entries
	//   - error: Catalog access error, if any
	ListStreams(ctx context.Context) ([]Stream, error)
}
