package source

import (
	"context"
	"sync"

	"github.com/arloliu/streamd/types"
)

// Static implements a stream catalog with a fixed list of streams.
type Static struct {
	mu      sync.RWMutex
	streams []types.Stream
}

var _ types.StreamSource = (*Static)(nil)

// NewStatic creates a new static stream catalog.
//
// The catalog returns a fixed list of streams that never changes unless
// Update is called. Useful for testing and fleets where the stream set is
// known at startup.
//
// Parameters:
//   - streams: Fixed list of streams
//
// Returns:
//   - *Static: Initialized static catalog
//
// Example:
//
//	streams := []types.Stream{
//	    {ID: "stream-001", Name: "north-feed", URL: "rtsp://cam-north/live"},
//	    {ID: "stream-002", Name: "south-feed", URL: "rtsp://cam-south/live"},
//	}
//	src := source.NewStatic(streams)
//	orch, err := streamd.NewOrchestrator(&cfg, nc, src)
//	if err != nil { /* handle */ }
func NewStatic(streams []types.Stream) *Static {
	return &Static{
		streams: streams,
	}
}

// ListStreams returns the static list of streams.
//
// Returns:
//   - []types.Stream: The fixed list of streams
//   - error: Always nil (never fails)
func (s *Static) ListStreams(_ context.Context) ([]types.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Stream, len(s.streams))
	copy(result, s.streams)

	return result, nil
}

// Update replaces the stream list.
//
// This allows the static catalog to simulate catalog growth or shrinkage,
// which is useful for testing pool-refresh scenarios.
//
// Parameters:
//   - streams: New list of streams
//
// Example:
//
//	src := source.NewStatic(initialStreams)
//	// Later: the operator adds more feeds
//	src.Update(expandedStreams)
func (s *Static) Update(streams []types.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams = make([]types.Stream, len(streams))
	copy(s.streams, streams)
}
