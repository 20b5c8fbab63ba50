package election

import (
	"context"

	"github.com/arloliu/streamd/types"
)

// StaticLeader is an ElectionAgent that always holds leadership.
//
// Used for single-replica deployments where election is disabled: the one
// orchestrator runs every periodic loop unconditionally, with no KV
// coordination traffic.
type StaticLeader struct {
	replicaID string
}

// Compile-time assertion that StaticLeader implements ElectionAgent.
var _ types.ElectionAgent = (*StaticLeader)(nil)

// NewStaticLeader creates an agent that always reports leadership for the
// given replica ID.
func NewStaticLeader(replicaID string) *StaticLeader {
	return &StaticLeader{replicaID: replicaID}
}

// RequestLeadership always succeeds.
func (s *StaticLeader) RequestLeadership(_ context.Context, replicaID string, _ /* leaseDuration */ int64) (bool, error) {
	s.replicaID = replicaID

	return true, nil
}

// RenewLeadership always succeeds.
func (s *StaticLeader) RenewLeadership(_ context.Context) error {
	return nil
}

// ReleaseLeadership always succeeds.
func (s *StaticLeader) ReleaseLeadership(_ context.Context) error {
	return nil
}

// IsLeader always reports true.
func (s *StaticLeader) IsLeader(_ context.Context) (bool, error) {
	return true, nil
}

// ReplicaID returns the configured replica ID.
func (s *StaticLeader) ReplicaID() string {
	return s.replicaID
}
