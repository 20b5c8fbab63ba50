package types

// State represents the orchestrator lifecycle state.
//
// States follow a defined progression during startup:
//
//	StateInit → StateClaimingID → StateElection → StateRunning
//
// Shutdown is terminal:
//
//	StateRunning → StateShutdown
type State int

const (
	// StateInit is the initial state before Start is called.
	StateInit State = iota

	// StateClaimingID indicates the orchestrator is claiming a stable
	// replica identity.
	StateClaimingID

	// StateElection indicates the orchestrator is joining leader election.
	StateElection

	// StateRunning indicates normal operation. Periodic loops run when
	// this replica holds leadership.
	StateRunning

	// StateShutdown indicates graceful shutdown is in progress.
	StateShutdown
)

var stateNames = [...]string{
	StateInit:       "Init",
	StateClaimingID: "ClaimingID",
	StateElection:   "Election",
	StateRunning:    "Running",
	StateShutdown:   "Shutdown",
}

// String returns the string representation of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[s]
}
