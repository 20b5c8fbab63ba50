package types

import "time"

// IssueType classifies one assignment-ledger discrepancy.
type IssueType string

const (
	// IssueOrphaned means an active assignment references a missing or
	// inactive instance.
	IssueOrphaned IssueType = "orphaned"

	// IssueDuplicate means more than one active assignment exists for the
	// same stream.
	IssueDuplicate IssueType = "duplicate"

	// IssueMismatched means an instance's ledger-derived count disagrees
	// with its recorded CurrentStreams.
	IssueMismatched IssueType = "mismatched"

	// IssueStale means the assigned instance is active but its heartbeat
	// has aged past the warning threshold. Watch-only; no recovery action.
	IssueStale IssueType = "stale"
)

// IssueSeverity grades how urgent an issue is.
type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "low"
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// StreamIssue is one discrepancy found by a consistency pass.
type StreamIssue struct {
	StreamID string        `json:"stream_id"`
	Type     IssueType     `json:"issue_type"`
	Severity IssueSeverity `json:"severity"`

	// ServerIDs lists the conflicting assignment views observed. For a
	// duplicate this is every instance holding an active row; for the
	// other types it is the single instance involved.
	ServerIDs []string `json:"server_ids,omitempty"`

	Detail string `json:"detail"`
}

// ConsistencyReport is the output of one reconciliation pass.
//
// Reports are ephemeral: they drive recovery actions and operator
// visibility but are never persisted as authoritative state. Running two
// passes against unchanged state yields identical reports.
type ConsistencyReport struct {
	// Score is 1 minus the weighted issue count over total checked
	// assignments, in [0,1]. Orphaned and duplicate issues weigh more
	// than mismatched ones.
	Score float64 `json:"consistency_score"`

	Issues         []StreamIssue `json:"stream_issues"`
	CriticalIssues int           `json:"critical_issues"`

	Recommendations []string `json:"recommendations,omitempty"`

	// Healthy is derived: Score at or above the configured threshold and
	// no critical issues.
	Healthy bool `json:"is_healthy"`

	CheckedAssignments int       `json:"checked_assignments"`
	GeneratedAt        time.Time `json:"generated_at"`

	// Degraded names report sections that could not be collected this
	// pass. The report is still returned best-effort.
	Degraded []string `json:"degraded,omitempty"`
}

// RecoveryAction is the corrective step taken for one issue.
type RecoveryAction string

const (
	// RecoveryReassigned means an orphaned stream was granted to a
	// healthy instance.
	RecoveryReassigned RecoveryAction = "reassigned"

	// RecoveryReleased means the stream was returned to the unassigned
	// pool.
	RecoveryReleased RecoveryAction = "released"

	// RecoveryResynced means an instance counter was rewritten from the
	// ledger.
	RecoveryResynced RecoveryAction = "resynced"

	// RecoveryNone means no action was applicable.
	RecoveryNone RecoveryAction = "none"
)

// RecoveryResult records the outcome of one recovery action.
type RecoveryResult struct {
	StreamID string         `json:"stream_id,omitempty"`
	ServerID string         `json:"server_id,omitempty"`
	Action   RecoveryAction `json:"action_taken"`
	Success  bool           `json:"success"`
	Details  string         `json:"details"`
}
