// Package consistency implements the consistency checker: ledger
// verification, auto-recovery of divergent state, and instance counter
// resynchronization.
//
// The checker is the asynchronous half of the orchestrator's error
// handling. Grants and releases tolerate transient divergence (a counter
// write lost after a claim, a row owned by a dead instance); the periodic
// verification pass finds the divergence, grades it, and repairs what it
// safely can. Consistency violations never surface as request-time errors.
package consistency

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/streamd/internal/hooks"
	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// Issue weights for the consistency score. Orphaned and duplicate rows
// are ownership violations and weigh full; mismatched counters and stale
// heartbeats are softer signals.
const (
	weightOrphaned   = 1.0
	weightDuplicate  = 1.0
	weightMismatched = 0.5
	weightStale      = 0.25
)

// Config controls the consistency checker.
type Config struct {
	// CheckInterval is how often the periodic verification pass runs.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// HealthyScore is the minimum consistency score for a report to be
	// considered healthy.
	HealthyScore float64 `yaml:"healthyScore"`

	// WarningThreshold is the heartbeat age past which an active
	// instance's assignments are flagged stale. Should match the
	// heartbeat monitor's warning threshold.
	WarningThreshold time.Duration `yaml:"warningThreshold"`

	// DisableAutoRecover turns the periodic pass into report-only mode.
	// Manual checks choose recovery per call either way.
	DisableAutoRecover bool `yaml:"disableAutoRecover"`
}

// SetDefaults fills zero fields with production defaults.
func (c *Config) SetDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 120 * time.Second
	}
	if c.HealthyScore <= 0 {
		c.HealthyScore = 0.90
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = 90 * time.Second
	}
}

// StreamAssigner is the slice of the assignment engine orphan recovery
// delegates regrants to.
type StreamAssigner interface {
	AssignSpecific(ctx context.Context, serverID, streamID string) error
}

// Checker verifies the assignment ledger against the instance registry and
// repairs divergence.
//
// Verification is read-only and best-effort: a failed sub-scan annotates
// the report's Degraded list instead of failing the pass. Recovery acts
// per issue and never retries within a pass; a failed action is logged and
// surfaced in the next report's recommendations.
type Checker struct {
	cfg      Config
	store    *store.Store
	assigner StreamAssigner
	hooks    *hooks.Runner
	logger   types.Logger
	metrics  types.MetricsCollector
	now      func() time.Time

	failMu       sync.Mutex
	pastFailures []string

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewChecker creates a consistency checker.
//
// Parameters:
//   - cfg: Checker configuration; zero fields take defaults
//   - st: Storage access layer
//   - assigner: Assignment engine slice used for orphan regrants
//   - hookRunner: Lifecycle callback runner, may be nil
//   - logger: Logger for pass and recovery events, nil for none
//   - collector: Metrics collector, nil for none
//
// Returns:
//   - *Checker: New checker instance
func NewChecker(
	cfg Config,
	st *store.Store,
	assigner StreamAssigner,
	hookRunner *hooks.Runner,
	logger types.Logger,
	collector types.MetricsCollector,
) *Checker {
	cfg.SetDefaults()

	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	if hookRunner == nil {
		hookRunner = hooks.NewRunner(types.Hooks{}, logger)
	}

	return &Checker{
		cfg:      cfg,
		store:    st,
		assigner: assigner,
		hooks:    hookRunner,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic verification loop.
//
// Returns:
//   - error: types.ErrCheckerAlreadyStarted or
//     types.ErrCheckerAlreadyStopped
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return types.ErrCheckerAlreadyStopped
	}
	if c.started {
		return types.ErrCheckerAlreadyStarted
	}
	c.started = true

	go c.run(ctx)

	c.logger.Info("consistency checker started",
		"check_interval", c.cfg.CheckInterval,
		"auto_recover", !c.cfg.DisableAutoRecover)

	return nil
}

// Stop terminates the verification loop and waits for it to finish.
//
// Stop is idempotent. A stopped checker cannot be restarted.
//
// Returns:
//   - error: types.ErrCheckerNotStarted if Start was never called
func (c *Checker) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()

		return types.ErrCheckerNotStarted
	}
	if c.stopped {
		c.mu.Unlock()

		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	<-c.doneCh

	c.logger.Info("consistency checker stopped")

	return nil
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RunOnce(ctx, !c.cfg.DisableAutoRecover)
		}
	}
}

// RunOnce performs one full consistency pass: verify, publish the report
// to metrics and hooks, then auto-recover when requested and needed.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - autoRecover: Whether to act on the found issues
//
// Returns:
//   - *types.ConsistencyReport: The verification report
//   - []types.RecoveryResult: Recovery outcomes, nil when nothing ran
func (c *Checker) RunOnce(ctx context.Context, autoRecover bool) (*types.ConsistencyReport, []types.RecoveryResult) {
	report := c.Verify(ctx)

	c.hooks.ConsistencyReport(ctx, *report)

	if !report.Healthy {
		c.logger.Warn("consistency pass found issues",
			"score", report.Score,
			"issues", len(report.Issues),
			"critical", report.CriticalIssues)
	}

	var results []types.RecoveryResult
	if autoRecover && len(report.Issues) > 0 {
		results = c.AutoRecover(ctx, report)
	}

	return report, results
}

// Verify runs one read-only verification pass over the assignment ledger.
//
// Every active ledger row is checked against the instance registry:
// orphaned (owner missing or inactive), duplicate (multiple active claims
// for one stream), mismatched (ledger-derived count disagrees with the
// instance's counter), stale (owner active but heartbeat past the warning
// threshold). Identical cluster state yields an identical report apart
// from GeneratedAt.
//
// Verification never fails: a sub-scan error is logged, named in the
// report's Degraded list, and its checks are skipped for the pass.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - *types.ConsistencyReport: Best-effort report, never nil
func (c *Checker) Verify(ctx context.Context) *types.ConsistencyReport {
	report := &types.ConsistencyReport{GeneratedAt: c.now()}

	instances, instErr := c.store.ListInstances(ctx)
	if instErr != nil {
		c.logger.Error("instance scan failed", "error", instErr)
		report.Degraded = append(report.Degraded, "instances")
	}

	assignments, asgnErr := c.store.ListAssignments(ctx)
	if asgnErr != nil {
		c.logger.Error("assignment scan failed", "error", asgnErr)
		report.Degraded = append(report.Degraded, "assignments")
	}

	var active []types.StreamAssignment
	for _, asgn := range assignments {
		if asgn.Active() {
			active = append(active, asgn)
		}
	}
	report.CheckedAssignments = len(active)

	byServer := make(map[string]*types.Instance, len(instances))
	spareCapacity := false
	for i := range instances {
		byServer[instances[i].ServerID] = &instances[i]
		if instances[i].Status == types.InstanceActive && instances[i].CurrentStreams < instances[i].MaxStreams {
			spareCapacity = true
		}
	}

	var issues []types.StreamIssue
	if asgnErr == nil {
		if instErr == nil {
			issues = append(issues, c.orphanIssues(byServer, active, spareCapacity)...)
		}
		issues = append(issues, c.duplicateIssues(active)...)
		if instErr == nil {
			issues = append(issues, c.mismatchIssues(instances, active)...)
			issues = append(issues, c.staleIssues(byServer, active)...)
		}
	}
	report.Issues = issues

	counts := map[types.IssueType]int{}
	weighted := 0.0
	for i := range issues {
		counts[issues[i].Type]++
		weighted += issueWeight(issues[i].Type)
		if issues[i].Severity == types.SeverityHigh {
			report.CriticalIssues++
		}
	}

	denom := report.CheckedAssignments
	if denom < 1 {
		denom = 1
	}
	report.Score = clamp(1-weighted/float64(denom), 0, 1)
	report.Healthy = report.Score >= c.cfg.HealthyScore && report.CriticalIssues == 0
	report.Recommendations = c.buildRecommendations(counts)

	c.metrics.RecordConsistencyScore(report.Score)
	for _, issueType := range []types.IssueType{
		types.IssueOrphaned, types.IssueDuplicate, types.IssueMismatched, types.IssueStale,
	} {
		c.metrics.RecordConsistencyIssues(issueType, counts[issueType])
	}

	return report
}

// orphanIssues flags active rows whose owner is missing or inactive.
//
// Severity is high when no active instance has spare capacity, because the
// stream then has no recovery path beyond sitting in the pool.
func (c *Checker) orphanIssues(byServer map[string]*types.Instance, active []types.StreamAssignment, spareCapacity bool) []types.StreamIssue {
	severity := types.SeverityMedium
	if !spareCapacity {
		severity = types.SeverityHigh
	}

	var issues []types.StreamIssue
	for i := range active {
		owner, ok := byServer[active[i].ServerID]
		if ok && owner.Status == types.InstanceActive {
			continue
		}

		detail := "assigned to unregistered instance"
		if ok {
			detail = "assigned to " + string(owner.Status) + " instance"
		}

		issues = append(issues, types.StreamIssue{
			StreamID:  active[i].StreamID,
			Type:      types.IssueOrphaned,
			Severity:  severity,
			ServerIDs: []string{active[i].ServerID},
			Detail:    detail,
		})
	}

	return issues
}

// duplicateIssues flags streams with more than one active claim.
//
// Claims are grouped by their decoded stream ID, so a claim written under
// a wrong bucket key is still counted against its stream. Severity is high
// when distinct instances hold the claims, since both may be serving the
// stream.
func (c *Checker) duplicateIssues(active []types.StreamAssignment) []types.StreamIssue {
	owners := map[string][]string{}
	order := []string{}
	for i := range active {
		streamID := active[i].StreamID
		if _, seen := owners[streamID]; !seen {
			order = append(order, streamID)
		}
		owners[streamID] = append(owners[streamID], active[i].ServerID)
	}

	var issues []types.StreamIssue
	for _, streamID := range order {
		holders := owners[streamID]
		if len(holders) < 2 {
			continue
		}

		distinct := map[string]struct{}{}
		for _, h := range holders {
			distinct[h] = struct{}{}
		}

		severity := types.SeverityMedium
		if len(distinct) > 1 {
			severity = types.SeverityHigh
		}

		sort.Strings(holders)
		issues = append(issues, types.StreamIssue{
			StreamID:  streamID,
			Type:      types.IssueDuplicate,
			Severity:  severity,
			ServerIDs: holders,
			Detail:    fmt.Sprintf("%d active claims", len(holders)),
		})
	}

	return issues
}

// mismatchIssues flags active instances whose recorded stream counter
// disagrees with their ledger-derived count.
func (c *Checker) mismatchIssues(instances []types.Instance, active []types.StreamAssignment) []types.StreamIssue {
	ledgerCounts := map[string]int{}
	for i := range active {
		ledgerCounts[active[i].ServerID]++
	}

	var issues []types.StreamIssue
	for i := range instances {
		if instances[i].Status != types.InstanceActive {
			continue
		}
		if ledgerCounts[instances[i].ServerID] == instances[i].CurrentStreams {
			continue
		}

		issues = append(issues, types.StreamIssue{
			Type:      types.IssueMismatched,
			Severity:  types.SeverityMedium,
			ServerIDs: []string{instances[i].ServerID},
			Detail: fmt.Sprintf("ledger holds %d active assignments, instance reports %d",
				ledgerCounts[instances[i].ServerID], instances[i].CurrentStreams),
		})
	}

	return issues
}

// staleIssues flags rows whose owner is active but has not heartbeated
// within the warning threshold. Watch-only; the heartbeat monitor owns the
// failure decision.
func (c *Checker) staleIssues(byServer map[string]*types.Instance, active []types.StreamAssignment) []types.StreamIssue {
	cutoff := c.now().Add(-c.cfg.WarningThreshold)

	var issues []types.StreamIssue
	for i := range active {
		owner, ok := byServer[active[i].ServerID]
		if !ok || owner.Status != types.InstanceActive {
			continue
		}
		if !owner.LastHeartbeat.Before(cutoff) {
			continue
		}

		issues = append(issues, types.StreamIssue{
			StreamID:  active[i].StreamID,
			Type:      types.IssueStale,
			Severity:  types.SeverityLow,
			ServerIDs: []string{active[i].ServerID},
			Detail:    "owner heartbeat older than warning threshold",
		})
	}

	return issues
}

// buildRecommendations turns issue categories and past recovery failures
// into operator guidance. Past failures are surfaced once.
func (c *Checker) buildRecommendations(counts map[types.IssueType]int) []string {
	var recs []string
	if counts[types.IssueOrphaned] > 0 {
		recs = append(recs, "reassign or release orphaned streams; auto-recovery handles this when enabled")
	}
	if counts[types.IssueDuplicate] > 0 {
		recs = append(recs, "resolve duplicate claims; the newest assignment wins")
	}
	if counts[types.IssueMismatched] > 0 {
		recs = append(recs, "resynchronize instance stream counters from the ledger")
	}
	if counts[types.IssueStale] > 0 {
		recs = append(recs, "verify heartbeat delivery for instances past the warning threshold")
	}

	c.failMu.Lock()
	past := c.pastFailures
	c.pastFailures = nil
	c.failMu.Unlock()

	for _, failure := range past {
		recs = append(recs, "previous auto-recovery failed: "+failure)
	}

	return recs
}

func issueWeight(t types.IssueType) float64 {
	switch t {
	case types.IssueOrphaned:
		return weightOrphaned
	case types.IssueDuplicate:
		return weightDuplicate
	case types.IssueMismatched:
		return weightMismatched
	case types.IssueStale:
		return weightStale
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
