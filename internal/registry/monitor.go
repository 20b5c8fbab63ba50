package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/streamd/internal/hooks"
	"github.com/arloliu/streamd/internal/store"
	"github.com/arloliu/streamd/types"
)

// Config controls heartbeat monitoring thresholds and recovery cadence.
type Config struct {
	// PollInterval is the sweep cadence. It doubles as the expected
	// heartbeat interval when deriving consecutive-miss counts.
	PollInterval time.Duration `yaml:"pollInterval"`

	// WarningThreshold is the heartbeat age after which an instance is
	// flagged as warning. Informational only.
	WarningThreshold time.Duration `yaml:"warningThreshold"`

	// Timeout is the heartbeat age after which an instance is classified
	// failed.
	Timeout time.Duration `yaml:"timeout"`

	// EmergencyThreshold is the heartbeat age after which a failed
	// instance's assignments are force-released, bypassing the retry
	// cadence.
	EmergencyThreshold time.Duration `yaml:"emergencyThreshold"`

	// MaxMissedHeartbeats fails an instance after this many consecutive
	// missed heartbeats, independent of the raw timeout.
	MaxMissedHeartbeats int `yaml:"maxMissedHeartbeats"`

	// RecoveryBaseDelay seeds the exponential backoff between failure
	// handling attempts: delay = RecoveryBaseDelay * 2^attempt.
	RecoveryBaseDelay time.Duration `yaml:"recoveryBaseDelay"`

	// MaxRecoveryAttempts bounds failure handling attempts before the
	// episode escalates to emergency release.
	MaxRecoveryAttempts int `yaml:"maxRecoveryAttempts"`

	// DegradedRatio and CriticalRatio are the failed-instance proportions
	// at which system health degrades.
	DegradedRatio float64 `yaml:"degradedRatio"`
	CriticalRatio float64 `yaml:"criticalRatio"`
}

// SetDefaults fills zero fields with production defaults.
func (c *Config) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = 90 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = 600 * time.Second
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = 3
	}
	if c.RecoveryBaseDelay <= 0 {
		c.RecoveryBaseDelay = 5 * time.Second
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 5
	}
	if c.DegradedRatio <= 0 {
		c.DegradedRatio = 0.25
	}
	if c.CriticalRatio <= 0 {
		c.CriticalRatio = 0.50
	}
}

// AssignmentReleaser returns a failed instance's active assignments to the
// unassigned pool. Implemented by the assignment engine.
type AssignmentReleaser interface {
	ReleaseAllForServer(ctx context.Context, serverID, reason string) (int, error)
}

// Monitor is the heartbeat monitor.
//
// It provides hybrid detection:
//   - Watcher (primary): fast reaction to heartbeat writes via KV watch,
//     debounced to avoid sweeping on every packet
//   - Polling (fallback): reliable sweeps at PollInterval
//
// Each sweep classifies every instance on the state machine
// Active → Warning → Failed → Emergency, creates failure episodes, runs the
// backoff-gated release of failed instances' assignments, and finalizes
// recovery for instances whose heartbeats returned. The monitor runs only on
// the leader replica so a cluster never double-drives failure handling.
type Monitor struct {
	cfg      Config
	store    *store.Store
	releaser AssignmentReleaser
	events   *Broadcaster
	hooks    *hooks.Runner
	logger   types.Logger
	metrics  types.MetricsCollector

	tracks *xsync.Map[string, *instanceTrack]
	health atomic.Value // types.SystemHealth

	now func() time.Time

	watcher   jetstream.KeyWatcher
	watcherMu sync.Mutex

	// sweepMu serializes sweeps: the poll ticker and the debounced watcher
	// can both trigger one.
	sweepMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// instanceTrack is the monitor's in-memory view of one instance. Rebuilt
// from storage on leader change; only the durable rows are authoritative.
type instanceTrack struct {
	state types.HealthState

	// lastSeen is the LastHeartbeat value observed by the previous poll
	// sweep; missed counts consecutive poll sweeps where it did not
	// advance while overdue. Any fresh heartbeat resets the count, so a
	// slow-but-alive worker is never failed prematurely.
	lastSeen time.Time
	missed   int
}

// NewMonitor creates a heartbeat monitor.
//
// Parameters:
//   - cfg: Thresholds and cadence; zero fields are defaulted
//   - st: Storage access layer
//   - releaser: Assignment engine used to release failed instances' streams
//   - events: Broadcaster for monitor events (may be shared with subscribers)
//   - hookRunner: Lifecycle hook runner
//   - logger: Structured logger
//   - metrics: Metrics collector
//
// Returns:
//   - *Monitor: New monitor, not yet started
func NewMonitor(
	cfg Config,
	st *store.Store,
	releaser AssignmentReleaser,
	events *Broadcaster,
	hookRunner *hooks.Runner,
	logger types.Logger,
	metrics types.MetricsCollector,
) *Monitor {
	cfg.SetDefaults()

	m := &Monitor{
		cfg:      cfg,
		store:    st,
		releaser: releaser,
		events:   events,
		hooks:    hookRunner,
		logger:   logger,
		metrics:  metrics,
		tracks:   xsync.NewMap[string, *instanceTrack](),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.health.Store(types.SystemHealthy)

	return m
}

// Start begins monitoring in a background goroutine.
//
// Returns:
//   - error: types.ErrMonitorAlreadyStarted or types.ErrMonitorAlreadyStopped
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return types.ErrMonitorAlreadyStopped
	}
	if m.started {
		return types.ErrMonitorAlreadyStarted
	}

	m.started = true
	go m.run(ctx)

	return nil
}

// Stop stops the monitor and waits for the sweep goroutine to exit.
//
// Safe to call more than once.
//
// Returns:
//   - error: types.ErrMonitorNotStarted if Start was never called
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return types.ErrMonitorNotStarted
	}
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	m.stopWatcher()

	return nil
}

// SystemHealth returns the health level computed by the most recent sweep.
func (m *Monitor) SystemHealth() types.SystemHealth {
	health, _ := m.health.Load().(types.SystemHealth)
	if health == "" {
		return types.SystemHealthy
	}

	return health
}

// run is the hybrid monitoring loop.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	if err := m.startWatcher(ctx); err != nil {
		m.logger.Warn("failed to start heartbeat watcher, falling back to polling only", "error", err)
	}

	// Initial sweep so a fresh leader picks up existing failures without
	// waiting a full poll interval.
	m.sweep(ctx, true)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx, true)

		case <-m.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// startWatcher starts the KV heartbeat watcher for fast change detection.
func (m *Monitor) startWatcher(ctx context.Context) error {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		return nil
	}

	watcher, err := m.store.WatchHeartbeats(ctx)
	if err != nil {
		return err
	}

	m.watcher = watcher
	go m.processWatcherEvents(ctx, watcher)

	return nil
}

// stopWatcher stops the KV watcher.
func (m *Monitor) stopWatcher() {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("failed to stop heartbeat watcher", "error", err)
		}
		m.watcher = nil
	}
}

// processWatcherEvents debounces watcher updates into sweeps.
func (m *Monitor) processWatcherEvents(ctx context.Context, watcher jetstream.KeyWatcher) {
	debounceTimer := time.NewTimer(100 * time.Millisecond)
	debounceTimer.Stop()
	var pendingSweep bool

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				// Watcher stopped or initial replay done
				continue
			}

			if !pendingSweep {
				pendingSweep = true
				debounceTimer.Reset(100 * time.Millisecond)
			}

		case <-debounceTimer.C:
			if pendingSweep {
				pendingSweep = false
				// Watcher sweeps react to heartbeat writes; they never
				// count misses, so a busy bucket cannot inflate the
				// consecutive-miss counter.
				m.sweep(ctx, false)
			}
		}
	}
}

// sweep classifies every instance and advances failure handling. fromPoll
// marks ticker-driven sweeps, the only ones that count heartbeat misses.
func (m *Monitor) sweep(ctx context.Context, fromPoll bool) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		m.logger.Error("monitor sweep aborted, cannot list instances", "error", err)
		return
	}

	failures := make(map[string]*types.FailureRecord)
	failuresOK := true
	records, err := m.store.ListFailureRecords(ctx)
	if err != nil {
		// Without episode state the failed-instance decisions would be
		// blind, so skip that half of the sweep rather than guess.
		m.logger.Warn("monitor sweep degraded, cannot list failure records", "error", err)
		failuresOK = false
	}
	for i := range records {
		failures[records[i].ServerID] = &records[i]
	}

	now := m.now().UTC()

	for i := range instances {
		inst := &instances[i]
		track, _ := m.tracks.LoadOrStore(inst.ServerID, &instanceTrack{state: types.HealthActive})
		if fromPoll {
			m.countMiss(inst, track, now)
		}

		switch inst.Status {
		case types.InstanceActive:
			m.checkActive(ctx, inst, track, now)
		case types.InstanceInactive:
			if failuresOK {
				m.checkFailed(ctx, inst, failures[inst.ServerID], now)
			}
		}
	}

	m.updateSystemHealth(instances)
}

// countMiss advances the consecutive-miss counter for one poll sweep.
func (m *Monitor) countMiss(inst *types.Instance, track *instanceTrack, now time.Time) {
	if inst.LastHeartbeat.Equal(track.lastSeen) && now.Sub(inst.LastHeartbeat) > m.cfg.PollInterval {
		track.missed++
	} else {
		track.missed = 0
	}
	track.lastSeen = inst.LastHeartbeat
}

// checkActive classifies one active instance by heartbeat age.
func (m *Monitor) checkActive(ctx context.Context, inst *types.Instance, track *instanceTrack, now time.Time) {
	age := now.Sub(inst.LastHeartbeat)

	switch {
	case age > m.cfg.EmergencyThreshold:
		// The monitor was likely down while this instance died; fail and
		// escalate in the same sweep.
		rec := m.failInstance(ctx, inst, now, "heartbeat age exceeded emergency threshold")
		if rec != nil {
			m.emergencyRelease(ctx, inst.ServerID, rec, now)
		}

	case age > m.cfg.Timeout:
		if rec := m.failInstance(ctx, inst, now, "heartbeat timeout"); rec != nil {
			m.attemptRelease(ctx, inst.ServerID, rec, now)
		}

	case track.missed >= m.cfg.MaxMissedHeartbeats:
		if rec := m.failInstance(ctx, inst, now, "missed consecutive heartbeats"); rec != nil {
			m.attemptRelease(ctx, inst.ServerID, rec, now)
		}

	case age > m.cfg.WarningThreshold:
		m.transition(inst.ServerID, types.HealthWarning, "heartbeat_age", age)

	default:
		m.transition(inst.ServerID, types.HealthActive)
	}
}

// failInstance marks an instance failed and opens a failure episode.
//
// Returns the created record, or nil when the classification could not be
// persisted (the next sweep retries).
func (m *Monitor) failInstance(ctx context.Context, inst *types.Instance, now time.Time, reason string) *types.FailureRecord {
	updated, err := m.store.UpdateInstance(ctx, inst.ServerID, func(i *types.Instance) error {
		i.Status = types.InstanceInactive
		return nil
	})
	if err != nil {
		m.logger.Error("failed to mark instance inactive", "server_id", inst.ServerID, "error", err)
		return nil
	}

	rec := &types.FailureRecord{
		EpisodeID:       uuid.NewString(),
		ServerID:        inst.ServerID,
		FailureTime:     now,
		Reason:          reason,
		StreamsAffected: updated.CurrentStreams,
	}
	if err := m.store.PutFailureRecord(ctx, rec); err != nil {
		// The status flip landed; checkFailed backfills the record next
		// sweep.
		m.logger.Error("failed to persist failure record", "server_id", inst.ServerID, "error", err)
		return nil
	}

	m.transition(inst.ServerID, types.HealthFailed, "reason", reason)
	m.metrics.RecordInstanceFailure(reason)

	m.logger.Error("instance failed",
		"server_id", inst.ServerID,
		"episode_id", rec.EpisodeID,
		"reason", reason,
		"streams_affected", rec.StreamsAffected,
	)

	m.hooks.InstanceFailed(ctx, *rec)
	m.events.Publish(Event{
		Type:     EventInstanceFailed,
		ServerID: inst.ServerID,
		Streams:  rec.StreamsAffected,
		At:       now,
	})

	return rec
}

// checkFailed advances one failed instance's episode: recovery when its
// heartbeat returned, otherwise backoff-gated release work.
func (m *Monitor) checkFailed(ctx context.Context, inst *types.Instance, rec *types.FailureRecord, now time.Time) {
	if rec == nil {
		// The inactive flip landed but the record write was lost. Reopen
		// the episode so release and recovery bookkeeping can proceed.
		rec = &types.FailureRecord{
			EpisodeID:       uuid.NewString(),
			ServerID:        inst.ServerID,
			FailureTime:     now,
			Reason:          "failure record backfilled",
			StreamsAffected: inst.CurrentStreams,
		}
		if err := m.store.PutFailureRecord(ctx, rec); err != nil {
			m.logger.Error("failed to backfill failure record", "server_id", inst.ServerID, "error", err)
		}

		return
	}

	if rec.HeartbeatSeen || inst.LastHeartbeat.After(rec.FailureTime) {
		m.recoverInstance(ctx, inst, rec)
		return
	}

	age := now.Sub(inst.LastHeartbeat)
	if age > m.cfg.EmergencyThreshold {
		m.transition(inst.ServerID, types.HealthEmergency, "heartbeat_age", age)
		if !rec.Released {
			m.emergencyRelease(ctx, inst.ServerID, rec, now)
		}

		return
	}

	if rec.Released {
		return
	}

	if rec.RecoveryAttempts >= m.cfg.MaxRecoveryAttempts {
		// Retry budget exhausted; hand the episode to emergency recovery.
		m.emergencyRelease(ctx, inst.ServerID, rec, now)
		return
	}

	delay := m.cfg.RecoveryBaseDelay * time.Duration(1<<rec.RecoveryAttempts)
	if !rec.LastRecoveryAttempt.IsZero() && now.Sub(rec.LastRecoveryAttempt) < delay {
		return
	}

	m.attemptRelease(ctx, inst.ServerID, rec, now)
}

// attemptRelease is one backoff-gated attempt to return a failed instance's
// assignments to the pool.
func (m *Monitor) attemptRelease(ctx context.Context, serverID string, rec *types.FailureRecord, now time.Time) {
	released, err := m.releaser.ReleaseAllForServer(ctx, serverID, "failure")
	rec.LastRecoveryAttempt = now

	if err != nil {
		rec.RecoveryAttempts++
		if putErr := m.store.PutFailureRecord(ctx, rec); putErr != nil {
			m.logger.Warn("failed to persist failure attempt", "server_id", serverID, "error", putErr)
		}

		m.logger.Warn("failure handling attempt failed",
			"server_id", serverID,
			"episode_id", rec.EpisodeID,
			"attempt", rec.RecoveryAttempts,
			"next_delay", m.cfg.RecoveryBaseDelay*time.Duration(1<<rec.RecoveryAttempts),
			"error", err,
		)

		return
	}

	rec.Released = true
	if err := m.store.PutFailureRecord(ctx, rec); err != nil {
		m.logger.Warn("failed to persist release completion", "server_id", serverID, "error", err)
	}

	m.logger.Info("released failed instance's assignments",
		"server_id", serverID,
		"episode_id", rec.EpisodeID,
		"released", released,
	)
}

// emergencyRelease force-releases everything the instance still holds,
// ignoring the retry cadence.
func (m *Monitor) emergencyRelease(ctx context.Context, serverID string, rec *types.FailureRecord, now time.Time) {
	released, err := m.releaser.ReleaseAllForServer(ctx, serverID, "emergency")
	if err != nil {
		// Emergencies retry every sweep, no backoff.
		m.logger.Error("emergency release failed", "server_id", serverID, "error", err)
		return
	}

	rec.Released = true
	rec.LastRecoveryAttempt = now
	if err := m.store.PutFailureRecord(ctx, rec); err != nil {
		m.logger.Warn("failed to persist emergency release", "server_id", serverID, "error", err)
	}

	m.transition(serverID, types.HealthEmergency)
	m.metrics.RecordInstanceFailure("emergency")

	m.logger.Error("emergency recovery force-released assignments",
		"server_id", serverID,
		"episode_id", rec.EpisodeID,
		"released", released,
	)

	m.hooks.Emergency(ctx, serverID, released)
	m.events.Publish(Event{
		Type:     EventInstanceEmergency,
		ServerID: serverID,
		Streams:  released,
		At:       now,
	})
}

// recoverInstance finalizes recovery: the counter is re-derived from the
// assignment ledger, never from the instance's self-report, since a
// restarted worker's local state is unreliable.
func (m *Monitor) recoverInstance(ctx context.Context, inst *types.Instance, rec *types.FailureRecord) {
	count, err := m.store.CountActiveByServer(ctx, inst.ServerID)
	if err != nil {
		m.logger.Warn("recovery resync failed, will retry", "server_id", inst.ServerID, "error", err)
		return
	}

	if _, err := m.store.UpdateInstance(ctx, inst.ServerID, func(i *types.Instance) error {
		i.Status = types.InstanceActive
		i.CurrentStreams = count
		return nil
	}); err != nil {
		m.logger.Warn("recovery update failed, will retry", "server_id", inst.ServerID, "error", err)
		return
	}

	if err := m.store.DeleteFailureRecord(ctx, inst.ServerID); err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Warn("failed to delete failure record after recovery", "server_id", inst.ServerID, "error", err)
	}

	if track, ok := m.tracks.Load(inst.ServerID); ok {
		track.missed = 0
	}

	m.transition(inst.ServerID, types.HealthActive)
	m.metrics.RecordInstanceRecovery(rec.RecoveryAttempts)

	m.logger.Info("instance recovered",
		"server_id", inst.ServerID,
		"episode_id", rec.EpisodeID,
		"resynced_streams", count,
		"attempts", rec.RecoveryAttempts,
	)

	m.hooks.InstanceRecovered(ctx, inst.ServerID)
	m.events.Publish(Event{
		Type:     EventInstanceRecovered,
		ServerID: inst.ServerID,
		Streams:  count,
		At:       m.now().UTC(),
	})
}

// transition updates the in-memory health state and records the change.
// Extra key/value pairs are logged on entry into non-active states.
func (m *Monitor) transition(serverID string, to types.HealthState, kv ...any) {
	track, _ := m.tracks.LoadOrStore(serverID, &instanceTrack{state: types.HealthActive})
	from := track.state
	if from == to {
		return
	}
	track.state = to

	m.metrics.RecordHealthTransition(from, to)

	args := append([]any{"server_id", serverID, "from", from.String(), "to", to.String()}, kv...)
	switch to {
	case types.HealthWarning:
		m.logger.Warn("instance health transition", args...)
	case types.HealthFailed, types.HealthEmergency:
		m.logger.Error("instance health transition", args...)
	default:
		m.logger.Info("instance health transition", args...)
	}
}

// updateSystemHealth recomputes the orchestrator-wide health level.
func (m *Monitor) updateSystemHealth(instances []types.Instance) {
	active := 0
	for i := range instances {
		if instances[i].Status == types.InstanceActive {
			active++
		}
	}
	failed := len(instances) - active

	health := ComputeSystemHealth(len(instances), failed, m.cfg.DegradedRatio, m.cfg.CriticalRatio)
	prev, _ := m.health.Load().(types.SystemHealth)
	m.health.Store(health)

	m.metrics.RecordActiveInstances(active)
	m.metrics.RecordSystemHealth(health)

	if prev != "" && prev != health {
		m.logger.Warn("system health changed",
			"from", prev,
			"to", health,
			"total", len(instances),
			"failed", failed,
		)
	}
}
