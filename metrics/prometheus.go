package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/streamd/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// It provides concrete instrumentation for the store, breaker, registry,
// assignment, balance, and consistency domains, and defers orchestrator
// lifecycle metrics to the embedded NopMetrics, ensuring full interface
// coverage without forcing immediate instrumentation of all domains.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Store metrics
	storeOps       *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
	storeWait      prometheus.Histogram
	storeExhausted prometheus.Counter
	casConflicts   *prometheus.CounterVec

	// Breaker metrics
	breakerState  *prometheus.GaugeVec
	shortCircuits *prometheus.CounterVec
	retryAttempts *prometheus.CounterVec
	retryBackoff  *prometheus.HistogramVec

	// Registry metrics
	registrations     *prometheus.CounterVec
	heartbeats        *prometheus.CounterVec
	activeInstances   prometheus.Gauge
	healthTransitions *prometheus.CounterVec
	instanceFailures  *prometheus.CounterVec
	instanceRecovered prometheus.Counter
	systemHealth      prometheus.Gauge

	// Assignment metrics
	streamsGranted  prometheus.Counter
	streamsReleased prometheus.Counter
	assignedStreams prometheus.Gauge
	claimConflicts  prometheus.Counter

	// Balance metrics
	rebalances        *prometheus.CounterVec
	rebalanceDuration prometheus.Histogram
	streamsMoved      prometheus.Counter
	imbalances        *prometheus.CounterVec
	performanceScore  *prometheus.GaugeVec

	// Consistency metrics
	consistencyScore  prometheus.Gauge
	consistencyIssues *prometheus.GaugeVec
	recoveryActions   *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "streamd" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "streamd"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.storeOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total storage operations by type and result.",
		}, []string{"op", "result"})

		p.storeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency in seconds by operation type.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~4s
		}, []string{"op"})

		p.storeWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "permit_wait_seconds",
			Help:      "Time spent waiting for an in-flight permit in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		})

		p.storeExhausted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "pool_exhausted_total",
			Help:      "Acquisitions that timed out with all in-flight permits busy.",
		})

		p.casConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "cas_conflicts_total",
			Help:      "Compare-and-swap retries caused by concurrent revision changes.",
		}, []string{"op"})

		p.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state per service key (0=closed,1=open,2=half-open).",
		}, []string{"service_key"})

		p.shortCircuits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "breaker",
			Name:      "short_circuits_total",
			Help:      "Calls rejected without attempting the underlying operation.",
		}, []string{"service_key"})

		p.retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "breaker",
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts by service key.",
		}, []string{"service_key"})

		p.retryBackoff = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "breaker",
			Name:      "retry_backoff_seconds",
			Help:      "Observed retry backoff durations in seconds by service key.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"service_key"})

		p.registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Total registration calls by kind (new, re).",
		}, []string{"kind"})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Total heartbeat calls by result (success, failure).",
		}, []string{"result"})

		p.activeInstances = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "active_instances",
			Help:      "Current number of active instances.",
		})

		p.healthTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "health_transitions_total",
			Help:      "Per-instance health state transitions by from/to state.",
		}, []string{"from", "to"})

		p.instanceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "instance_failures_total",
			Help:      "Instances classified failed by reason (timeout, missed_heartbeats).",
		}, []string{"reason"})

		p.instanceRecovered = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "instance_recoveries_total",
			Help:      "Failed instances that returned to active.",
		})

		p.systemHealth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "system_health",
			Help:      "Orchestrator-wide health level (0=healthy,1=degraded,2=critical).",
		})

		p.streamsGranted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assign",
			Name:      "streams_granted_total",
			Help:      "Total streams granted across all requests.",
		})

		p.streamsReleased = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assign",
			Name:      "streams_released_total",
			Help:      "Total assignment rows flipped inactive across all releases.",
		})

		p.assignedStreams = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "assign",
			Name:      "assigned_streams",
			Help:      "Current number of active assignments.",
		})

		p.claimConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assign",
			Name:      "claim_conflicts_total",
			Help:      "Grant candidates lost to a concurrent claim.",
		})

		p.rebalances = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balance",
			Name:      "rebalances_total",
			Help:      "Executed rebalances by trigger reason.",
		}, []string{"reason"})

		p.rebalanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "balance",
			Name:      "rebalance_duration_seconds",
			Help:      "Duration of rebalance execution in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		p.streamsMoved = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balance",
			Name:      "streams_moved_total",
			Help:      "Total streams moved by rebalance migrations.",
		})

		p.imbalances = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balance",
			Name:      "imbalance_detections_total",
			Help:      "Imbalance detections by reason.",
		}, []string{"reason"})

		p.performanceScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "balance",
			Name:      "performance_score",
			Help:      "Latest computed performance score per instance.",
		}, []string{"server_id"})

		p.consistencyScore = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "consistency",
			Name:      "score",
			Help:      "Score of the latest consistency pass (1.0 is fully consistent).",
		})

		p.consistencyIssues = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "consistency",
			Name:      "issues",
			Help:      "Issue count by type in the latest consistency pass.",
		}, []string{"type"})

		p.recoveryActions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consistency",
			Name:      "recovery_actions_total",
			Help:      "Auto-recovery actions by action and result.",
		}, []string{"action", "result"})

		p.reg.MustRegister(p.storeOps)
		p.reg.MustRegister(p.storeLatency)
		p.reg.MustRegister(p.storeWait)
		p.reg.MustRegister(p.storeExhausted)
		p.reg.MustRegister(p.casConflicts)
		p.reg.MustRegister(p.breakerState)
		p.reg.MustRegister(p.shortCircuits)
		p.reg.MustRegister(p.retryAttempts)
		p.reg.MustRegister(p.retryBackoff)
		p.reg.MustRegister(p.registrations)
		p.reg.MustRegister(p.heartbeats)
		p.reg.MustRegister(p.activeInstances)
		p.reg.MustRegister(p.healthTransitions)
		p.reg.MustRegister(p.instanceFailures)
		p.reg.MustRegister(p.instanceRecovered)
		p.reg.MustRegister(p.systemHealth)
		p.reg.MustRegister(p.streamsGranted)
		p.reg.MustRegister(p.streamsReleased)
		p.reg.MustRegister(p.assignedStreams)
		p.reg.MustRegister(p.claimConflicts)
		p.reg.MustRegister(p.rebalances)
		p.reg.MustRegister(p.rebalanceDuration)
		p.reg.MustRegister(p.streamsMoved)
		p.reg.MustRegister(p.imbalances)
		p.reg.MustRegister(p.performanceScore)
		p.reg.MustRegister(p.consistencyScore)
		p.reg.MustRegister(p.consistencyIssues)
		p.reg.MustRegister(p.recoveryActions)
	})
}

// StoreMetrics implementation

// RecordStoreOperation records one storage operation outcome and latency.
func (p *PrometheusCollector) RecordStoreOperation(operation string, duration float64, success bool) {
	p.ensureRegistered()

	result := "success"
	if !success {
		result = "failure"
	}
	p.storeOps.WithLabelValues(operation, result).Inc()
	p.storeLatency.WithLabelValues(operation).Observe(duration)
}

// RecordStoreWait observes time spent waiting for an in-flight permit.
func (p *PrometheusCollector) RecordStoreWait(duration float64) {
	p.ensureRegistered()
	p.storeWait.Observe(duration)
}

// RecordStoreExhausted increments the pool exhaustion counter.
func (p *PrometheusCollector) RecordStoreExhausted() {
	p.ensureRegistered()
	p.storeExhausted.Inc()
}

// RecordCASConflict increments the compare-and-swap conflict counter.
func (p *PrometheusCollector) RecordCASConflict(operation string) {
	p.ensureRegistered()
	p.casConflicts.WithLabelValues(operation).Inc()
}

// BreakerMetrics implementation

// RecordBreakerState sets the numeric breaker state gauge for a service key.
func (p *PrometheusCollector) RecordBreakerState(serviceKey string, state string) {
	p.ensureRegistered()

	var value float64
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 2
	default:
		value = 0
	}
	p.breakerState.WithLabelValues(serviceKey).Set(value)
}

// RecordBreakerShortCircuit increments the short-circuit counter.
func (p *PrometheusCollector) RecordBreakerShortCircuit(serviceKey string) {
	p.ensureRegistered()
	p.shortCircuits.WithLabelValues(serviceKey).Inc()
}

// RecordRetryAttempt increments the retry attempt counter.
func (p *PrometheusCollector) RecordRetryAttempt(serviceKey string) {
	p.ensureRegistered()
	p.retryAttempts.WithLabelValues(serviceKey).Inc()
}

// RecordRetryBackoff observes a retry backoff delay.
func (p *PrometheusCollector) RecordRetryBackoff(serviceKey string, seconds float64) {
	p.ensureRegistered()
	p.retryBackoff.WithLabelValues(serviceKey).Observe(seconds)
}

// RegistryMetrics implementation

// RecordRegistration increments the registration counter by kind.
func (p *PrometheusCollector) RecordRegistration(reRegistration bool) {
	p.ensureRegistered()

	kind := "new"
	if reRegistration {
		kind = "re"
	}
	p.registrations.WithLabelValues(kind).Inc()
}

// RecordHeartbeat increments the heartbeat counter by result.
func (p *PrometheusCollector) RecordHeartbeat(success bool) {
	p.ensureRegistered()

	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(result).Inc()
}

// RecordActiveInstances sets the active instance gauge.
func (p *PrometheusCollector) RecordActiveInstances(count int) {
	p.ensureRegistered()
	p.activeInstances.Set(float64(count))
}

// RecordHealthTransition increments the health transition counter.
func (p *PrometheusCollector) RecordHealthTransition(from, to types.HealthState) {
	p.ensureRegistered()
	p.healthTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordInstanceFailure increments the instance failure counter by reason.
func (p *PrometheusCollector) RecordInstanceFailure(reason string) {
	p.ensureRegistered()
	p.instanceFailures.WithLabelValues(reason).Inc()
}

// RecordInstanceRecovery increments the instance recovery counter.
func (p *PrometheusCollector) RecordInstanceRecovery(_ /* attempts */ int) {
	p.ensureRegistered()
	p.instanceRecovered.Inc()
}

// RecordSystemHealth sets the numeric system health gauge.
func (p *PrometheusCollector) RecordSystemHealth(health types.SystemHealth) {
	p.ensureRegistered()

	var value float64
	switch health {
	case types.SystemDegraded:
		value = 1
	case types.SystemCritical:
		value = 2
	default:
		value = 0
	}
	p.systemHealth.Set(value)
}

// AssignMetrics implementation

// RecordStreamsGranted adds to the granted stream counter.
func (p *PrometheusCollector) RecordStreamsGranted(count int) {
	p.ensureRegistered()
	p.streamsGranted.Add(float64(count))
}

// RecordStreamsReleased adds to the released stream counter.
func (p *PrometheusCollector) RecordStreamsReleased(count int) {
	p.ensureRegistered()
	p.streamsReleased.Add(float64(count))
}

// RecordAssignedStreams sets the active assignment gauge.
func (p *PrometheusCollector) RecordAssignedStreams(count int) {
	p.ensureRegistered()
	p.assignedStreams.Set(float64(count))
}

// RecordClaimConflict increments the claim conflict counter.
func (p *PrometheusCollector) RecordClaimConflict() {
	p.ensureRegistered()
	p.claimConflicts.Inc()
}

// BalanceMetrics implementation

// RecordRebalance records an executed rebalance and its duration.
func (p *PrometheusCollector) RecordRebalance(reason string, _ /* planned */ int, moved int, duration float64) {
	p.ensureRegistered()
	p.rebalances.WithLabelValues(reason).Inc()
	p.rebalanceDuration.Observe(duration)
	p.streamsMoved.Add(float64(moved))
}

// RecordImbalance increments the imbalance detection counter by reason.
func (p *PrometheusCollector) RecordImbalance(reason string) {
	p.ensureRegistered()
	p.imbalances.WithLabelValues(reason).Inc()
}

// RecordPerformanceScore sets the per-instance performance score gauge.
func (p *PrometheusCollector) RecordPerformanceScore(serverID string, score float64) {
	p.ensureRegistered()
	p.performanceScore.WithLabelValues(serverID).Set(score)
}

// ConsistencyMetrics implementation

// RecordConsistencyScore sets the latest consistency score gauge.
func (p *PrometheusCollector) RecordConsistencyScore(score float64) {
	p.ensureRegistered()
	p.consistencyScore.Set(score)
}

// RecordConsistencyIssues sets the per-type issue gauge for the latest pass.
func (p *PrometheusCollector) RecordConsistencyIssues(issueType types.IssueType, count int) {
	p.ensureRegistered()
	p.consistencyIssues.WithLabelValues(string(issueType)).Set(float64(count))
}

// RecordRecoveryAction increments the recovery action counter.
func (p *PrometheusCollector) RecordRecoveryAction(action types.RecoveryAction, success bool) {
	p.ensureRegistered()

	result := "success"
	if !success {
		result = "failure"
	}
	p.recoveryActions.WithLabelValues(string(action), result).Inc()
}
