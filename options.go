package streamd

// Option configures an Orchestrator with optional dependencies.
type Option func(*orchestratorOptions)

// orchestratorOptions holds optional Orchestrator configuration.
type orchestratorOptions struct {
	electionAgent ElectionAgent
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger
}

// WithElectionAgent replaces the built-in NATS KV leader election.
//
// Use this when the deployment already runs a coordination service (Consul,
// etcd) that should decide which replica leads. When unset, the orchestrator
// elects through a KV leader key, or considers itself leader when
// Config.DisableElection is true.
//
// Example:
//
//	orch, err := streamd.NewOrchestrator(&cfg, conn, src,
//	    streamd.WithElectionAgent(consulAgent))
func WithElectionAgent(agent ElectionAgent) Option {
	return func(o *orchestratorOptions) {
		o.electionAgent = agent
	}
}

// WithHooks registers lifecycle event callbacks.
//
// Hooks observe failures, recoveries, rebalances, and consistency reports.
// They run asynchronously and their errors are logged, never propagated, so
// a slow or failing hook cannot stall the orchestrator.
//
// Example:
//
//	orch, err := streamd.NewOrchestrator(&cfg, conn, src, streamd.WithHooks(&streamd.Hooks{
//	    OnInstanceFailed: func(ctx context.Context, rec streamd.FailureRecord) error {
//	        return alertOps(rec)
//	    },
//	}))
func WithHooks(hooks *Hooks) Option {
	return func(o *orchestratorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics wires a metrics collector. Without it, all measurements are
// discarded.
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "streamd")
//	orch, err := streamd.NewOrchestrator(&cfg, conn, src, streamd.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *orchestratorOptions) {
		o.metrics = metrics
	}
}

// WithLogger routes orchestrator logs through the given logger. Without it,
// logs are discarded. Any implementation of Logger works; wrapping a
// *slog.Logger or a zap SugaredLogger are the common choices.
func WithLogger(logger Logger) Option {
	return func(o *orchestratorOptions) {
		o.logger = logger
	}
}
