package breaker

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/streamd/types"
)

// Service keys for the guarded operation classes.
const (
	// KeyStorage guards KV bucket operations.
	KeyStorage = "storage"

	// KeyCatalog guards stream catalog lookups.
	KeyCatalog = "catalog"
)

// Registry holds one breaker per service key, created lazily on first use.
type Registry struct {
	defaults  Config
	overrides map[string]Config

	breakers *xsync.Map[string, *Breaker]

	logger  types.Logger
	metrics types.BreakerMetrics
}

// NewRegistry creates a registry with the given default thresholds.
//
// Parameters:
//   - defaults: Thresholds for keys without an override
//   - overrides: Per-key threshold overrides, may be nil
//   - logger: Structured logger
//   - metrics: Breaker metrics sink
func NewRegistry(defaults Config, overrides map[string]Config, logger types.Logger, metrics types.BreakerMetrics) *Registry {
	defaults.SetDefaults()

	for key, cfg := range overrides {
		cfg.SetDefaults()
		overrides[key] = cfg
	}

	return &Registry{
		defaults:  defaults,
		overrides: overrides,
		breakers:  xsync.NewMap[string, *Breaker](),
		logger:    logger,
		metrics:   metrics,
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	if brk, ok := r.breakers.Load(key); ok {
		return brk
	}

	cfg := r.defaults
	if override, ok := r.overrides[key]; ok {
		cfg = override
	}

	brk, _ := r.breakers.LoadOrStore(key, New(key, cfg, r.logger, r.metrics))

	return brk
}

// States returns a snapshot of every instantiated breaker's state, keyed by
// service key.
func (r *Registry) States() map[string]string {
	states := make(map[string]string)
	r.breakers.Range(func(key string, brk *Breaker) bool {
		states[key] = brk.State().String()

		return true
	})

	return states
}
