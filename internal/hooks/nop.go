package hooks

import (
	"context"

	"github.com/arloliu/streamd/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged:      h.OnStateChanged,
		OnInstanceFailed:    h.OnInstanceFailed,
		OnInstanceRecovered: h.OnInstanceRecovered,
		OnEmergency:         h.OnEmergency,
		OnRebalance:         h.OnRebalance,
		OnConsistencyReport: h.OnConsistencyReport,
		OnError:             h.OnError,
	}
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnInstanceFailed is a no-op implementation.
func (h *NopHooks) OnInstanceFailed(_ context.Context, _ types.FailureRecord) error {
	return nil
}

// OnInstanceRecovered is a no-op implementation.
func (h *NopHooks) OnInstanceRecovered(_ context.Context, _ string) error {
	return nil
}

// OnEmergency is a no-op implementation.
func (h *NopHooks) OnEmergency(_ context.Context, _ string, _ int) error {
	return nil
}

// OnRebalance is a no-op implementation.
func (h *NopHooks) OnRebalance(_ context.Context, _ types.MigrationPlan, _ int) error {
	return nil
}

// OnConsistencyReport is a no-op implementation.
func (h *NopHooks) OnConsistencyReport(_ context.Context, _ types.ConsistencyReport) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
