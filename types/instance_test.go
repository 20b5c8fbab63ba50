package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstanceLoadFactor(t *testing.T) {
	t.Parallel()

	inst := &Instance{ServerID: "relay-1", MaxStreams: 20, CurrentStreams: 10}
	require.InDelta(t, 0.5, inst.LoadFactor(), 1e-9)

	// zero capacity never divides
	zero := &Instance{ServerID: "relay-2"}
	require.Equal(t, 0.0, zero.LoadFactor())

	full := &Instance{ServerID: "relay-3", MaxStreams: 8, CurrentStreams: 8}
	require.InDelta(t, 1.0, full.LoadFactor(), 1e-9)
}

func TestInstanceSpareCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		max     int
		current int
		want    int
	}{
		{"half full", 10, 5, 5},
		{"empty", 10, 0, 10},
		{"full", 10, 10, 0},
		{"over capacity clamps to zero", 10, 12, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := &Instance{MaxStreams: tt.max, CurrentStreams: tt.current}
			require.Equal(t, tt.want, inst.SpareCapacity())
		})
	}
}

func TestInstanceAddr(t *testing.T) {
	t.Parallel()

	inst := &Instance{Host: "10.0.0.7", Port: 8044}
	require.Equal(t, "10.0.0.7:8044", inst.Addr())
}
