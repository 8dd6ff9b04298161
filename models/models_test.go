package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBayValidAndString(t *testing.T) {
	tests := []struct {
		name  string
		bay   Bay
		valid bool
		str   string
	}{
		{"first bay", Bay(0), true, "0"},
		{"last bay", Bay(BayCount - 1), true, "3"},
		{"out of range", Bay(BayCount), false, "4"},
		{"negative", Bay(-2), false, "-2"},
		{"no bay sentinel", NoBay, false, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.bay.Valid())
			assert.Equal(t, tt.str, tt.bay.String())
		})
	}
}

func TestHardwareStatusString(t *testing.T) {
	tests := []struct {
		status HardwareStatus
		want   string
	}{
		{HWLoading, "LOADING"},
		{HWUnloading, "UNLOADING"},
		{HWForward, "FORWARD"},
		{HWReverse, "REVERSE"},
		{HWStopped, "STOPPED"},
		{HWError, "ERROR"},
		{HardwareStatus(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestLoadStateString(t *testing.T) {
	tests := []struct {
		state LoadState
		want  string
	}{
		{Unloaded, "UNLOADED"},
		{Loading, "LOADING"},
		{Loaded, "LOADED"},
		{Unloading, "UNLOADING"},
		{LoadState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestDirectionString(t *testing.T) {
	require.Equal(t, "forward", Forward.String())
	require.Equal(t, "reverse", Reverse.String())
}

func TestClogSensitivityWindowMM(t *testing.T) {
	tests := []struct {
		name        string
		sensitivity ClogSensitivity
		want        float64
	}{
		{"low", SensitivityLow, 48},
		{"medium", SensitivityMedium, 24},
		{"high", SensitivityHigh, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sensitivity.WindowMM())
		})
	}
}

func TestParseSensitivity(t *testing.T) {
	tests := []struct {
		in   string
		want ClogSensitivity
	}{
		{"low", SensitivityLow},
		{"high", SensitivityHigh},
		{"medium", SensitivityMedium},
		{"", SensitivityMedium},
		{"bogus", SensitivityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSensitivity(tt.in))
		})
	}
}
