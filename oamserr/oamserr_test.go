package oamserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlErrorIsMatchesKind(t *testing.T) {
	err := New(LoadFailed, "A", "watchdog exhausted")
	require.Error(t, err)
	assert.True(t, errors.Is(err, LoadFailed))
	assert.False(t, errors.Is(err, UnloadFailed))
}

func TestControlErrorErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *ControlError
		want string
	}{
		{
			name: "no detail",
			err:  &ControlError{Kind: Busy, Feeder: "A", Attempt: 0},
			want: `BUSY: feeder="A" ps="" attempt=0`,
		},
		{
			name: "with detail",
			err:  &ControlError{Kind: Timeout, Feeder: "A", PS: "extruder0", Attempt: 2, Detail: "no motion"},
			want: `TIMEOUT: feeder="A" ps="extruder0" attempt=2: no motion`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConstructorHelpers(t *testing.T) {
	withPS := WithPS(NotReady, "A", "extruder0", "no bay")
	assert.Equal(t, "extruder0", withPS.PS)
	assert.True(t, errors.Is(withPS, NotReady))

	withAttempt := WithAttempt(LoadFailed, "A", 3, "watchdog")
	assert.Equal(t, 3, withAttempt.Attempt)
	assert.True(t, errors.Is(withAttempt, LoadFailed))
}
