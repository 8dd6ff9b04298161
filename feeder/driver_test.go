package feeder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oams/mcu"
	"oams/models"
	"oams/oamserr"
)

func TestDriverIngestTickTracksEncoderDelta(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)

	sim.AdvanceEncoder(100)
	d.IngestTick()
	assert.Equal(t, int32(100), d.Snapshot().LastDelta)

	sim.AdvanceEncoder(50)
	d.IngestTick()
	assert.Equal(t, int32(50), d.Snapshot().LastDelta)
}

func TestDriverIngestTickAppliesEvents(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)

	sim.EmitLoaded(2)
	events := d.IngestTick()
	require.Len(t, events, 1)
	assert.Equal(t, models.Bay(2), d.Snapshot().CurrentBay)

	sim.EmitUnloaded()
	d.IngestTick()
	assert.Equal(t, models.NoBay, d.Snapshot().CurrentBay)

	sim.EmitError("stall")
	d.IngestTick()
	assert.True(t, d.Errored())
	assert.Equal(t, models.HWError, d.Snapshot().HardwareStatus)
}

func TestDriverIsBayReadyAndLoaded(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)

	sim.SetFilamentPresent(0, true)
	d.IngestTick()
	assert.True(t, d.IsBayReady(0))

	sim.SetHubPresent(0, true)
	d.IngestTick()
	assert.False(t, d.IsBayReady(0), "threaded past hub is no longer just ready")

	sim.EmitLoaded(0)
	d.IngestTick()
	assert.True(t, d.IsBayLoaded(0))
}

func TestDriverLoadBayRejectsWhenNotReady(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)

	err := d.LoadBay(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oamserr.NotReady))
}

func TestDriverLoadBaySucceedsWhenReady(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)
	sim.SetFilamentPresent(1, true)
	d.IngestTick()

	require.NoError(t, d.LoadBay(1))
	assert.Equal(t, models.HWLoading, d.Snapshot().HardwareStatus)
	assert.Equal(t, mcu.CmdLoad, sim.LastCommand().Kind)
}

func TestDriverErroredBlocksCommands(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)
	sim.EmitError("boom")
	d.IngestTick()

	err := d.LoadBay(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oamserr.McuCommError))

	require.NoError(t, d.Resync())
	assert.False(t, d.Errored())
}

func TestDriverUnloadRequiresLoadedBay(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)

	err := d.Unload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, oamserr.NotReady))

	sim.EmitLoaded(0)
	d.IngestTick()
	require.NoError(t, d.Unload())
	assert.Equal(t, models.HWUnloading, d.Snapshot().HardwareStatus)
}

func TestDriverSetFollower(t *testing.T) {
	sim := mcu.NewSimulator()
	d := NewDriver(DefaultConfig("A"), sim)
	require.NoError(t, d.SetFollower(true, models.Reverse))
	assert.Equal(t, models.HWReverse, sim.Snapshot().Status)
}
