package clog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oams/feeder"
	"oams/host"
	"oams/mcu"
	"oams/models"
	"oams/pressure"
)

type fixture struct {
	h       *host.SimHost
	sim     *mcu.Simulator
	f       *feeder.Driver
	ps      *pressure.Tracker
	feeders map[string]*feeder.Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := host.NewSimHost(time.Unix(0, 0))
	h.SetExtruderPosition("extruder0", 0)
	sim := mcu.NewSimulator()
	f := feeder.NewDriver(feeder.DefaultConfig("A"), sim)
	feeders := map[string]*feeder.Driver{"A": f}
	ps := pressure.NewTracker(pressure.Config{Name: "extruder0", Feeders: []string{"A"}})

	sim.EmitLoaded(0)
	sim.SetHubPresent(0, true)
	f.IngestTick()
	ps.Reconcile(feeders, 0.25)
	f.SetFollower(true, models.Forward)
	ps.NoteFollower("A", true, models.Forward)

	return &fixture{h: h, sim: sim, f: f, ps: ps, feeders: feeders}
}

func (fx *fixture) ctx() Context {
	return Context{
		Host: fx.h,
		PS:   fx.ps,
		Encoder: func() (int32, bool) {
			return fx.f.Snapshot().Encoder, true
		},
	}
}

func (fx *fixture) advance(extruderDelta float64, encoderDelta int32) {
	fx.h.AdvanceExtruder("extruder0", extruderDelta)
	fx.sim.AdvanceEncoder(encoderDelta)
	fx.f.IngestTick()
	fx.ps.Reconcile(fx.feeders, 0.25)
}

func TestDetectorTripsWhenEncoderLagsExtruder(t *testing.T) {
	fx := newFixture(t)
	d := NewDetector(Config{
		PSName: "extruder0", ExtruderName: "extruder0",
		Sensitivity: models.SensitivityMedium, TicksPerMM: 10,
	})

	window := models.SensitivityMedium.WindowMM()
	tripped := false
	// Feed the encoder at a fraction of expected rate; Alpha defaults to
	// 0.5 so anything below half of TicksPerMM*window should trip.
	steps := int(window) + 2
	for i := 0; i < steps; i++ {
		fx.advance(1, 1) // 1 encoder tick per 1mm of travel, far under 10 ticks/mm
		if d.Step(fx.ctx()) {
			tripped = true
			break
		}
	}
	require.True(t, tripped, "expected a clog trip within %d ticks", steps)
	assert.True(t, d.Tripped())
	assert.NotEmpty(t, fx.h.PauseReasons())
}

func TestDetectorDoesNotTripWhenEncoderKeepsPace(t *testing.T) {
	fx := newFixture(t)
	d := NewDetector(Config{
		PSName: "extruder0", ExtruderName: "extruder0",
		Sensitivity: models.SensitivityMedium, TicksPerMM: 10,
	})

	window := models.SensitivityMedium.WindowMM()
	for i := 0; i < int(window)+5; i++ {
		fx.advance(1, 10) // matches TicksPerMM exactly, well above Alpha*10
		assert.False(t, d.Step(fx.ctx()))
	}
	assert.False(t, d.Tripped())
}

func TestDetectorInactiveWhenFollowerOff(t *testing.T) {
	fx := newFixture(t)
	fx.f.SetFollower(false, models.Forward)
	fx.ps.NoteFollower("A", false, models.Forward)

	d := NewDetector(Config{
		PSName: "extruder0", ExtruderName: "extruder0",
		Sensitivity: models.SensitivityMedium, TicksPerMM: 10,
	})
	fx.advance(5, 0)
	assert.False(t, d.Step(fx.ctx()))
	assert.Empty(t, d.samples)
}

func TestDetectorTripsOnceUntilReload(t *testing.T) {
	fx := newFixture(t)
	d := NewDetector(Config{
		PSName: "extruder0", ExtruderName: "extruder0",
		Sensitivity: models.SensitivityLow, TicksPerMM: 10,
	})

	window := models.SensitivityLow.WindowMM()
	var firstTripIdx = -1
	for i := 0; i < int(window)+3; i++ {
		fx.advance(1, 1)
		if d.Step(fx.ctx()) {
			firstTripIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, firstTripIdx, 0)

	// Subsequent ticks stay tripped but don't re-fire.
	assert.False(t, d.Step(fx.ctx()))
	assert.True(t, d.Tripped())

	// Unloading resets the detector for the next spool.
	fx.sim.SetStatus(models.HWUnloading)
	fx.sim.SetHubPresent(0, false)
	fx.sim.EmitUnloaded()
	fx.f.IngestTick()
	fx.ps.Reconcile(fx.feeders, 0.25)
	d.Step(fx.ctx())
	assert.False(t, d.Tripped())
}
