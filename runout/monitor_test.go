package runout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oams/feeder"
	"oams/host"
	"oams/lane"
	"oams/mcu"
	"oams/models"
	"oams/pressure"
)

type fixture struct {
	h        *host.SimHost
	ps       *pressure.Tracker
	group    *lane.Group
	feeders  map[string]*feeder.Driver
	machines map[string]*feeder.Machine
	sims     map[string]*mcu.Simulator
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	h := host.NewSimHost(time.Unix(0, 0))
	h.SetExtruderPosition("extruder0", 0)

	feeders := make(map[string]*feeder.Driver, len(names))
	machines := make(map[string]*feeder.Machine, len(names))
	sims := make(map[string]*mcu.Simulator, len(names))
	var members []lane.Member
	for _, n := range names {
		sim := mcu.NewSimulator()
		cfg := feeder.DefaultConfig(n)
		d := feeder.NewDriver(cfg, sim)
		feeders[n] = d
		machines[n] = feeder.NewMachine(d)
		sims[n] = sim
		members = append(members, lane.Member{Feeder: n, Bay: 0}, lane.Member{Feeder: n, Bay: 1})
	}
	group := lane.NewGroup("T0", members, feeders)
	ps := pressure.NewTracker(pressure.Config{Name: "extruder0", Feeders: names})

	return &fixture{h: h, ps: ps, group: group, feeders: feeders, machines: machines, sims: sims}
}

func (f *fixture) ctx() Context {
	return Context{Host: f.h, PS: f.ps, Group: f.group, Feeders: f.feeders, Machines: f.machines}
}

func (f *fixture) reconcile() {
	f.ps.Reconcile(f.feeders, 0.25)
}

func TestMonitorStartsMonitoringOnceLoaded(t *testing.T) {
	f := newFixture(t, "A")
	m := NewMonitor(Config{PSName: "extruder0", ExtruderName: "extruder0", PauseDistance: 5, CoastDistance: 10})

	m.Step(f.h.Now(), f.ctx())
	assert.Equal(t, Stopped, m.State())

	f.sims["A"].EmitLoaded(0)
	f.sims["A"].SetHubPresent(0, true)
	f.feeders["A"].IngestTick()
	f.reconcile()

	m.Step(f.h.Now(), f.ctx())
	assert.Equal(t, Monitoring, m.State())
}

func TestMonitorRunoutWithBackupReloads(t *testing.T) {
	f := newFixture(t, "A", "B")
	m := NewMonitor(Config{
		PSName: "extruder0", GroupName: "T0", ExtruderName: "extruder0",
		PauseDistance: 5, CoastDistance: 10, BowdenClearGrace: 200 * time.Millisecond,
	})

	// A is loaded in bay 0; B's bay 0 is ready as backup.
	f.sims["A"].EmitLoaded(0)
	f.sims["A"].SetHubPresent(0, true)
	f.sims["B"].SetFilamentPresent(0, true)
	f.feeders["A"].IngestTick()
	f.feeders["B"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Monitoring, m.State())

	// Runout: A's hub presence disappears.
	f.sims["A"].SetHubPresent(0, false)
	f.feeders["A"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Detected, m.State())

	// Coasting begins once extruder has moved PauseDistance.
	f.h.AdvanceExtruder("extruder0", 5)
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Coasting, m.State())

	// Not yet far enough, and bowden-clear grace hasn't been satisfied.
	f.sims["A"].SetPressure(0.1) // below PressureLower, starts grace timer
	f.feeders["A"].IngestTick()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Coasting, m.State())

	f.h.AdvanceExtruder("extruder0", 10)
	f.h.Advance(200 * time.Millisecond)
	f.feeders["A"].IngestTick()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Reloading, m.State(), "coast distance and bowden-clear grace both satisfied")

	// The backup machine completes its load ticket.
	f.sims["B"].EmitLoaded(0)
	f.sims["B"].SetHubPresent(0, true)
	f.sims["B"].SetPressure(0.7)
	f.sims["B"].AdvanceEncoder(10)
	f.feeders["B"].IngestTick()
	f.machines["B"].Step(f.h.Now())

	m.Step(f.h.Now(), f.ctx())
	assert.Equal(t, Monitoring, m.State())
	assert.True(t, m.Owns("B") == false, "machine resolved, monitor no longer owns it")
}

func TestMonitorRunoutWithoutBackupPauses(t *testing.T) {
	f := newFixture(t, "A")
	m := NewMonitor(Config{
		PSName: "extruder0", GroupName: "T0", ExtruderName: "extruder0",
		PauseDistance: 5, CoastDistance: 10,
	})

	f.sims["A"].EmitLoaded(0)
	f.sims["A"].SetHubPresent(0, true)
	f.feeders["A"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Monitoring, m.State())

	f.sims["A"].SetHubPresent(0, false)
	f.feeders["A"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Detected, m.State())

	f.h.AdvanceExtruder("extruder0", 5)
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Coasting, m.State(), "pause_distance alone only coasts; table pauses from COASTING")

	f.h.AdvanceExtruder("extruder0", 5)
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Paused, m.State(), "no available backup lane in group T0")
	assert.NotEmpty(t, f.h.PauseReasons())
}

func TestMonitorDisableForcesStopped(t *testing.T) {
	f := newFixture(t, "A")
	m := NewMonitor(Config{PSName: "extruder0", ExtruderName: "extruder0", PauseDistance: 5, CoastDistance: 10})
	f.sims["A"].EmitLoaded(0)
	f.sims["A"].SetHubPresent(0, true)
	f.feeders["A"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Monitoring, m.State())

	m.Disable()
	assert.Equal(t, Stopped, m.State())
}

func TestMonitorSetOverrideChoosesExplicitLane(t *testing.T) {
	f := newFixture(t, "A", "B")
	m := NewMonitor(Config{
		PSName: "extruder0", GroupName: "T0", ExtruderName: "extruder0",
		PauseDistance: 5, CoastDistance: 10,
	})
	m.SetOverride(lane.Member{Feeder: "B", Bay: 1})

	f.sims["A"].EmitLoaded(0)
	f.sims["A"].SetHubPresent(0, true)
	f.sims["B"].SetFilamentPresent(1, true)
	f.feeders["A"].IngestTick()
	f.feeders["B"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Monitoring, m.State())

	f.sims["A"].SetHubPresent(0, false)
	f.feeders["A"].IngestTick()
	f.reconcile()
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Detected, m.State())

	f.h.AdvanceExtruder("extruder0", 5)
	m.Step(f.h.Now(), f.ctx())
	require.Equal(t, Coasting, m.State())

	f.h.AdvanceExtruder("extruder0", 10)
	f.sims["A"].SetPressure(0.1)
	f.feeders["A"].IngestTick()
	f.h.Advance(0)
	m.Step(f.h.Now(), f.ctx())
	// Grace window is zero in this Config, so bowden-clear is immediate.
	require.Equal(t, Reloading, m.State())
}
