// Package runout implements the Runout Monitor, C5 in spec.md §4.5: a
// per-PS state machine that detects hub-presence loss on the feeding
// bay, coasts the extruder travel budget, and reloads from a backup
// lane before the spool actually runs dry.
package runout

import (
	"fmt"
	"time"

	"oams/feeder"
	"oams/host"
	"oams/lane"
	"oams/models"
	"oams/oamserr"
	"oams/pressure"
)

// RunoutState is C5's own state, spec.md §4.5's transition table.
type RunoutState uint8

const (
	Stopped RunoutState = iota
	Monitoring
	Detected
	Coasting
	Reloading
	Paused
)

func (s RunoutState) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Monitoring:
		return "MONITORING"
	case Detected:
		return "DETECTED"
	case Coasting:
		return "COASTING"
	case Reloading:
		return "RELOADING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Config holds one PS's runout configuration (spec.md §6, manager
// section: reload_before_toolhead_distance; pause_distance is not
// separately exposed in §6's surface, so it defaults equal to the
// coast distance unless set explicitly).
type Config struct {
	PSName           string
	GroupName        string
	ExtruderName     string
	PauseDistance    float64
	CoastDistance    float64
	BowdenClearGrace time.Duration
}

// Context bundles the collaborators Monitor needs for one Step call.
// Constructed fresh by the Coordinator each tick from its owned maps,
// per spec.md §3's "weak relations — lookup by name, never ownership".
type Context struct {
	Host     host.Host
	PS       *pressure.Tracker
	Group    *lane.Group
	Feeders  map[string]*feeder.Driver
	Machines map[string]*feeder.Machine
}

// Monitor is C5. One Monitor exists per PS.
type Monitor struct {
	cfg   Config
	state RunoutState

	feedingFeeder string
	feedingBay    models.Bay

	triggerPos      *float64
	triggerFeeder   string
	belowLowerSince *time.Time
	override        *lane.Member
	chosen          lane.Member
}

// NewMonitor constructs a Monitor, initially STOPPED.
func NewMonitor(cfg Config) *Monitor {
	if cfg.PauseDistance == 0 {
		cfg.PauseDistance = cfg.CoastDistance
	}
	return &Monitor{cfg: cfg, state: Stopped}
}

func (m *Monitor) State() RunoutState { return m.state }

// Owns reports whether this monitor currently has feederName's machine
// in flight on its behalf (RELOADING), so the Coordinator's generic
// ticket-resolution step can leave that ticket's Reset to stepReloading
// instead of resolving it twice (no Respond is sent for it).
func (m *Monitor) Owns(feederName string) bool {
	return m.state == Reloading && m.chosen.Feeder == feederName
}

// SetOverride records an explicit SET_RUNOUT override (spec.md §4.5,
// lane selection step (1)).
func (m *Monitor) SetOverride(target lane.Member) { m.override = &target }

// ClearOverride removes any explicit override.
func (m *Monitor) ClearOverride() { m.override = nil }

// Disable forces STOPPED from any state (spec.md §4.5, "any non-STOPPED
// | explicit disable | STOPPED").
func (m *Monitor) Disable() {
	m.state = Stopped
	m.feedingFeeder = ""
	m.triggerPos = nil
	m.triggerFeeder = ""
	m.belowLowerSince = nil
}

// Step advances the monitor by one tick.
func (m *Monitor) Step(now time.Time, ctx Context) {
	switch m.state {
	case Stopped:
		if ctx.PS.State() == models.Loaded {
			// Latch the feeding feeder/bay now, while the tracker still
			// reports them: Reconcile reverts CurrentFeeder()/State() the
			// instant hub presence disappears, the same tick stepMonitoring
			// needs to notice it, so it cannot re-derive them later.
			m.feedingFeeder = ctx.PS.CurrentFeeder()
			m.feedingBay = ctx.PS.Bay()
			m.state = Monitoring
		}
	case Monitoring:
		m.stepMonitoring(ctx)
	case Detected:
		m.stepDetected(now, ctx)
	case Coasting:
		m.stepCoasting(now, ctx)
	case Reloading:
		m.stepReloading(ctx)
	case Paused:
		// terminal until Disable or an operator reload.
	}
}

func (m *Monitor) stepMonitoring(ctx Context) {
	f, ok := ctx.Feeders[m.feedingFeeder]
	if !ok {
		return
	}
	if !f.Snapshot().HubPresent[m.feedingBay] {
		pos, err := ctx.Host.ExtruderPosition(m.cfg.ExtruderName)
		if err != nil {
			return
		}
		p := pos
		m.triggerPos = &p
		m.triggerFeeder = m.feedingFeeder
		m.state = Detected
	}
}

func (m *Monitor) stepDetected(now time.Time, ctx Context) {
	pos, err := ctx.Host.ExtruderPosition(m.cfg.ExtruderName)
	if err != nil || m.triggerPos == nil {
		return
	}
	if pos-*m.triggerPos < m.cfg.PauseDistance {
		return
	}

	if m.triggerFeeder != "" {
		if f, ok := ctx.Feeders[m.triggerFeeder]; ok {
			f.SetFollower(false, models.Forward)
		}
	}

	// spec.md §4.5's table always takes DETECTED→COASTING once
	// pause_distance is reached; "no replacement available" is the
	// COASTING row's own transition to PAUSED, evaluated again (and,
	// if still unavailable, acted on) once coast conditions are met in
	// stepCoasting — not here. Latching a tentative pick now only
	// primes the first of the table's two lane-selection evaluations.
	if next, ok := m.selectNext(ctx); ok {
		m.chosen = next
	}
	m.belowLowerSince = nil
	m.state = Coasting
}

func (m *Monitor) stepCoasting(now time.Time, ctx Context) {
	pos, err := ctx.Host.ExtruderPosition(m.cfg.ExtruderName)
	if err != nil || m.triggerPos == nil {
		return
	}
	distanceOK := pos-*m.triggerPos >= m.cfg.CoastDistance

	fname := m.triggerFeeder
	bowdenClear := false
	if f, ok := ctx.Feeders[fname]; ok {
		if f.Snapshot().Pressure < f.Config().PressureLower {
			if m.belowLowerSince == nil {
				t := now
				m.belowLowerSince = &t
			}
			bowdenClear = now.Sub(*m.belowLowerSince) >= m.cfg.BowdenClearGrace
		} else {
			m.belowLowerSince = nil
		}
	}

	if !distanceOK || !bowdenClear {
		return
	}

	// Re-evaluate lane selection once more, per spec.md §4.5, to avoid
	// racing an operator who just loaded a spool by hand.
	next, ok := m.selectNext(ctx)
	if !ok {
		m.toPaused(ctx, oamserr.NoRunoutBackup)
		return
	}
	m.chosen = next

	machine, ok := ctx.Machines[next.Feeder]
	if !ok {
		m.toPaused(ctx, oamserr.NoRunoutBackup)
		return
	}
	if _, err := machine.StartLoad(next.Bay, now); err != nil {
		m.toPaused(ctx, oamserr.LoadFailed)
		return
	}
	m.state = Reloading
}

func (m *Monitor) stepReloading(ctx Context) {
	machine, ok := ctx.Machines[m.chosen.Feeder]
	if !ok {
		return
	}
	switch machine.State() {
	case feeder.DoneOK:
		machine.Reset()
		if f, ok := ctx.Feeders[m.chosen.Feeder]; ok {
			f.SetFollower(true, models.Forward)
		}
		m.feedingFeeder = m.chosen.Feeder
		m.feedingBay = m.chosen.Bay
		m.triggerPos = nil
		m.triggerFeeder = ""
		m.state = Monitoring
	case feeder.DoneFail:
		machine.Reset()
		m.toPaused(ctx, oamserr.LoadFailed)
	}
}

func (m *Monitor) toPaused(ctx Context, reason oamserr.Kind) {
	m.state = Paused
	ctx.Host.PausePrint(fmt.Sprintf("%s: %s", reason, m.cfg.PSName))
}

// selectNext applies spec.md §4.5's ordering: explicit override, then
// next-available in the bound lane group, else none.
func (m *Monitor) selectNext(ctx Context) (lane.Member, bool) {
	if m.override != nil {
		return *m.override, true
	}
	if ctx.Group == nil {
		return lane.Member{}, false
	}
	return ctx.Group.GetNextAvailable()
}
