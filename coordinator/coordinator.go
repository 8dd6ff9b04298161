// Package coordinator implements the Coordinator, C7 in spec.md §4.7:
// the facade that owns every feeder, PS tracker, lane group, runout
// monitor, and clog detector by name, registers the periodic tick with
// the host, and exposes the gcode-level command surface (spec.md §6).
//
// Per spec.md §9's redesign note on cyclic references ("Coordinator
// owns all; Feeder and PS hold names/indices to look up peers via
// Coordinator, not direct back-pointers"), every cross-component
// lookup here is a map access by name, never a stored pointer on the
// components themselves.
package coordinator

import (
	"fmt"
	"time"

	"oams/clog"
	"oams/feeder"
	"oams/host"
	"oams/lane"
	"oams/mcu"
	"oams/models"
	"oams/oamserr"
	"oams/pressure"
	"oams/runout"
	"oams/telemetry/events"
	"oams/telemetry/logging"
	"oams/telemetry/metrics"
)

// TickPeriod is spec.md §5's fixed coordinator tick period.
const TickPeriod = 250 * time.Millisecond

// psBinding is the Coordinator's private record of which lane group
// backs a PS's runout monitor (extruder binding lives on the
// runout/clog Config values themselves).
type psBinding struct {
	groupName string
}

// instruments bundles the Prometheus/OTel-backed gauges and counters
// the Coordinator updates each tick, grounded on the per-component
// instrument fields of engine/telemetry/metrics' consumers (e.g.
// engine/resources.Manager's acquire/release counters).
type instruments struct {
	pressureGauge metrics.Gauge
	encoderGauge  metrics.Gauge
	retryCounter  metrics.Counter
	runoutCounter metrics.Counter
	clogCounter   metrics.Counter
}

func newInstruments(provider metrics.Provider) instruments {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return instruments{
		pressureGauge: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "oams", Subsystem: "feeder", Name: "pressure", Help: "latest normalized PS pressure reading",
			Labels: []string{"feeder"},
		}}),
		encoderGauge: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "oams", Subsystem: "feeder", Name: "encoder_ticks", Help: "latest signed encoder accumulator",
			Labels: []string{"feeder"},
		}}),
		retryCounter: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "oams", Subsystem: "feeder", Name: "retries_total", Help: "watchdog-triggered load/unload retries",
			Labels: []string{"feeder"},
		}}),
		runoutCounter: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "oams", Subsystem: "runout", Name: "reloads_total", Help: "runout-triggered reloads completed",
			Labels: []string{"ps"},
		}}),
		clogCounter: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "oams", Subsystem: "clog", Name: "detected_total", Help: "clog detections raised",
			Labels: []string{"ps"},
		}}),
	}
}

// Coordinator is C7.
type Coordinator struct {
	h    host.Host
	bus  events.Bus
	log  logging.Logger
	inst instruments

	feeders  map[string]*feeder.Driver
	machines map[string]*feeder.Machine
	ps       map[string]*pressure.Tracker
	groups   map[string]*lane.Group
	runouts  map[string]*runout.Monitor // keyed by PS name
	clogs    map[string]*clog.Detector  // keyed by PS name

	psBindings map[string]psBinding
	timer      host.TimerHandle
}

// New constructs an empty Coordinator. Call the Add* methods to wire
// feeders, PS trackers, lane groups, and monitors before Start. provider
// may be nil to skip metrics instrumentation (tests typically pass nil).
func New(h host.Host, bus events.Bus, log logging.Logger, provider metrics.Provider) *Coordinator {
	return &Coordinator{
		h:          h,
		bus:        bus,
		log:        log,
		inst:       newInstruments(provider),
		feeders:    make(map[string]*feeder.Driver),
		machines:   make(map[string]*feeder.Machine),
		ps:         make(map[string]*pressure.Tracker),
		groups:     make(map[string]*lane.Group),
		runouts:    make(map[string]*runout.Monitor),
		clogs:      make(map[string]*clog.Detector),
		psBindings: make(map[string]psBinding),
	}
}

// AddFeeder registers a feeder and its watchdog/retry machine.
func (c *Coordinator) AddFeeder(cfg feeder.Config, transport mcu.Transport) *feeder.Driver {
	d := feeder.NewDriver(cfg, transport)
	c.feeders[cfg.Name] = d
	c.machines[cfg.Name] = feeder.NewMachine(d)
	return d
}

// AddPS registers a pressure sensor tracker.
func (c *Coordinator) AddPS(cfg pressure.Config) *pressure.Tracker {
	t := pressure.NewTracker(cfg)
	c.ps[cfg.Name] = t
	return t
}

// AddLaneGroup registers a named lane group.
func (c *Coordinator) AddLaneGroup(name string, members []lane.Member) *lane.Group {
	g := lane.NewGroup(name, members, c.feeders)
	c.groups[name] = g
	return g
}

// AddRunoutMonitor registers a runout monitor for one PS, bound to
// groupName for backup-lane selection.
func (c *Coordinator) AddRunoutMonitor(cfg runout.Config) *runout.Monitor {
	m := runout.NewMonitor(cfg)
	c.runouts[cfg.PSName] = m
	b := c.psBindings[cfg.PSName]
	b.groupName = cfg.GroupName
	c.psBindings[cfg.PSName] = b
	return m
}

// AddClogDetector registers a clog detector for one PS.
func (c *Coordinator) AddClogDetector(cfg clog.Config) *clog.Detector {
	d := clog.NewDetector(cfg)
	c.clogs[cfg.PSName] = d
	return d
}

// Start registers the periodic tick and every gcode handler with the
// host. Call once, after every Add* call.
func (c *Coordinator) Start() {
	c.timer = c.h.RegisterTimer(TickPeriod, c.Tick)
	c.h.RegisterGCode("OAMS_LOAD_SPOOL", c.handleLoadSpool)
	c.h.RegisterGCode("OAMS_UNLOAD_SPOOL", c.handleUnloadSpool)
	c.h.RegisterGCode("OAMS_FOLLOWER", c.handleFollower)
	c.h.RegisterGCode("SET_RUNOUT", c.handleSetRunout)
	c.h.RegisterGCode("OAMS_CALIBRATE_HUB", c.handleCalibrateDelegated)
	c.h.RegisterGCode("OAMS_CALIBRATE_BOWDEN", c.handleCalibrateDelegated)
}

// Stop cancels the periodic tick.
func (c *Coordinator) Stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Tick advances every owned component by one period, in the fixed
// order spec.md §4.7 and §5 require: telemetry intake, PS reconcile,
// runout step, clog step, retry/watchdog step. Ordering guarantee (b)
// (every monitor sees a consistent tick-entry snapshot) follows from
// intake running to completion, for every feeder, before any monitor
// reads a Driver.Snapshot.
func (c *Coordinator) Tick(now time.Time) {
	dt := TickPeriod.Seconds()

	for name, d := range c.feeders {
		for _, ev := range d.IngestTick() {
			c.bus.Publish(events.Event{
				Category: events.CategoryFeeder,
				Type:     eventTypeName(ev.Kind),
				Labels:   map[string]string{"feeder": name},
			})
		}
		snap := d.Snapshot()
		c.inst.pressureGauge.Set(snap.Pressure, name)
		c.inst.encoderGauge.Set(float64(snap.Encoder), name)
	}

	for _, p := range c.ps {
		p.Reconcile(c.feeders, dt)
	}

	for psName, m := range c.runouts {
		prev := m.State()
		m.Step(now, runout.Context{
			Host:     c.h,
			PS:       c.ps[psName],
			Group:    c.groups[c.psBindings[psName].groupName],
			Feeders:  c.feeders,
			Machines: c.machines,
		})
		if prev == runout.Reloading && m.State() == runout.Monitoring {
			c.inst.runoutCounter.Inc(1, psName)
		}
	}

	for psName, d := range c.clogs {
		fname := c.ps[psName].CurrentFeeder()
		tripped := d.Step(clog.Context{
			Host: c.h,
			PS:   c.ps[psName],
			Encoder: func() (int32, bool) {
				f, ok := c.feeders[fname]
				if !ok {
					return 0, false
				}
				return f.Snapshot().Encoder, true
			},
		})
		if tripped {
			c.log.Warn("clog detected", "ps", psName)
			c.inst.clogCounter.Inc(1, psName)
			c.bus.Publish(events.Event{Category: events.CategoryClog, Type: "clog_detected", Labels: map[string]string{"ps": psName}})
		}
	}

	for name, m := range c.machines {
		if !m.Busy() {
			continue
		}
		prevState := m.State()
		done, err := m.Step(now)
		if !done {
			if prevState == feeder.Attempting && m.State() == feeder.StuckWait {
				c.inst.retryCounter.Inc(1, name)
			}
			continue
		}
		if c.anyRunoutOwns(name) {
			continue // the owning monitor observes and resets next tick
		}
		if err != nil {
			c.log.Warn("ticket resolved with failure", "feeder", name, "error", err.Error())
			c.h.Respond(err.Error())
		} else {
			c.h.Respond("OK")
		}
		c.bus.Publish(events.Event{Category: events.CategoryCommand, Type: "ticket_resolved", Labels: map[string]string{"feeder": name}})
		m.Reset()
	}
}

func (c *Coordinator) anyRunoutOwns(feederName string) bool {
	for _, m := range c.runouts {
		if m.Owns(feederName) {
			return true
		}
	}
	return false
}

func eventTypeName(k mcu.Kind) string {
	switch k {
	case mcu.EventLoaded:
		return "loaded"
	case mcu.EventUnloaded:
		return "unloaded"
	case mcu.EventError:
		return "error"
	default:
		return "unknown"
	}
}

// --- gcode command surface (spec.md §6) ---

func (c *Coordinator) handleLoadSpool(params map[string]string) error {
	// spec.md §6: "GROUP=name? LANE=name?" — the glossary treats "lane"
	// and "group" as the same named ordered set of (feeder, bay) pairs,
	// so LANE is honored as a fallback group name, resolved against the
	// same registry, when GROUP is absent (GROUP wins if both are given).
	groupName := params["GROUP"]
	if groupName == "" {
		groupName = params["LANE"]
	}
	group, ok := c.groups[groupName]
	if !ok {
		return oamserr.New(oamserr.NotReady, params["FPS"], fmt.Sprintf("unknown group %q", groupName))
	}
	member, ok := group.GetNextAvailable()
	if !ok {
		return oamserr.New(oamserr.NotReady, params["FPS"], "no available bay in group")
	}
	machine, ok := c.machines[member.Feeder]
	if !ok {
		return oamserr.New(oamserr.NotReady, params["FPS"], fmt.Sprintf("unknown feeder %q", member.Feeder))
	}
	_, err := machine.StartLoad(member.Bay, c.h.Now())
	return err
}

func (c *Coordinator) handleUnloadSpool(params map[string]string) error {
	ps, ok := c.ps[params["FPS"]]
	if !ok {
		return oamserr.New(oamserr.NotReady, params["FPS"], "unknown PS")
	}
	fname := ps.CurrentFeeder()
	if fname == "" {
		return oamserr.New(oamserr.NotReady, params["FPS"], "nothing loaded")
	}
	machine := c.machines[fname]
	_, err := machine.StartUnload(c.h.Now())
	return err
}

func (c *Coordinator) handleFollower(params map[string]string) error {
	ps, ok := c.ps[params["FPS"]]
	if !ok {
		return oamserr.New(oamserr.NotReady, params["FPS"], "unknown PS")
	}
	fname := ps.CurrentFeeder()
	if fname == "" {
		// spec.md §6 lists exit NOT_LOADED; §7's taxonomy has no
		// separate kind for it, so NOT_READY stands in.
		return oamserr.New(oamserr.NotReady, params["FPS"], "not loaded")
	}
	f := c.feeders[fname]
	enable := params["ENABLE"] == "1"
	dir := models.Forward
	if params["DIRECTION"] == "1" {
		dir = models.Reverse
	}
	if err := f.SetFollower(enable, dir); err != nil {
		return err
	}
	ps.NoteFollower(fname, enable, dir)
	return nil
}

func (c *Coordinator) handleSetRunout(params map[string]string) error {
	laneName := params["LANE"]
	m, ok := c.runouts[c.monitorForGroup(laneName)]
	if !ok {
		return oamserr.New(oamserr.NotReady, "", fmt.Sprintf("no runout monitor bound to lane %q", laneName))
	}
	member, err := lane.ParseMemberToken(params["RUNOUT"])
	if err != nil {
		return oamserr.New(oamserr.NotReady, "", err.Error())
	}
	m.SetOverride(member)
	return nil
}

func (c *Coordinator) monitorForGroup(groupName string) string {
	for psName, b := range c.psBindings {
		if b.groupName == groupName {
			return psName
		}
	}
	return ""
}

// handleCalibrateDelegated implements OAMS_CALIBRATE_* (spec.md §6:
// "Delegated to collaborator") — calibration is out of this module's
// scope (spec.md §1's non-goals include "persisting calibration"), so
// the handler only acknowledges the command.
func (c *Coordinator) handleCalibrateDelegated(params map[string]string) error {
	c.h.Respond("OK")
	return nil
}

// Snapshot aggregates feeder state and per-PS state (load state, bay,
// runout state, clog flag) for health/metrics surfaces, grounded on the
// Engine.Snapshot() rollup in engine/engine.go. Lane groups are not
// included.
type Snapshot struct {
	Feeders map[string]feeder.FeederState `json:"feeders"`
	PS      map[string]PSSnapshot         `json:"pressure_sensors"`
}

// PSSnapshot is one PS's externally-visible state.
type PSSnapshot struct {
	LoadState   models.LoadState   `json:"load_state"`
	Bay         models.Bay         `json:"bay"`
	RunoutState runout.RunoutState `json:"runout_state"`
	ClogTripped bool               `json:"clog_tripped"`
}

func (c *Coordinator) Snapshot() Snapshot {
	snap := Snapshot{
		Feeders: make(map[string]feeder.FeederState, len(c.feeders)),
		PS:      make(map[string]PSSnapshot, len(c.ps)),
	}
	for name, d := range c.feeders {
		snap.Feeders[name] = d.Snapshot()
	}
	for name, p := range c.ps {
		ps := PSSnapshot{LoadState: p.State(), Bay: p.Bay()}
		if m, ok := c.runouts[name]; ok {
			ps.RunoutState = m.State()
		}
		if d, ok := c.clogs[name]; ok {
			ps.ClogTripped = d.Tripped()
		}
		snap.PS[name] = ps
	}
	return snap
}
