// Package feeder implements the per-feeder hardware bridge (C1,
// spec.md §4.1) and the watchdog/retry state machine wrapped around it
// (C2, spec.md §4.2). Driver owns the MCU transport and a cached,
// tick-consistent snapshot of one feeder's hardware state; Machine
// (statemachine.go) drives load/unload attempts to completion.
package feeder

import (
	"fmt"
	"time"

	"oams/mcu"
	"oams/models"
	"oams/oamserr"
)

// Config holds one feeder's static configuration (spec.md §6, "Per
// feeder" section).
type Config struct {
	Name                   string
	PressureUpper          float64
	PressureLower          float64
	LoadRetryMax           int
	UnloadRetryMax         int
	RetryBackoffBase       time.Duration
	RetryBackoffMax        time.Duration
	AutoUnloadOnFailedLoad bool
	MinProgressTicks       int32
	LoadTimeout            time.Duration
	UnloadTimeout          time.Duration
	// LoadSuccessGrace is carried in the configuration (default 2s) but
	// Machine does not read it: a load counts as complete on the first
	// Step where hub presence and pressure above PressureUpper hold
	// together, with no time bound between the two.
	LoadSuccessGrace time.Duration
}

// DefaultConfig returns the spec.md §6 defaults for a feeder named name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		PressureUpper:          0.6,
		PressureLower:          0.2,
		LoadRetryMax:           3,
		UnloadRetryMax:         2,
		RetryBackoffBase:       1 * time.Second,
		RetryBackoffMax:        5 * time.Second,
		AutoUnloadOnFailedLoad: true,
		MinProgressTicks:       4,
		LoadTimeout:            60 * time.Second,
		UnloadTimeout:          60 * time.Second,
		LoadSuccessGrace:       2 * time.Second,
	}
}

// FeederState is the cheap, immutable snapshot returned by Driver.Snapshot.
type FeederState struct {
	Name            string                 `json:"name"`
	FilamentPresent [models.BayCount]bool  `json:"filament_present"`
	HubPresent      [models.BayCount]bool  `json:"hub_present"`
	CurrentBay      models.Bay             `json:"current_bay"`
	HardwareStatus  models.HardwareStatus  `json:"hardware_status"`
	Pressure        float64                `json:"pressure"`
	Encoder         int32                  `json:"encoder"`
	// LastDelta is the signed, wraparound-safe encoder change observed
	// since the previous IngestTick call.
	LastDelta int32 `json:"last_delta"`
}

// Driver is the command/event bridge to one physical feeder MCU (C1).
type Driver struct {
	cfg       Config
	transport mcu.Transport
	state     FeederState
	lastEnc   int32
	errored   bool
}

// NewDriver constructs a Driver bound to transport.
func NewDriver(cfg Config, transport mcu.Transport) *Driver {
	return &Driver{
		cfg:       cfg,
		transport: transport,
		state: FeederState{
			Name:           cfg.Name,
			CurrentBay:     models.NoBay,
			HardwareStatus: models.HWStopped,
		},
	}
}

func (d *Driver) Name() string { return d.cfg.Name }

func (d *Driver) Config() Config { return d.cfg }

// IngestTick pulls the latest telemetry frame and drains pending MCU
// events, refreshing the cached snapshot Driver.Snapshot returns. The
// Coordinator calls this once per feeder at tick entry so that every
// monitor observes a consistent view for the remainder of the tick
// (spec.md §5, ordering guarantee (b)).
func (d *Driver) IngestTick() []mcu.Event {
	tel := d.transport.Snapshot()
	d.state.LastDelta = tel.Encoder - d.lastEnc // wraps correctly: int32 subtraction
	d.lastEnc = tel.Encoder
	d.state.Encoder = tel.Encoder
	d.state.Pressure = tel.Pressure
	d.state.FilamentPresent = tel.FilamentPresent
	d.state.HubPresent = tel.HubPresent
	d.state.HardwareStatus = tel.Status
	if tel.Status == models.HWError {
		d.errored = true
	}

	var drained []mcu.Event
	events := d.transport.Events()
	for {
		select {
		case ev := <-events:
			drained = append(drained, ev)
			d.applyEvent(ev)
		default:
			return drained
		}
	}
}

func (d *Driver) applyEvent(ev mcu.Event) {
	switch ev.Kind {
	case mcu.EventLoaded:
		d.state.CurrentBay = ev.Bay
	case mcu.EventUnloaded:
		d.state.CurrentBay = models.NoBay
	case mcu.EventError:
		d.errored = true
		d.state.HardwareStatus = models.HWError
	}
}

// Snapshot returns the cached FeederState (spec.md §4.1, "cheap,
// immutable copy").
func (d *Driver) Snapshot() FeederState { return d.state }

// Errored reports whether this feeder is barred from new commands
// pending a successful Resync (spec.md §7, MCU_COMM_ERROR).
func (d *Driver) Errored() bool { return d.errored }

// Resync re-queries the MCU to clear an ERROR demotion.
func (d *Driver) Resync() error {
	if err := d.transport.Send(mcu.Command{Kind: mcu.CmdQuery}); err != nil {
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, err.Error())
	}
	d.errored = false
	return nil
}

// IsBayReady reports whether bay b has filament but is not yet threaded
// past the hub (spec.md §4.1).
func (d *Driver) IsBayReady(b models.Bay) bool {
	return d.state.FilamentPresent[b] && !d.state.HubPresent[b]
}

// IsBayLoaded reports whether bay b is the feeder's current, threaded bay.
func (d *Driver) IsBayLoaded(b models.Bay) bool {
	return d.state.HubPresent[b] && d.state.CurrentBay == b
}

// LoadBay issues the MCU load command for bay b (spec.md §4.1). Legal
// only when no bay is current and b is ready; the watchdog/retry
// policy lives in Machine, not here.
func (d *Driver) LoadBay(b models.Bay) error {
	if d.errored {
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, "feeder in ERROR; resync required")
	}
	if d.state.CurrentBay != models.NoBay || !d.IsBayReady(b) {
		return oamserr.New(oamserr.NotReady, d.cfg.Name, fmt.Sprintf("bay %s not ready for load", b))
	}
	if err := d.transport.Send(mcu.Command{Kind: mcu.CmdLoad, Bay: b}); err != nil {
		d.errored = true
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, err.Error())
	}
	d.state.HardwareStatus = models.HWLoading
	return nil
}

// Unload issues the MCU unload command for the current bay.
func (d *Driver) Unload() error {
	if d.errored {
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, "feeder in ERROR; resync required")
	}
	if d.state.CurrentBay == models.NoBay {
		return oamserr.New(oamserr.NotReady, d.cfg.Name, "no bay currently loaded")
	}
	if err := d.transport.Send(mcu.Command{Kind: mcu.CmdUnload}); err != nil {
		d.errored = true
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, err.Error())
	}
	d.state.HardwareStatus = models.HWUnloading
	return nil
}

// SetFollower requests follower mode, closed-loop feeding in sync with
// extruder motion (spec.md glossary, "Follower mode").
func (d *Driver) SetFollower(enable bool, dir models.Direction) error {
	if d.errored {
		return oamserr.New(oamserr.McuCommError, d.cfg.Name, "feeder in ERROR; resync required")
	}
	return d.transport.Send(mcu.Command{Kind: mcu.CmdFollower, Enable: enable, Direction: dir})
}

// Stop halts feeder motion immediately.
func (d *Driver) Stop() error {
	return d.transport.Send(mcu.Command{Kind: mcu.CmdStop})
}
