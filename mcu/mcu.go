// Package mcu models the command/event interface spec.md §6 defines
// between a Feeder Driver and its physical feeder microcontroller.
// Transport is the abstract capability (analogous to the Fetcher
// interface in engine/crawler/fetcher.go: a small, swappable boundary
// between this module's logic and an external collaborator); Simulator
// (sim.go) is the concrete, fully-scripted fake used by tests and the
// bundled demo, grounded on the scripted-fake-backend shape of
// engine/internal/testutil/httpmock/server.go.
package mcu

import "oams/models"

// CommandKind enumerates the MCU commands out (spec.md §6).
type CommandKind uint8

const (
	CmdLoad CommandKind = iota
	CmdUnload
	CmdFollower
	CmdStop
	CmdQuery
)

// Command is one outbound instruction to a feeder MCU.
type Command struct {
	Kind      CommandKind
	Bay       models.Bay
	Enable    bool
	Direction models.Direction
}

// Telemetry is one periodic frame reported by the MCU (spec.md §6,
// ">= 10 Hz"). Pressure is normalized to [0,1]; Encoder is a signed
// 32-bit accumulator that wraps, per spec.md §4.1.
type Telemetry struct {
	Pressure        float64
	Encoder         int32
	FilamentPresent [models.BayCount]bool
	HubPresent      [models.BayCount]bool
	Status          models.HardwareStatus
}

// EventKind enumerates the MCU's aperiodic events (spec.md §6).
type EventKind uint8

const (
	EventLoaded EventKind = iota
	EventUnloaded
	EventError
)

// Event is one aperiodic notification from a feeder MCU.
type Event struct {
	Kind Kind
	Bay  models.Bay
	Code string
}

// Kind is an alias retained for readability at call sites (Event.Kind
// reads as an EventKind, not a bare int).
type Kind = EventKind

// Transport is the per-feeder command/event bridge a Feeder Driver is
// constructed with. Implementations must never block the caller for
// more than the tick budget in spec.md §5.
type Transport interface {
	// Send issues one command to the MCU.
	Send(cmd Command) error

	// Snapshot returns the most recently received telemetry frame.
	Snapshot() Telemetry

	// Events returns the channel aperiodic MCU events arrive on. The
	// channel is never closed for the lifetime of the Transport.
	Events() <-chan Event
}
