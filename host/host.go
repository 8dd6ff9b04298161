// Package host defines the collaborator surface the control core
// consumes from the print-controller (spec.md §6, "Host interface
// consumed") and from the feeder MCUs is handled separately by
// package mcu. Per spec.md §9's redesign note ("Global singleton
// 'printer' object... Strategy: pass a Host interface into the
// Coordinator at init; never access a global"), nothing in this
// module reaches for a process-wide singleton — every entity that
// needs time, timers, or print-controller services receives a Host
// at construction.
package host

import "time"

// GCodeHandler services one gcode-level command (spec.md §6, command
// surface table). It returns nil for OK or a *oamserr.ControlError
// (imported by callers, not referenced here to avoid a dependency
// cycle) for any other outcome.
type GCodeHandler func(params map[string]string) error

// TimerHandle cancels a periodic registration. Grounded on the
// Clock/Sleep seam in engine/ratelimit/clock.go, generalized from a
// single Sleep call to a repeating timer since the coordinator and
// watchdog both need recurring ticks rather than one-shot delays.
type TimerHandle interface {
	Stop()
}

// Host is the facade the Coordinator is constructed with. SimHost
// (sim.go) is the deterministic in-memory implementation used by
// tests; a production binary supplies an adapter over the real
// print-controller's reactor (out of scope per spec.md §1).
type Host interface {
	// Now returns the host's monotonic time base.
	Now() time.Time

	// RegisterTimer schedules fn to run every period, starting after
	// one period elapses. The returned handle stops future firings.
	RegisterTimer(period time.Duration, fn func(now time.Time)) TimerHandle

	// ExtruderPosition returns the named extruder's position in mm.
	// Monotone non-decreasing during a print, per spec.md §6.
	ExtruderPosition(name string) (float64, error)

	// PausePrint requests the host pause the active print, surfacing
	// reason to the operator.
	PausePrint(reason string)

	// Respond emits a structured status message to the host console.
	Respond(message string)

	// RegisterGCode binds a command-surface handler under name.
	RegisterGCode(name string, handler GCodeHandler)
}
