// Package oamserr defines the control core's closed error taxonomy
// (spec.md §7). Commands never panic or use exceptions for control
// flow (spec.md §9, "Exceptions as control flow... Strategy: explicit
// result variants"); every failure is a *ControlError wrapping one of
// the Kind constants, checkable with errors.Is against the Kind
// sentinels below — the same pattern as ratelimit.ErrCircuitOpen in
// the ratelimit package this module's retry engine is grounded on.
package oamserr

import "fmt"

// Kind enumerates the error taxonomy of spec.md §7.
type Kind string

const (
	NotReady       Kind = "NOT_READY"
	Busy           Kind = "BUSY"
	LoadFailed     Kind = "LOAD_FAILED"
	UnloadFailed   Kind = "UNLOAD_FAILED"
	Timeout        Kind = "TIMEOUT"
	Cancelled      Kind = "CANCELLED"
	ClogDetected   Kind = "CLOG_DETECTED"
	NoRunoutBackup Kind = "NO_RUNOUT_BACKUP"
	McuCommError   Kind = "MCU_COMM_ERROR"
)

// Error returns Kind's string form, satisfying errors.Is comparisons
// against a bare Kind via ControlError.Is below.
func (k Kind) Error() string { return string(k) }

// ControlError is a structured, user-renderable failure (spec.md §7:
// "structured (kind, feeder/PS names, attempt counters) so the host
// surface can render them uniformly").
type ControlError struct {
	Kind    Kind
	Feeder  string
	PS      string
	Attempt int
	Detail  string
}

func (e *ControlError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: feeder=%q ps=%q attempt=%d", e.Kind, e.Feeder, e.PS, e.Attempt)
	}
	return fmt.Sprintf("%s: feeder=%q ps=%q attempt=%d: %s", e.Kind, e.Feeder, e.PS, e.Attempt, e.Detail)
}

// Is allows errors.Is(err, oamserr.NotReady) to match a *ControlError
// carrying that Kind.
func (e *ControlError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

func New(kind Kind, feeder string, detail string) *ControlError {
	return &ControlError{Kind: kind, Feeder: feeder, Detail: detail}
}

func WithPS(kind Kind, feeder, ps string, detail string) *ControlError {
	return &ControlError{Kind: kind, Feeder: feeder, PS: ps, Detail: detail}
}

func WithAttempt(kind Kind, feeder string, attempt int, detail string) *ControlError {
	return &ControlError{Kind: kind, Feeder: feeder, Attempt: attempt, Detail: detail}
}
