package host

import (
	"fmt"
	"sort"
	"time"
)

// simTimer is a periodic registration inside SimHost. Grounded on the
// fakeClock pattern in internal/ratelimit/token_bucket_test.go, widened
// from a bare Now()/Advance() clock to also dispatch due callbacks,
// since the coordinator and watchdog need recurring ticks rather than
// a clock a test merely reads.
type simTimer struct {
	period  time.Duration
	next    time.Time
	fn      func(time.Time)
	stopped bool
}

func (t *simTimer) Stop() { t.stopped = true }

// SimHost is a deterministic, in-memory Host for tests: time only
// moves when Advance is called, so retry-backoff and runout-distance
// scenarios assert exact durations instead of racing a wall clock.
type SimHost struct {
	now         time.Time
	timers      []*simTimer
	extruderPos map[string]float64
	paused      []string
	responses   []string
	handlers    map[string]GCodeHandler
}

func NewSimHost(start time.Time) *SimHost {
	return &SimHost{
		now:         start,
		extruderPos: make(map[string]float64),
		handlers:    make(map[string]GCodeHandler),
	}
}

func (h *SimHost) Now() time.Time { return h.now }

func (h *SimHost) RegisterTimer(period time.Duration, fn func(time.Time)) TimerHandle {
	t := &simTimer{period: period, next: h.now.Add(period), fn: fn}
	h.timers = append(h.timers, t)
	return t
}

func (h *SimHost) ExtruderPosition(name string) (float64, error) {
	pos, ok := h.extruderPos[name]
	if !ok {
		return 0, fmt.Errorf("host: unknown extruder %q", name)
	}
	return pos, nil
}

// SetExtruderPosition seeds or overwrites an extruder's position.
func (h *SimHost) SetExtruderPosition(name string, pos float64) {
	h.extruderPos[name] = pos
}

// AdvanceExtruder moves an extruder forward by delta mm (monotone, per
// spec.md §6).
func (h *SimHost) AdvanceExtruder(name string, delta float64) {
	h.extruderPos[name] += delta
}

func (h *SimHost) PausePrint(reason string) { h.paused = append(h.paused, reason) }

// PauseReasons returns every reason PausePrint was called with, in order.
func (h *SimHost) PauseReasons() []string { return h.paused }

func (h *SimHost) Respond(message string) { h.responses = append(h.responses, message) }

// Responses returns every message passed to Respond, in order.
func (h *SimHost) Responses() []string { return h.responses }

func (h *SimHost) RegisterGCode(name string, handler GCodeHandler) {
	h.handlers[name] = handler
}

// Invoke drives a registered gcode handler directly, the way the real
// host would dispatch an incoming command line.
func (h *SimHost) Invoke(name string, params map[string]string) error {
	fn, ok := h.handlers[name]
	if !ok {
		return fmt.Errorf("host: no handler registered for %q", name)
	}
	return fn(params)
}

// Advance moves the simulated clock forward by d, firing every timer
// whose next deadline falls within [now, now+d], in deadline order,
// rescheduling each for its next period as it fires.
func (h *SimHost) Advance(d time.Duration) {
	target := h.now.Add(d)
	for {
		due := h.dueTimers(target)
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].next.Before(due[j].next) })
		t := due[0]
		h.now = t.next
		t.next = t.next.Add(t.period)
		t.fn(h.now)
	}
	h.now = target
}

func (h *SimHost) dueTimers(target time.Time) []*simTimer {
	var due []*simTimer
	for _, t := range h.timers {
		if t.stopped {
			continue
		}
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	return due
}
