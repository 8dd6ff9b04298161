package host

import (
	"sync"
	"time"
)

// realTimer wraps a time.Ticker as a TimerHandle.
type realTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *realTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}

// RealHost is a minimal, real-clock Host adapter for running this
// module as a standalone process (the bundled cmd/oams-cli demo). A
// production build embeds inside the host print-controller's own
// reactor instead; spec.md §1 places that reactor out of scope, so
// this adapter is this module's own stand-in harness, not a
// requirement of the control core itself.
type RealHost struct {
	mu          sync.RWMutex
	extruderPos map[string]float64
	pauses      []string
	responses   []string
	handlers    map[string]GCodeHandler
}

// NewRealHost constructs a RealHost with no extruders registered.
func NewRealHost() *RealHost {
	return &RealHost{
		extruderPos: make(map[string]float64),
		handlers:    make(map[string]GCodeHandler),
	}
}

func (h *RealHost) Now() time.Time { return time.Now() }

func (h *RealHost) RegisterTimer(period time.Duration, fn func(now time.Time)) TimerHandle {
	t := &realTimer{ticker: time.NewTicker(period), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case now := <-t.ticker.C:
				fn(now)
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

func (h *RealHost) ExtruderPosition(name string) (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.extruderPos[name], nil
}

// SetExtruderPosition lets the demo harness (or a future real adapter)
// feed extruder motion into the control core.
func (h *RealHost) SetExtruderPosition(name string, pos float64) {
	h.mu.Lock()
	h.extruderPos[name] = pos
	h.mu.Unlock()
}

func (h *RealHost) PausePrint(reason string) {
	h.mu.Lock()
	h.pauses = append(h.pauses, reason)
	h.mu.Unlock()
}

func (h *RealHost) Respond(message string) {
	h.mu.Lock()
	h.responses = append(h.responses, message)
	h.mu.Unlock()
}

// Responses returns every message passed to Respond so far.
func (h *RealHost) Responses() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.responses))
	copy(out, h.responses)
	return out
}

func (h *RealHost) RegisterGCode(name string, handler GCodeHandler) {
	h.mu.Lock()
	h.handlers[name] = handler
	h.mu.Unlock()
}

// Invoke dispatches a named gcode command the way the real host's
// command parser would.
func (h *RealHost) Invoke(name string, params map[string]string) error {
	h.mu.RLock()
	fn, ok := h.handlers[name]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return fn(params)
}
