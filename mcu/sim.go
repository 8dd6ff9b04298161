package mcu

import "oams/models"

// Simulator is a deterministic, fully test-scripted feeder MCU. It
// never emits anything on its own initiative; test code drives every
// sensor change and asynchronous event explicitly, the same way
// engine/internal/testutil/httpmock/server.go lets a test script
// exactly what a fake HTTP backend returns rather than emulating real
// network behavior.
type Simulator struct {
	telemetry Telemetry
	events    chan Event
	lastCmd   Command
}

// NewSimulator returns a Simulator with all bays empty and STOPPED.
func NewSimulator() *Simulator {
	return &Simulator{
		telemetry: Telemetry{Status: models.HWStopped},
		events:    make(chan Event, 32),
	}
}

func (s *Simulator) Send(cmd Command) error {
	s.lastCmd = cmd
	switch cmd.Kind {
	case CmdLoad:
		s.telemetry.Status = models.HWLoading
	case CmdUnload:
		s.telemetry.Status = models.HWUnloading
	case CmdStop:
		s.telemetry.Status = models.HWStopped
	case CmdFollower:
		if !cmd.Enable {
			s.telemetry.Status = models.HWStopped
		} else if cmd.Direction == models.Reverse {
			s.telemetry.Status = models.HWReverse
		} else {
			s.telemetry.Status = models.HWForward
		}
	case CmdQuery:
		// no status change; used for MCU_COMM_ERROR re-sync.
	}
	return nil
}

func (s *Simulator) Snapshot() Telemetry { return s.telemetry }

func (s *Simulator) Events() <-chan Event { return s.events }

// LastCommand returns the most recent command Send received, for test
// assertions.
func (s *Simulator) LastCommand() Command { return s.lastCmd }

// SetFilamentPresent scripts bay b's filament-detect sensor.
func (s *Simulator) SetFilamentPresent(b models.Bay, present bool) {
	s.telemetry.FilamentPresent[b] = present
}

// SetHubPresent scripts bay b's hub-presence sensor.
func (s *Simulator) SetHubPresent(b models.Bay, present bool) {
	s.telemetry.HubPresent[b] = present
}

// SetPressure scripts the PS analog reading relayed through this feeder.
func (s *Simulator) SetPressure(p float64) { s.telemetry.Pressure = p }

// AdvanceEncoder moves the encoder accumulator by delta ticks, wrapping
// per spec.md §4.1's signed-32-bit accumulator semantics.
func (s *Simulator) AdvanceEncoder(delta int32) {
	s.telemetry.Encoder += delta
}

// SetStatus forces the reported hardware status, used to script
// MCU_COMM_ERROR and recovery scenarios.
func (s *Simulator) SetStatus(status models.HardwareStatus) {
	s.telemetry.Status = status
}

func (s *Simulator) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// EmitLoaded scripts the aperiodic loaded(bay) event.
func (s *Simulator) EmitLoaded(b models.Bay) { s.emit(Event{Kind: EventLoaded, Bay: b}) }

// EmitUnloaded scripts the aperiodic unloaded event.
func (s *Simulator) EmitUnloaded() { s.emit(Event{Kind: EventUnloaded}) }

// EmitError scripts the aperiodic error(code) event.
func (s *Simulator) EmitError(code string) { s.emit(Event{Kind: EventError, Code: code}) }
