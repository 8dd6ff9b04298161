// Package clog implements the Clog Detector, C6 in spec.md §4.6: a
// sliding-window comparison of commanded extruder travel against
// observed feeder-encoder travel, raised when the feeder is clearly
// not keeping up with the extruder during follower-driven printing.
package clog

import (
	"fmt"

	"oams/host"
	"oams/models"
	"oams/pressure"
)

// Config holds one PS's clog-detection configuration (spec.md §4.6,
// §6's manager clog_sensitivity plus the calibrated ticks-per-mm ratio
// referenced as "k" in §4.6 and §8's worked example).
type Config struct {
	PSName       string
	ExtruderName string
	Sensitivity  models.ClogSensitivity
	Alpha        float64 // default 0.5
	TicksPerMM   float64 // k, calibrated per feeder
}

// DefaultAlpha is spec.md §4.6's default deficit ratio.
const DefaultAlpha = 0.5

type sample struct {
	pos float64
	enc int32
}

// Context bundles the collaborators Detector needs for one tick.
type Context struct {
	Host    host.Host
	PS      *pressure.Tracker
	Encoder func() (int32, bool) // current feeding feeder's cumulative encoder, ok=false if none
}

// Detector is C6. One Detector exists per PS.
type Detector struct {
	cfg       Config
	windowMM  float64
	samples   []sample
	tripped   bool
	lastState models.LoadState
}

// NewDetector constructs a Detector for cfg. windowMM is always derived
// from cfg.Sensitivity; a zero cfg.Alpha is replaced by DefaultAlpha.
func NewDetector(cfg Config) *Detector {
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultAlpha
	}
	return &Detector{cfg: cfg, windowMM: cfg.Sensitivity.WindowMM()}
}

func (d *Detector) Tripped() bool { return d.tripped }

// Step advances the detector by one tick. It returns true exactly once
// per load cycle, the tick a clog is first raised.
func (d *Detector) Step(ctx Context) bool {
	state := ctx.PS.State()
	if d.lastState == models.Loaded && state != models.Loaded {
		d.reset()
	}
	d.lastState = state

	feederName, followerOn, dir := ctx.PS.FollowerStatus()
	active := state == models.Loaded && followerOn && dir == models.Forward && feederName != ""
	if !active {
		d.samples = d.samples[:0]
		return false
	}

	pos, err := ctx.Host.ExtruderPosition(d.cfg.ExtruderName)
	if err != nil {
		return false
	}
	enc, ok := ctx.Encoder()
	if !ok {
		return false
	}

	d.samples = append(d.samples, sample{pos: pos, enc: enc})
	for len(d.samples) > 1 && d.samples[0].pos < pos-d.windowMM {
		d.samples = d.samples[1:]
	}
	if len(d.samples) < 2 {
		return false
	}

	oldest := d.samples[0]
	travel := pos - oldest.pos
	if travel < d.windowMM {
		return false
	}

	encTravel := enc - oldest.enc
	if encTravel < 0 {
		encTravel = -encTravel
	}
	expected := d.cfg.Alpha * d.cfg.TicksPerMM * d.windowMM
	if float64(encTravel) < expected {
		if d.tripped {
			return false
		}
		d.tripped = true
		ctx.Host.PausePrint(fmt.Sprintf("CLOG_DETECTED: %s", d.cfg.PSName))
		return true
	}
	return false
}

func (d *Detector) reset() {
	d.tripped = false
	d.samples = d.samples[:0]
}
