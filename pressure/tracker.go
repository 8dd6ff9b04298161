// Package pressure implements the PS (pressure sensor / load-state)
// tracker, C3 in spec.md §4.3. A Tracker reconciles one physical
// pressure sensor's LoadState each tick by inspecting the feeders
// wired to it, and keeps a bounded, time-evicted ring of recent
// encoder samples used to answer "has there been motion in the last N
// seconds" queries.
package pressure

import (
	"oams/feeder"
	"oams/models"
)

// Config holds one pressure sensor's static configuration (spec.md §6,
// "Per pressure sensor").
type Config struct {
	Name    string
	Feeders []string // names of feeders that can report through this PS
}

// sample is one encoder observation kept for recent-motion queries.
type sample struct {
	t     float64 // seconds since tracker start, monotone
	delta int32
}

// Tracker is C3: one pressure sensor's load-state machine plus its
// recent-motion ring, grounded on the bucket-evict ring in
// internal/ratelimit/sliding_window.go (there keyed by wall time; here
// keyed by the tracker's own elapsed-seconds counter since PS
// reconciliation runs once per 250 ms tick rather than on each request).
type Tracker struct {
	cfg   Config
	state models.LoadState
	bay   models.Bay
	t     float64
	ring  []sample

	currentFeeder string

	followerFeeder string
	followerDir    models.Direction
	followerOn     bool
}

// NewTracker constructs a Tracker for the given configuration, starting
// UNLOADED.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, state: models.Unloaded, bay: models.NoBay}
}

func (t *Tracker) Name() string            { return t.cfg.Name }
func (t *Tracker) State() models.LoadState { return t.state }
func (t *Tracker) Bay() models.Bay         { return t.bay }

// CurrentFeeder returns the name of the feeder currently bound to this
// PS's LOADED/LOADING/UNLOADING state, or "" when UNLOADED.
func (t *Tracker) CurrentFeeder() string { return t.currentFeeder }

// Reconcile updates this PS's LoadState from the feeders wired to it,
// and records one encoder sample for the recent-motion ring. dt is the
// tick period in seconds (spec.md §5, 0.25s).
//
// LoadState derivation (spec.md §4.3): wired feeders are examined in
// configured order, and the first one that matches any rule decides:
//   - Loaded: its current bay has hub presence.
//   - Loading: its HardwareStatus is LOADING.
//   - Unloading: its HardwareStatus is UNLOADING.
//   - Unloaded: no wired feeder matches.
func (t *Tracker) Reconcile(feeders map[string]*feeder.Driver, dt float64) {
	t.t += dt

	var enc int32
	for _, name := range t.cfg.Feeders {
		f, ok := feeders[name]
		if !ok {
			continue
		}
		enc += f.Snapshot().LastDelta
	}
	t.ring = append(t.ring, sample{t: t.t, delta: enc})
	t.evict()

	for _, name := range t.cfg.Feeders {
		f, ok := feeders[name]
		if !ok {
			continue
		}
		snap := f.Snapshot()
		if snap.CurrentBay != models.NoBay && snap.HubPresent[snap.CurrentBay] {
			t.state = models.Loaded
			t.bay = snap.CurrentBay
			t.currentFeeder = name
			return
		}
		switch snap.HardwareStatus {
		case models.HWLoading:
			t.state = models.Loading
			t.bay = models.NoBay
			t.currentFeeder = name
			return
		case models.HWUnloading:
			t.state = models.Unloading
			t.currentFeeder = name
			return
		}
	}
	t.state = models.Unloaded
	t.bay = models.NoBay
	t.currentFeeder = ""
}

// evict drops ring samples older than the longest query window this PS
// is ever asked about. 30s covers every worked example in spec.md §8;
// callers asking for a longer window will simply see a shorter history.
const ringHorizonSeconds = 30

func (t *Tracker) evict() {
	cutoff := t.t - ringHorizonSeconds
	i := 0
	for i < len(t.ring) && t.ring[i].t < cutoff {
		i++
	}
	t.ring = t.ring[i:]
}

// RecentMotion reports whether any encoder movement was observed in
// the last windowSeconds (spec.md §4.3, "recent_motion(window_s)").
func (t *Tracker) RecentMotion(windowSeconds float64) bool {
	cutoff := t.t - windowSeconds
	for i := len(t.ring) - 1; i >= 0; i-- {
		if t.ring[i].t < cutoff {
			break
		}
		if t.ring[i].delta != 0 {
			return true
		}
	}
	return false
}

// NoteFollower records which feeder (if any) is currently driving this
// PS in follower mode, surfaced for diagnostics and health snapshots.
func (t *Tracker) NoteFollower(feederName string, on bool, dir models.Direction) {
	t.followerFeeder = feederName
	t.followerOn = on
	t.followerDir = dir
}

// FollowerStatus returns the last values NoteFollower recorded.
func (t *Tracker) FollowerStatus() (feederName string, on bool, dir models.Direction) {
	return t.followerFeeder, t.followerOn, t.followerDir
}
