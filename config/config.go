// Package config loads and hot-reloads the control core's YAML
// configuration surface (spec.md §6), grounded on the config loading
// and fsnotify-based hot reload in
// engine/internal/runtime/runtime.go — trimmed to this module's needs:
// no A/B testing, no version rollback, no checksums, since the control
// core has nothing resembling traffic-split experiments to manage.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"oams/models"
)

// FeederConfig is one feeder's section (spec.md §6, "Per feeder").
//
// RetryBackoffBase/RetryBackoffMax are Go duration strings (e.g. "1s",
// "5s"), not bare integers: yaml.v3 unmarshals a time.Duration field as
// integer nanoseconds, which a hand-written "1s" in the YAML file would
// fail to parse as. RetryBackoffBaseDuration/RetryBackoffMaxDuration
// parse them.
type FeederConfig struct {
	Name                   string  `yaml:"name"`
	PressureUpper          float64 `yaml:"pressure_upper"`
	PressureLower          float64 `yaml:"pressure_lower"`
	F1sHesOn               [4]bool `yaml:"f1s_hes_on"`
	HubHesOn               [4]bool `yaml:"hub_hes_on"`
	LoadRetryMax           int     `yaml:"load_retry_max"`
	UnloadRetryMax         int     `yaml:"unload_retry_max"`
	RetryBackoffBase       string  `yaml:"retry_backoff_base"`
	RetryBackoffMax        string  `yaml:"retry_backoff_max"`
	AutoUnloadOnFailedLoad bool    `yaml:"auto_unload_on_failed_load"`
}

// RetryBackoffBaseDuration parses RetryBackoffBase, or returns zero if unset.
func (f FeederConfig) RetryBackoffBaseDuration() (time.Duration, error) {
	if f.RetryBackoffBase == "" {
		return 0, nil
	}
	return time.ParseDuration(f.RetryBackoffBase)
}

// RetryBackoffMaxDuration parses RetryBackoffMax, or returns zero if unset.
func (f FeederConfig) RetryBackoffMaxDuration() (time.Duration, error) {
	if f.RetryBackoffMax == "" {
		return 0, nil
	}
	return time.ParseDuration(f.RetryBackoffMax)
}

// PSConfig is one pressure sensor's section (spec.md §6, "Per PS").
type PSConfig struct {
	Name     string   `yaml:"name"`
	Pin      string   `yaml:"pin"`
	Extruder string   `yaml:"extruder"`
	Feeders  []string `yaml:"feeders"`
	// TicksPerMM is the clog detector's calibrated feeder-encoder ratio
	// (spec.md §4.6's "k"), not named in §6's surface table but required
	// by the clog detector; kept here since it is per-PS, like the rest
	// of this section.
	TicksPerMM float64 `yaml:"ticks_per_mm"`
}

// LaneGroupConfig is one lane group's section (spec.md §6, "Per lane
// group"). Members are "feeder-bay" tokens, e.g. "A-1".
type LaneGroupConfig struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// ManagerConfig is the process-wide section (spec.md §6, "Manager").
//
// BowdenClearGrace is a Go duration string for the same reason
// FeederConfig's backoff fields are: yaml.v3 would otherwise unmarshal
// it as integer nanoseconds rather than accept "200ms".
type ManagerConfig struct {
	ReloadBeforeToolheadDistance float64 `yaml:"reload_before_toolhead_distance"`
	ClogSensitivity              string  `yaml:"clog_sensitivity"`
	PauseDistance                float64 `yaml:"pause_distance"`
	BowdenClearGrace             string  `yaml:"bowden_clear_grace"`
}

// BowdenClearGraceDuration parses BowdenClearGrace, or returns zero if unset.
func (m ManagerConfig) BowdenClearGraceDuration() (time.Duration, error) {
	if m.BowdenClearGrace == "" {
		return 0, nil
	}
	return time.ParseDuration(m.BowdenClearGrace)
}

// Config is the whole parsed configuration surface.
type Config struct {
	Feeders    []FeederConfig    `yaml:"feeders"`
	PSSensors  []PSConfig        `yaml:"pressure_sensors"`
	LaneGroups []LaneGroupConfig `yaml:"lane_groups"`
	Manager    ManagerConfig     `yaml:"manager"`
}

// ClogSensitivityValue parses the manager's clog_sensitivity field.
func (c Config) ClogSensitivityValue() models.ClogSensitivity {
	return models.ParseSensitivity(c.Manager.ClogSensitivity)
}

// DefaultManagerConfig returns spec.md §6's manager defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReloadBeforeToolheadDistance: 0.0,
		ClogSensitivity:              "medium",
		PauseDistance:                5.0,
		BowdenClearGrace:             "200ms",
	}
}

// Validator checks an entire parsed Config before it is accepted,
// grounded on runtime.ConfigValidator.
type Validator interface {
	Validate(cfg *Config) error
}

// defaultValidator enforces the numeric constraints spec.md §6 states
// inline (e.g. "lower < upper").
type defaultValidator struct{}

func (defaultValidator) Validate(cfg *Config) error {
	for _, f := range cfg.Feeders {
		if f.PressureLower >= f.PressureUpper {
			return fmt.Errorf("feeder %q: pressure_lower must be < pressure_upper", f.Name)
		}
		if f.LoadRetryMax < 0 || f.UnloadRetryMax < 0 {
			return fmt.Errorf("feeder %q: retry maxima must be >= 0", f.Name)
		}
		if _, err := f.RetryBackoffBaseDuration(); err != nil {
			return fmt.Errorf("feeder %q: retry_backoff_base: %w", f.Name, err)
		}
		if _, err := f.RetryBackoffMaxDuration(); err != nil {
			return fmt.Errorf("feeder %q: retry_backoff_max: %w", f.Name, err)
		}
	}
	if _, err := cfg.Manager.BowdenClearGraceDuration(); err != nil {
		return fmt.Errorf("manager: bowden_clear_grace: %w", err)
	}
	return nil
}

// Load reads and parses path, applying spec.md §6 defaults to the
// zero-valued fields applyDefaults covers and running every registered
// Validator. auto_unload_on_failed_load is a plain bool and is not
// defaulted: an absent key reads as false.
func Load(path string, validators ...Validator) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)

	all := append([]Validator{defaultValidator{}}, validators...)
	for _, v := range all {
		if err := v.Validate(&cfg); err != nil {
			return nil, fmt.Errorf("config: validate %s: %w", path, err)
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Manager.ClogSensitivity == "" {
		cfg.Manager.ClogSensitivity = "medium"
	}
	if cfg.Manager.BowdenClearGrace == "" {
		cfg.Manager.BowdenClearGrace = "200ms"
	}
	for i := range cfg.Feeders {
		f := &cfg.Feeders[i]
		if f.LoadRetryMax == 0 {
			f.LoadRetryMax = 3
		}
		if f.UnloadRetryMax == 0 {
			f.UnloadRetryMax = 2
		}
		if f.RetryBackoffBase == "" {
			f.RetryBackoffBase = "1s"
		}
		if f.RetryBackoffMax == "" {
			f.RetryBackoffMax = "5s"
		}
	}
}

// Watcher watches path for writes and re-parses it with Load, emitting
// the entire parsed Config on each accepted write. It does not separate
// hot-reloadable fields (thresholds, retry limits) from structural ones
// (bay membership, lane groups); every field of the new Config is
// surfaced as-is.
type Watcher struct {
	path       string
	watcher    *fsnotify.Watcher
	validators []Validator
}

// NewWatcher constructs a Watcher over path, not yet watching.
func NewWatcher(path string, validators ...Validator) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	return &Watcher{path: path, watcher: fw, validators: validators}, nil
}

// Change is one accepted hot-reload: a newly parsed Config that passed
// validation after a write to the watched file.
type Change struct {
	Config *Config
	At     time.Time
}

// Watch starts watching the config file's directory and returns a
// channel of accepted reloads plus a channel of load/validation
// errors. Both channels close when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, <-chan error) {
	changes := make(chan Change, 4)
	errs := make(chan error, 4)

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		errs <- fmt.Errorf("config: watch %s: %w", dir, err)
		close(changes)
		close(errs)
		return changes, errs
	}

	go func() {
		defer close(changes)
		defer close(errs)
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.path || ev.Op&fsnotify.Write == 0 {
					continue
				}
				cfg, err := Load(w.path, w.validators...)
				if err != nil {
					errs <- err
					continue
				}
				changes <- Change{Config: cfg, At: time.Now()}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error { return w.watcher.Close() }
