// Command oams-cli runs the OAMS control core as a standalone process,
// the way cli/cmd/ariadne/main.go runs the ariadne engine: parse
// flags, build the runtime from config, serve /healthz and /metrics,
// and drive the coordinator's periodic tick until a signal arrives.
//
// Per spec.md §1, the real print-controller and feeder MCUs are out
// of scope; this binary substitutes host.RealHost and a scripted
// mcu.Simulator per feeder so the control core can run end-to-end for
// demonstration and manual exercising, not as a production print host.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oams/clog"
	"oams/config"
	"oams/coordinator"
	"oams/feeder"
	"oams/host"
	"oams/lane"
	"oams/mcu"
	"oams/models"
	"oams/pressure"
	"oams/runout"
	"oams/telemetry/events"
	"oams/telemetry/health"
	"oams/telemetry/logging"
	"oams/telemetry/metrics"
)

func main() {
	var (
		configPath     string
		healthAddr     string
		metricsAddr    string
		metricsBackend string
		snapshotEvery  time.Duration
		showVersion    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the OAMS YAML config (feeders/pressure_sensors/lane_groups/manager)")
	flag.StringVar(&healthAddr, "health", ":9091", "Address to serve /healthz on (empty disables)")
	flag.StringVar(&metricsAddr, "metrics", ":9090", "Address to serve /metrics on (empty disables)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 10*time.Second, "Interval between coordinator snapshot logs (0 disables)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("oams-cli - OAMS control core demo harness")
		return
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var cfg *config.Config
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = c
	} else {
		cfg = demoConfig()
		logger.Info("no -config given; running the bundled two-feeder demo configuration")
	}

	provider := buildMetricsProvider(metricsBackend)
	bus := events.NewBus(provider)
	evaluator := health.NewEvaluator(2 * time.Second)

	realHost := host.NewRealHost()
	coord := coordinator.New(realHost, bus, logger, provider)

	wireCoordinator(coord, cfg, evaluator, logger)
	coord.Start()
	defer coord.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveHTTP(ctx, healthAddr, metricsAddr, provider, evaluator, logger)

	if snapshotEvery > 0 {
		go logSnapshots(ctx, coord, logger, snapshotEvery)
	}

	logger.Info("oams control core running", "health", healthAddr, "metrics", metricsAddr)
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// wireCoordinator registers every feeder, PS, lane group, runout
// monitor, and clog detector named in cfg, and a health probe per
// feeder/PS, grounded on Engine.Snapshot/health wiring in engine.go.
func wireCoordinator(coord *coordinator.Coordinator, cfg *config.Config, evaluator *health.Evaluator, logger logging.Logger) {
	for _, fc := range cfg.Feeders {
		driverCfg := feeder.DefaultConfig(fc.Name)
		driverCfg.PressureUpper = fc.PressureUpper
		driverCfg.PressureLower = fc.PressureLower
		if fc.LoadRetryMax > 0 {
			driverCfg.LoadRetryMax = fc.LoadRetryMax
		}
		if fc.UnloadRetryMax > 0 {
			driverCfg.UnloadRetryMax = fc.UnloadRetryMax
		}
		if base, err := fc.RetryBackoffBaseDuration(); err != nil {
			logger.Warn("invalid retry_backoff_base; keeping default", "feeder", fc.Name, "error", err.Error())
		} else if base > 0 {
			driverCfg.RetryBackoffBase = base
		}
		if maxBackoff, err := fc.RetryBackoffMaxDuration(); err != nil {
			logger.Warn("invalid retry_backoff_max; keeping default", "feeder", fc.Name, "error", err.Error())
		} else if maxBackoff > 0 {
			driverCfg.RetryBackoffMax = maxBackoff
		}
		driverCfg.AutoUnloadOnFailedLoad = fc.AutoUnloadOnFailedLoad

		transport := mcu.NewSimulator()
		d := coord.AddFeeder(driverCfg, transport)

		evaluator.Register(health.FeederProbe(fc.Name, d.Errored, func() bool {
			return d.Snapshot().HardwareStatus == models.HWError
		}))
	}

	for _, pc := range cfg.PSSensors {
		coord.AddPS(pressure.Config{Name: pc.Name, Feeders: pc.Feeders})
	}

	for _, gc := range cfg.LaneGroups {
		members := make([]lane.Member, 0, len(gc.Members))
		for _, token := range gc.Members {
			m, err := lane.ParseMemberToken(token)
			if err != nil {
				logger.Warn("skipping invalid lane member token", "group", gc.Name, "token", token, "error", err.Error())
				continue
			}
			members = append(members, m)
		}
		coord.AddLaneGroup(gc.Name, members)
	}

	bowdenClearGrace, err := cfg.Manager.BowdenClearGraceDuration()
	if err != nil {
		logger.Warn("invalid bowden_clear_grace; keeping default", "error", err.Error())
		bowdenClearGrace = 200 * time.Millisecond
	}

	sensitivity := cfg.ClogSensitivityValue()
	for _, pc := range cfg.PSSensors {
		groupName := groupForPS(cfg.LaneGroups, pc.Feeders)
		monitor := coord.AddRunoutMonitor(runout.Config{
			PSName:           pc.Name,
			GroupName:        groupName,
			ExtruderName:     pc.Extruder,
			PauseDistance:    cfg.Manager.PauseDistance,
			CoastDistance:    cfg.Manager.ReloadBeforeToolheadDistance,
			BowdenClearGrace: bowdenClearGrace,
		})
		evaluator.Register(health.RunoutProbe(pc.Name, func() bool {
			return monitor.State() == runout.Paused
		}))

		coord.AddClogDetector(clog.Config{
			PSName:       pc.Name,
			ExtruderName: pc.Extruder,
			Sensitivity:  sensitivity,
			Alpha:        clog.DefaultAlpha,
			TicksPerMM:   pc.TicksPerMM,
		})
	}
}

// groupForPS picks the first lane group containing any feeder this PS
// references; §6's config surface doesn't name an explicit PS->group
// link beyond "feeders", so the demo harness infers it the same way an
// installer would: a PS serves whatever group its feeders belong to.
func groupForPS(groups []config.LaneGroupConfig, psFeeders []string) string {
	for _, g := range groups {
		for _, token := range g.Members {
			m, err := lane.ParseMemberToken(token)
			if err != nil {
				continue
			}
			for _, name := range psFeeders {
				if m.Feeder == name {
					return g.Name
				}
			}
		}
	}
	return ""
}

func buildMetricsProvider(backend string) metrics.Provider {
	switch backend {
	case "otel":
		return metrics.NewOTelProvider()
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(nil)
	}
}

func serveHTTP(ctx context.Context, healthAddr, metricsAddr string, provider metrics.Provider, evaluator *health.Evaluator, logger logging.Logger) {
	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			snap := evaluator.Evaluate(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if snap.Overall == health.StatusUnhealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(snap)
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server stopped", "error", err.Error())
			}
		}()
	}

	if metricsAddr != "" {
		if prom, ok := provider.(*metrics.PrometheusProvider); ok {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server stopped", "error", err.Error())
				}
			}()
		} else {
			logger.Warn("metrics endpoint requested but backend does not expose a scrape handler", "addr", metricsAddr)
		}
	}
}

func logSnapshots(ctx context.Context, coord *coordinator.Coordinator, logger logging.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := coord.Snapshot()
			b, _ := json.Marshal(snap)
			logger.Info("coordinator snapshot", "snapshot", string(b))
		case <-ctx.Done():
			return
		}
	}
}

// demoConfig is the bundled zero-flag configuration: one feeder with
// four bays, one pressure sensor, and a single lane group spanning all
// four bays, enough to exercise load/unload/runout/clog by hand via
// the health endpoint and a scripted mcu.Simulator.
func demoConfig() *config.Config {
	return &config.Config{
		Feeders: []config.FeederConfig{{
			Name:           "A",
			PressureUpper:  0.6,
			PressureLower:  0.2,
			LoadRetryMax:   3,
			UnloadRetryMax: 2,
		}},
		PSSensors: []config.PSConfig{{
			Name:       "extruder0",
			Extruder:   "extruder0",
			Feeders:    []string{"A"},
			TicksPerMM: 40,
		}},
		LaneGroups: []config.LaneGroupConfig{{
			Name:    "T0",
			Members: []string{"A-0", "A-1", "A-2", "A-3"},
		}},
		Manager: config.DefaultManagerConfig(),
	}
}
