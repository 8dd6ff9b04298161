// Package metrics defines the Provider abstraction the control core
// instruments itself through, grounded on
// engine/telemetry/metrics/{prometheus,otel_provider}.go — trimmed of
// that package's label-cardinality guard-rail and legacy business
// adapter, neither of which this domain needs.
package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

// CommonOpts names one instrument, Prometheus-style (namespace,
// subsystem, name joined with underscores) so the same options value
// drives either backend.
type CommonOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Counter, Gauge, and Histogram are the three instrument shapes the
// coordinator and its subsystems emit.
type Counter interface {
	Inc(delta float64, labelValues ...string)
}

type Gauge interface {
	Set(value float64, labelValues ...string)
}

type Histogram interface {
	Observe(value float64, labelValues ...string)
}

// Provider constructs instruments. NewPrometheusProvider and
// NewOTelProvider are the two concrete backends wired from the
// examples' dependency stack; NewNoopProvider is used when a caller
// (e.g. a unit test) has no registry to hand.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
}

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

func fqName(c CommonOpts) (string, error) {
	if c.Name == "" {
		return "", errors.New("metrics: name required")
	}
	fq := c.Name
	if c.Subsystem != "" {
		fq = c.Subsystem + "_" + fq
	}
	if c.Namespace != "" {
		fq = c.Namespace + "_" + fq
	}
	if !metricNameRE.MatchString(fq) {
		return "", fmt.Errorf("metrics: invalid name %q", fq)
	}
	return fq, nil
}

// --- Prometheus backend ---

// PrometheusProvider backs Provider with a Prometheus registry.
type PrometheusProvider struct {
	reg        *prom.Registry
	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
}

// NewPrometheusProvider constructs a PrometheusProvider. reg may be
// nil, in which case a private registry is created.
func NewPrometheusProvider(reg *prom.Registry) *PrometheusProvider {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prom.CounterVec),
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
	}
}

// Registry returns the underlying registry so an HTTP handler can be
// mounted over it (promhttp.HandlerFor).
func (p *PrometheusProvider) Registry() *prom.Registry { return p.reg }

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	fq, err := fqName(opts.CommonOpts)
	if err != nil {
		return noopCounter{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[fq]
	if !ok {
		vec = prom.NewCounterVec(prom.CounterOpts{Name: fq, Help: opts.Help}, opts.Labels)
		_ = p.reg.Register(vec)
		p.counters[fq] = vec
	}
	return promCounter{vec: vec}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	fq, err := fqName(opts.CommonOpts)
	if err != nil {
		return noopGauge{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[fq]
	if !ok {
		vec = prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: opts.Help}, opts.Labels)
		_ = p.reg.Register(vec)
		p.gauges[fq] = vec
	}
	return promGauge{vec: vec}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq, err := fqName(opts.CommonOpts)
	if err != nil {
		return noopHistogram{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.histograms[fq]
	if !ok {
		buckets := opts.Buckets
		if len(buckets) == 0 {
			buckets = prom.DefBuckets
		}
		vec = prom.NewHistogramVec(prom.HistogramOpts{Name: fq, Help: opts.Help, Buckets: buckets}, opts.Labels)
		_ = p.reg.Register(vec)
		p.histograms[fq] = vec
	}
	return promHistogram{vec: vec}
}

type promCounter struct{ vec *prom.CounterVec }

func (c promCounter) Inc(delta float64, labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Add(delta)
}

type promGauge struct{ vec *prom.GaugeVec }

func (g promGauge) Set(value float64, labelValues ...string) {
	g.vec.WithLabelValues(labelValues...).Set(value)
}

type promHistogram struct{ vec *prom.HistogramVec }

func (h promHistogram) Observe(value float64, labelValues ...string) {
	h.vec.WithLabelValues(labelValues...).Observe(value)
}

// --- noop backend ---

// NewNoopProvider returns a Provider whose instruments discard every
// observation, used by tests that construct a Coordinator without a
// metrics sink.
func NewNoopProvider() Provider { return noopProvider{} }

type noopProvider struct{}

func (noopProvider) NewCounter(CounterOpts) Counter       { return noopCounter{} }
func (noopProvider) NewGauge(GaugeOpts) Gauge             { return noopGauge{} }
func (noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }

type noopCounter struct{}

func (noopCounter) Inc(float64, ...string) {}

type noopGauge struct{}

func (noopGauge) Set(float64, ...string) {}

type noopHistogram struct{}

func (noopHistogram) Observe(float64, ...string) {}
