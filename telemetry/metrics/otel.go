package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProvider backs Provider with an OpenTelemetry MeterProvider,
// grounded on engine/telemetry/metrics/otel_provider.go — trimmed of
// that file's per-metric cardinality tracker, which guards a
// high-cardinality crawl workload this control core doesn't have (its
// label sets are bounded by feeder/PS/lane-group count, fixed at init).
type OTelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

// NewOTelProvider constructs an OTelProvider with a zero-config
// MeterProvider; callers that need a real exporter can reach
// MeterProvider() and attach one.
func NewOTelProvider() *OTelProvider {
	mp := sdkmetric.NewMeterProvider()
	return &OTelProvider{mp: mp, meter: mp.Meter("oams")}
}

func (p *OTelProvider) MeterProvider() *sdkmetric.MeterProvider { return p.mp }

func (p *OTelProvider) NewCounter(opts CounterOpts) Counter {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Counter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return otelCounter{c: inst, labelKeys: opts.Labels}
}

func (p *OTelProvider) NewGauge(opts GaugeOpts) Gauge {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Gauge(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return otelGauge{g: inst, labelKeys: opts.Labels}
}

func (p *OTelProvider) NewHistogram(opts HistogramOpts) Histogram {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Histogram(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return otelHistogram{h: inst, labelKeys: opts.Labels}
}

func otelName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "." + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "." + name
	}
	return name
}

func toAttributes(keys, values []string) []attribute.KeyValue {
	n := min(len(keys), len(values))
	if n == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, attribute.String(keys[i], values[i]))
	}
	return out
}

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
}

func (c otelCounter) Inc(delta float64, labelValues ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(toAttributes(c.labelKeys, labelValues)...))
}

type otelGauge struct {
	g         metric.Float64Gauge
	labelKeys []string
}

func (g otelGauge) Set(value float64, labelValues ...string) {
	g.g.Record(context.Background(), value, metric.WithAttributes(toAttributes(g.labelKeys, labelValues)...))
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
}

func (h otelHistogram) Observe(value float64, labelValues ...string) {
	h.h.Record(context.Background(), value, metric.WithAttributes(toAttributes(h.labelKeys, labelValues)...))
}
