package observability

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus metrics of one build. Each instance owns its
// registry so several builds in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	buildsTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	modulesTotal  prometheus.Gauge
	cyclesTotal   prometheus.Gauge
	outputBytes   *prometheus.GaugeVec
	peakRSSBytes  prometheus.Gauge
	peakRSS       atomic.Uint64

	// Transform metrics
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	cacheLookupsTotal *prometheus.CounterVec

	// Publish metrics
	uploadsTotal     *prometheus.CounterVec
	uploadBytesTotal prometheus.Counter
}

// NewMetrics creates and registers all build metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_builds_total",
				Help: "Total number of builds",
			},
			[]string{"mode", "result"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_phase_duration_seconds",
				Help:    "Duration of build phases in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		modulesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_modules",
				Help: "Number of modules in the dependency graph",
			},
		),
		cyclesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_import_cycles",
				Help: "Number of import cycles in the dependency graph",
			},
		),
		outputBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxpack_output_bytes",
				Help: "Size of emitted files by kind",
			},
			[]string{"kind"},
		),
		peakRSSBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_peak_rss_bytes",
				Help: "Resident set size of the build process at its largest observed point",
			},
		),

		transformsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_transforms_total",
				Help: "Total number of module transforms",
			},
			[]string{"rule", "result"},
		),
		transformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_transform_duration_seconds",
				Help:    "Module transform latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"rule"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_cache_lookups_total",
				Help: "Total number of transform cache lookups",
			},
			[]string{"result"},
		),

		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_uploads_total",
				Help: "Total number of published files",
			},
			[]string{"provider", "result"},
		),
		uploadBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxpack_upload_bytes_total",
				Help: "Total number of published bytes",
			},
		),
	}
}

// Registry returns the registry holding the build metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBuild records the outcome of a build
func (m *Metrics) RecordBuild(mode string, err error) {
	m.buildsTotal.WithLabelValues(mode, result(err)).Inc()
}

// RecordPhase records the duration of a build phase
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordGraph records the size of the dependency graph
func (m *Metrics) RecordGraph(modules, cycles int) {
	m.modulesTotal.Set(float64(modules))
	m.cyclesTotal.Set(float64(cycles))
}

// RecordOutput records the emitted bytes of one file kind
func (m *Metrics) RecordOutput(kind string, bytes int) {
	m.outputBytes.WithLabelValues(kind).Add(float64(bytes))
}

// PeakRSS returns the largest resident set size recorded
func (m *Metrics) PeakRSS() uint64 {
	return m.peakRSS.Load()
}

// RecordRSS keeps the largest resident set size observed
func (m *Metrics) RecordRSS(bytes uint64) {
	for {
		peak := m.peakRSS.Load()
		if bytes <= peak {
			return
		}
		if m.peakRSS.CompareAndSwap(peak, bytes) {
			m.peakRSSBytes.Set(float64(bytes))
			return
		}
	}
}

// RecordTransform records one module transform
func (m *Metrics) RecordTransform(rule string, duration time.Duration, err error) {
	m.transformsTotal.WithLabelValues(rule, result(err)).Inc()
	m.transformDuration.WithLabelValues(rule).Observe(duration.Seconds())
}

// RecordCacheLookup records a transform cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// RecordUpload records one published file
func (m *Metrics) RecordUpload(provider string, bytes int64, err error) {
	m.uploadsTotal.WithLabelValues(provider, result(err)).Inc()
	if err == nil {
		m.uploadBytesTotal.Add(float64(bytes))
	}
}

// Push sends the metrics to a Prometheus Pushgateway. Builds are too short
// lived to be scraped.
func (m *Metrics) Push(url, job string) error {
	instance, _ := os.Hostname()
	pusher := push.New(url, job).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
