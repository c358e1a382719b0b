package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/riverlevels/riverlevels/internal/atomicfile"
)

const namespace = "riverlevels"

var measureLabels = []string{"station", "qualifier", "name"}

// Metrics holds the riverlevels collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg *prometheus.Registry

	level       *prometheus.GaugeVec
	readingTime *prometheus.GaugeVec
	baseline    *prometheus.GaugeVec
	alerts      *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	lastRun     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_metres",
			Help:      "Latest gauge reading in metres.",
		}, measureLabels),
		readingTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_timestamp_seconds",
			Help:      "Unix time of the latest gauge reading.",
		}, measureLabels),
		baseline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_metres",
			Help:      "Level at the last alert, or the first observation.",
		}, measureLabels),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised, by direction.",
		}, []string{"station", "qualifier", "name", "direction"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed reading fetches.",
		}, measureLabels),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed evaluation run.",
		}),
	}
	m.reg.MustRegister(m.level, m.readingTime, m.baseline, m.alerts, m.fetchErrors, m.lastRun)
	return m
}

// ObserveReading records a fetched reading.
func (m *Metrics) ObserveReading(station, qualifier, name string, value float64, at time.Time) {
	if m == nil {
		return
	}
	m.level.WithLabelValues(station, qualifier, name).Set(value)
	if !at.IsZero() {
		m.readingTime.WithLabelValues(station, qualifier, name).Set(float64(at.Unix()))
	}
}

// ObserveBaseline records the committed alert baseline.
func (m *Metrics) ObserveBaseline(station, qualifier, name string, level float64) {
	if m == nil {
		return
	}
	m.baseline.WithLabelValues(station, qualifier, name).Set(level)
}

// IncAlert counts an alert.
func (m *Metrics) IncAlert(station, qualifier, name, direction string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(station, qualifier, name, direction).Inc()
}

// IncFetchError counts a failed fetch.
func (m *Metrics) IncFetchError(station, qualifier, name string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(station, qualifier, name).Inc()
}

// MarkRun records the completion time of a run.
func (m *Metrics) MarkRun(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}

// WriteText writes every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	var mfs []*dto.MetricFamily
	mfs, err := m.reg.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile replaces path with the current metrics.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		return err
	}
	if err := atomicfile.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
