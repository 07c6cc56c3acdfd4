package framework

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsTelemetry turns telemetry events into Prometheus series. Each
// instance owns its collectors so tests can use a private registry.
type MetricsTelemetry struct {
	Rebuilds        *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	MapEntries      prometheus.Gauge
	Lenses          prometheus.Counter
	Commands        prometheus.Counter
}

// NewMetricsTelemetry builds the collectors and registers them with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewMetricsTelemetry(reg prometheus.Registerer) (*MetricsTelemetry, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &MetricsTelemetry{
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acelens_rebuilds_total",
			Help: "Map rebuild attempts by outcome.",
		}, []string{"outcome"}),
		RebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "acelens_rebuild_seconds",
			Help:    "Time spent reading and extracting the api map.",
			Buckets: prometheus.DefBuckets,
		}),
		MapEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acelens_map_entries",
			Help: "Number of api names in the current map.",
		}),
		Lenses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acelens_lenses_total",
			Help: "Total number of code lenses returned to the client.",
		}),
		Commands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acelens_open_commands_total",
			Help: "Total number of open-api commands executed.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Rebuilds, m.RebuildDuration, m.MapEntries, m.Lenses, m.Commands} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Emit updates the series matching the event type.
func (m *MetricsTelemetry) Emit(event Event) {
	switch event.Type {
	case EventRebuildFinish:
		m.Rebuilds.WithLabelValues("rebuilt").Inc()
		m.RebuildDuration.Observe(event.Duration.Seconds())
		m.MapEntries.Set(float64(event.Count))
	case EventRebuildSkipped:
		m.Rebuilds.WithLabelValues("skipped").Inc()
	case EventRebuildError:
		m.Rebuilds.WithLabelValues("error").Inc()
	case EventSourcesMissing:
		m.Rebuilds.WithLabelValues("missing").Inc()
		m.MapEntries.Set(0)
	case EventLensesEmitted:
		m.Lenses.Add(float64(event.Count))
	case EventCommandOpen:
		m.Commands.Inc()
	}
}
