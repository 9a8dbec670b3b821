package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vitalwatch-agent/internal/ble"
	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/source"
)

const namespace = "vitalwatch"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	samplesIngested  *prometheus.CounterVec
	samplesDropped   *prometheus.CounterVec
	connectionState  prometheus.Gauge
	reconnects       *prometheus.CounterVec
	simulationActive prometheus.Gauge
	analysisRuns     *prometheus.CounterVec
	insightScore     *prometheus.GaugeVec
	analysisDuration prometheus.Histogram
	sinkErrors       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Samples appended to the metric windows.",
		}, []string{"kind"}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples discarded before reaching the metric windows.",
		}, []string{"kind", "reason"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current device connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 simulated).",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts by outcome.",
		}, []string{"result"}),
		simulationActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulation_active",
			Help:      "1 while the synthetic source is feeding the windows.",
		}),
		analysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Scoring ticks by outcome.",
		}, []string{"result"}),
		insightScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "insight_score",
			Help:      "Latest score per insight metric.",
		}, []string{"metric"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent scoring one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sends to the presentation sink.",
		}, []string{"payload"}),
	}
	reg.MustRegister(
		m.samplesIngested,
		m.samplesDropped,
		m.connectionState,
		m.reconnects,
		m.simulationActive,
		m.analysisRuns,
		m.insightScore,
		m.analysisDuration,
		m.sinkErrors,
	)
	return m
}

func (m *Metrics) SampleIngested(kind model.MetricKind) {
	if m == nil {
		return
	}
	m.samplesIngested.WithLabelValues(kind.String()).Inc()
}

// SampleDropped matches source.DropFunc.
func (m *Metrics) SampleDropped(kind model.MetricKind, reason error) {
	if m == nil {
		return
	}
	m.samplesDropped.WithLabelValues(kind.String(), DropReason(reason)).Inc()
}

func DropReason(err error) string {
	var decErr *ble.DecodeError
	switch {
	case errors.Is(err, source.ErrChannelFull):
		return "channel_full"
	case errors.As(err, &decErr):
		return "decode"
	default:
		return "other"
	}
}

func (m *Metrics) ConnectionState(s model.ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *Metrics) ReconnectAttempt(_ int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) SimulationActive(active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.simulationActive.Set(v)
}

// AnalysisRun records one scoring tick. An empty insight list counts as
// skipped.
func (m *Metrics) AnalysisRun(insights []model.Insight, took time.Duration) {
	if m == nil {
		return
	}
	if len(insights) == 0 {
		m.analysisRuns.WithLabelValues("skipped").Inc()
		return
	}
	m.analysisRuns.WithLabelValues("completed").Inc()
	m.analysisDuration.Observe(took.Seconds())
	for _, in := range insights {
		m.insightScore.WithLabelValues(in.Metric).Set(float64(in.Score))
	}
}

func (m *Metrics) SinkError(payload string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(payload).Inc()
}
