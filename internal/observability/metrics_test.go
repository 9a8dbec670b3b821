package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"vitalwatch-agent/internal/ble"
	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/source"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SampleIngested(model.OxygenSaturation)
	m.SampleIngested(model.OxygenSaturation)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.samplesIngested.WithLabelValues("oxygen_saturation")))

	m.SampleDropped(model.PulseSignal, source.ErrChannelFull)
	m.SampleDropped(model.Temperature, &ble.DecodeError{Kind: model.Temperature})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samplesDropped.WithLabelValues("pulse_signal", "channel_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samplesDropped.WithLabelValues("temperature", "decode")))

	m.ConnectionState(model.StateSimulated)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.connectionState))

	m.ReconnectAttempt(1, errors.New("no device"))
	m.ReconnectAttempt(2, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("success")))

	m.SimulationActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.simulationActive))

	m.AnalysisRun(nil, 0)
	m.AnalysisRun([]model.Insight{{Metric: "Overall Health", Score: 75}}, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysisRuns.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysisRuns.WithLabelValues("completed")))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.insightScore.WithLabelValues("Overall Health")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.analysisDuration))

	m.SinkError("insights")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkErrors.WithLabelValues("insights")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SampleIngested(model.PulseSignal)
	m.SampleDropped(model.PulseSignal, errors.New("x"))
	m.ConnectionState(model.StateConnected)
	m.ReconnectAttempt(1, nil)
	m.SimulationActive(false)
	m.AnalysisRun(nil, 0)
	m.SinkError("chart")
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "other", DropReason(errors.New("boom")))
}
