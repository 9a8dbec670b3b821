package source

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch-agent/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSimulator(t *testing.T, start time.Time) (*Simulator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(start)
	sim := NewSimulator(SimulatorConfig{}, discardLogger(),
		WithSimulatorClock(mock),
		WithSimulatorRand(rand.New(rand.NewSource(42))),
	)
	return sim, mock
}

func valueOf(samples []model.Sample, kind model.MetricKind) model.Sample {
	for _, s := range samples {
		if s.Kind == kind {
			return s
		}
	}
	return model.Sample{}
}

func TestSimulatorEmitsEveryKindPerStep(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	sim, _ := newTestSimulator(t, start)

	samples := sim.step(start.Add(100 * time.Millisecond))
	require.Len(t, samples, len(model.MetricKinds))
	for i, kind := range model.MetricKinds {
		assert.Equal(t, kind, samples[i].Kind)
	}
}

func TestSimulatorAnomalyWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	sim, _ := newTestSimulator(t, start)

	sim.step(start.Add(15 * time.Second))
	assert.False(t, sim.gen.anomalyActive, "interval must be exceeded, not reached")

	sim.step(start.Add(15*time.Second + 100*time.Millisecond))
	assert.True(t, sim.gen.anomalyActive)

	sim.step(start.Add(20 * time.Second))
	assert.True(t, sim.gen.anomalyActive)

	sim.step(start.Add(20*time.Second + 100*time.Millisecond))
	assert.False(t, sim.gen.anomalyActive)

	sim.step(start.Add(30 * time.Second))
	assert.False(t, sim.gen.anomalyActive, "next anomaly waits a full interval from the last start")

	sim.step(start.Add(30*time.Second + 200*time.Millisecond))
	assert.True(t, sim.gen.anomalyActive)
}

func TestSimulatorStepsFlatOutsideActiveHours(t *testing.T) {
	start := time.Date(2024, 3, 1, 3, 0, 0, 0, time.Local)
	sim, _ := newTestSimulator(t, start)

	sawAnomaly := false
	for i := 1; i <= 600; i++ {
		samples := sim.step(start.Add(time.Duration(i) * 100 * time.Millisecond))
		sawAnomaly = sawAnomaly || sim.gen.anomalyActive
		require.Equal(t, float64(0), valueOf(samples, model.StepCount).Value)
	}
	assert.True(t, sawAnomaly)
}

func TestSimulatorStepsMonotonicDuringActiveHours(t *testing.T) {
	start := time.Date(2024, 3, 1, 21, 59, 0, 0, time.Local)
	sim, _ := newTestSimulator(t, start)

	last := -1.0
	// Crosses from 21:59 through 22:xx into 23:00.
	for i := 1; i <= 4000; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		steps := valueOf(sim.step(now), model.StepCount).Value
		require.GreaterOrEqual(t, steps, last)
		if now.Hour() == 23 {
			require.Equal(t, last, steps)
		}
		last = steps
	}
	assert.Greater(t, last, float64(0))
}

func TestSimulatorRespectsAnomalyBounds(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	sim, _ := newTestSimulator(t, start)

	for i := 1; i <= 1200; i++ {
		samples := sim.step(start.Add(time.Duration(i) * 100 * time.Millisecond))
		bp := valueOf(samples, model.BloodPressure).Pressure
		require.LessOrEqual(t, bp.Systolic, 160.0)
		require.LessOrEqual(t, bp.Diastolic, 100.0)
		require.GreaterOrEqual(t, valueOf(samples, model.OxygenSaturation).Value, 93.0)
		require.LessOrEqual(t, valueOf(samples, model.Temperature).Value, 37.8)
		pulse := valueOf(samples, model.PulseSignal).Value
		require.InDelta(t, 0, pulse, 1.05)
	}
}

func TestSimulatorStartStop(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	sim, mock := newTestSimulator(t, start)

	out := make(chan model.Sample, 256)
	require.NoError(t, sim.Start(context.Background(), out))
	require.Error(t, sim.Start(context.Background(), out))
	assert.True(t, sim.Running())

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(out) >= len(model.MetricKinds)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sim.Stop())
	require.NoError(t, sim.Stop())
	assert.False(t, sim.Running())
}

func TestTrySendReportsDrops(t *testing.T) {
	out := make(chan model.Sample, 1)
	var dropped []model.MetricKind
	drop := func(kind model.MetricKind, reason error) {
		assert.ErrorIs(t, reason, ErrChannelFull)
		dropped = append(dropped, kind)
	}

	assert.True(t, TrySend(out, model.Sample{Kind: model.Temperature}, drop))
	assert.False(t, TrySend(out, model.Sample{Kind: model.StepCount}, drop))
	assert.Equal(t, []model.MetricKind{model.StepCount}, dropped)
}
