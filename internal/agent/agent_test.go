package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"vitalwatch-agent/internal/agent/version"
	"vitalwatch-agent/internal/ble"
	"vitalwatch-agent/internal/config"
	"vitalwatch-agent/internal/model"
)

type captureSink struct {
	mu      sync.Mutex
	reports []model.InsightReport
	events  []model.ConnectionEvent
	frames  int
}

func (c *captureSink) SendChartFrame(context.Context, model.ChartFrame) error {
	c.mu.Lock()
	c.frames++
	c.mu.Unlock()
	return nil
}

func (c *captureSink) SendInsights(_ context.Context, r model.InsightReport) error {
	c.mu.Lock()
	c.reports = append(c.reports, r)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) SendConnectionEvent(_ context.Context, ev model.ConnectionEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) Close(context.Context) error { return nil }

func (c *captureSink) fullReport() (model.InsightReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.reports {
		if len(r.Insights) == 8 {
			return r, true
		}
	}
	return model.InsightReport{}, false
}

func (c *captureSink) switched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.SwitchedToSimulation {
			return true
		}
	}
	return false
}

// scriptedCentral succeeds while up is set and fails otherwise.
type scriptedCentral struct {
	up       atomic.Bool
	connects atomic.Int32
	mu       sync.Mutex
	onLost   func()
}

func (c *scriptedCentral) Connect(_ context.Context, _ []bluetooth.UUID, onLost func()) (ble.Peripheral, error) {
	c.connects.Add(1)
	if !c.up.Load() {
		return nil, ble.ErrDeviceUnavailable
	}
	c.mu.Lock()
	c.onLost = onLost
	c.mu.Unlock()
	return nopPeripheral{}, nil
}

func (c *scriptedCentral) drop() {
	c.up.Store(false)
	c.mu.Lock()
	fn := c.onLost
	c.mu.Unlock()
	fn()
}

type nopPeripheral struct{}

func (nopPeripheral) Characteristic(_, _ bluetooth.UUID) (ble.Characteristic, error) {
	return nopCharacteristic{}, nil
}
func (nopPeripheral) Disconnect() error { return nil }

type nopCharacteristic struct{}

func (nopCharacteristic) Subscribe(func([]byte)) error { return nil }
func (nopCharacteristic) Unsubscribe() error           { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(mode config.SourceMode) config.Config {
	cfg := config.Default()
	cfg.SessionID = "session-1"
	cfg.SourceMode = mode
	cfg.MetricsListenAddr = ""
	cfg.ProbeListenAddr = ""
	return cfg
}

func startAgent(t *testing.T, cfg config.Config, central ble.Central) (*Agent, *captureSink, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local))
	sink := &captureSink{}

	opts := []Option{
		WithClock(mock),
		WithSink(sink),
		WithRegisterer(prometheus.NewRegistry()),
		WithRand(rand.New(rand.NewSource(7))),
	}
	if central != nil {
		opts = append(opts, WithCentral(central))
	}
	a, err := New(cfg, discardLogger(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		a.shutdown(context.Background())
	})
	return a, sink, mock
}

func TestAgentFallsBackToSimulationWhenDeviceUnavailable(t *testing.T) {
	central := &scriptedCentral{}
	a, sink, mock := startAgent(t, testConfig(config.SourceModeAuto), central)

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		_, ok := sink.fullReport()
		return ok && a.store.Len(model.OxygenSaturation) > 0
	}, 5*time.Second, time.Millisecond)

	report, _ := sink.fullReport()
	assert.Equal(t, "session-1", report.SessionID)
	assert.Equal(t, "Physical Stress", report.Insights[0].Metric)
	assert.Equal(t, "Overall Health", report.Insights[7].Metric)

	assert.True(t, a.Health().SimulationActive())
	assert.Equal(t, model.StateSimulated, a.Health().State())
	assert.True(t, sink.switched())
	assert.Equal(t, int32(1), central.connects.Load())
}

func TestAgentSwitchesToSimulationAfterReconnectsExhausted(t *testing.T) {
	central := &scriptedCentral{}
	central.up.Store(true)
	a, sink, mock := startAgent(t, testConfig(config.SourceModeAuto), central)

	require.Eventually(t, func() bool {
		return a.Health().State() == model.StateConnected
	}, time.Second, time.Millisecond)
	assert.False(t, a.Health().SimulationActive())
	assert.True(t, a.Health().DeviceConnected())

	central.drop()
	require.Eventually(t, func() bool {
		mock.Add(500 * time.Millisecond)
		return a.Health().SimulationActive()
	}, 5*time.Second, time.Millisecond)

	assert.True(t, sink.switched())
	assert.Equal(t, model.StateSimulated, a.Health().State())
	assert.Equal(t, int32(6), central.connects.Load())

	// A manual connect brings the device back and stops the simulator.
	central.up.Store(true)
	require.Eventually(t, func() bool {
		return a.Connect(context.Background()) == nil
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return !a.Health().SimulationActive()
	}, time.Second, time.Millisecond)
}

func TestAgentSimulatedModeNeverTouchesDevice(t *testing.T) {
	a, sink, mock := startAgent(t, testConfig(config.SourceModeSimulated), nil)

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		_, ok := sink.fullReport()
		return ok
	}, 5*time.Second, time.Millisecond)

	assert.Nil(t, a.conn)
	assert.True(t, a.Health().SimulationActive())
	assert.False(t, sink.switched(), "nothing to switch away from")
	assert.ErrorIs(t, a.Connect(context.Background()), ble.ErrDeviceUnavailable)
}

func TestAgentLiveModeFailsWithoutDevice(t *testing.T) {
	a, err := New(testConfig(config.SourceModeLive), discardLogger(),
		WithCentral(&scriptedCentral{}),
		WithSink(&captureSink{}),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	assert.Nil(t, a.sim)

	err = a.run(context.Background())
	require.ErrorIs(t, err, ble.ErrDeviceUnavailable)
}

func TestProbeResponse(t *testing.T) {
	a, err := New(testConfig(config.SourceModeSimulated), discardLogger(),
		WithSink(&captureSink{}),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	a.health.MarkSample(time.Unix(1700000000, 0))

	resp := string(a.probeResponse())
	lines := strings.Split(strings.TrimSpace(resp), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "vitalwatch-agent:ok", lines[0])

	var doc struct {
		Agent  version.GetVersionResponse `json:"agent"`
		Health map[string]any             `json:"health"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &doc))
	assert.Equal(t, "session-1", doc.Agent.SessionID)
	assert.Equal(t, version.AgentVersion, doc.Agent.AgentVersion)
	assert.Equal(t, "simulated", doc.Agent.SourceMode)
	assert.Equal(t, "disconnected", doc.Health["connection_state"])
	assert.Contains(t, doc.Health, "last_sample_at")
}

func TestBuildLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	assert.True(t, BuildLogger(cfg).Enabled(context.Background(), slog.LevelDebug))

	cfg.LogLevel = "error"
	cfg.LogJSON = true
	assert.False(t, BuildLogger(cfg).Enabled(context.Background(), slog.LevelWarn))
}
