package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.SessionID)
	assert.Equal(t, SourceModeAuto, cfg.SourceMode)
	assert.Equal(t, StreamModeLog, cfg.StreamMode)
	assert.Equal(t, 5*time.Second, cfg.AnalysisCooldown)
	assert.Equal(t, 5*time.Second, cfg.ScoringInterval)
	assert.Equal(t, time.Second, cfg.ReconnectInitialDelay)
	assert.Equal(t, 10*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.SimInterval)
	assert.Equal(t, ":9100", cfg.MetricsListenAddr)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session_id: ward-7
source_mode: Simulated
sim_interval: 250ms
reconnect_max_attempts: 3
stream_mode: websocket
backend_ws_url: ws://dashboard:8080/ws
metrics_addr: ""
`), 0o600))

	t.Setenv("VITALWATCH_SIM_INTERVAL", "50ms")
	t.Setenv("VITALWATCH_SIM_SEED", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ward-7", cfg.SessionID)
	assert.Equal(t, SourceModeSimulated, cfg.SourceMode)
	assert.Equal(t, 50*time.Millisecond, cfg.SimInterval)
	assert.Equal(t, int64(42), cfg.SimSeed)
	assert.Equal(t, 3, cfg.ReconnectMaxAttempts)
	assert.Equal(t, StreamModeWebSocket, cfg.StreamMode)
	assert.Equal(t, "ws://dashboard:8080/ws", cfg.BackendWSURL)
	assert.Empty(t, cfg.MetricsListenAddr)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_name: VitalBand\n"), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "VitalBand", cfg.DeviceName)
}

func TestEmptyEnvDisablesListener(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("VITALWATCH_PROBE_ADDR", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.ProbeListenAddr)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sim_interval: [not, a, duration]\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.SessionID = "s"
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"source mode":       func(c *Config) { c.SourceMode = "bluetooth" },
		"stream mode":       func(c *Config) { c.StreamMode = "kafka" },
		"zero cooldown":     func(c *Config) { c.AnalysisCooldown = 0 },
		"inverted delays":   func(c *Config) { c.ReconnectMaxDelay = c.ReconnectInitialDelay / 2 },
		"zero attempts":     func(c *Config) { c.ReconnectMaxAttempts = 0 },
		"grpc without addr": func(c *Config) { c.StreamMode = StreamModeGRPC; c.BackendGRPCAddr = "" },
		"ws without url":    func(c *Config) { c.StreamMode = StreamModeWebSocket; c.BackendWSURL = "" },
		"log level":         func(c *Config) { c.LogLevel = "trace" },
		"buffer":            func(c *Config) { c.SampleBufferSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTLSConfigDisabled(t *testing.T) {
	cfg := Default()
	tlsCfg, err := cfg.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	cfg.TLSEnabled = true
	cfg.TLSCertPath = "/only/cert.pem"
	_, err = cfg.TLSConfig()
	require.Error(t, err)
}
