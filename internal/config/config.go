package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type StreamMode string

const (
	StreamModeLog       StreamMode = "log"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
)

// SourceMode selects which data sources the agent may use.
type SourceMode string

const (
	// SourceModeAuto tries the peripheral first and falls back to simulation.
	SourceModeAuto      SourceMode = "auto"
	SourceModeLive      SourceMode = "live"
	SourceModeSimulated SourceMode = "simulated"
)

const EnvConfigPath = "VITALWATCH_CONFIG"

type Config struct {
	SessionID  string     `yaml:"session_id"`
	SourceMode SourceMode `yaml:"source_mode"`
	DeviceName string     `yaml:"device_name"`

	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`

	SimInterval        time.Duration `yaml:"sim_interval"`
	SimAnomalyInterval time.Duration `yaml:"sim_anomaly_interval"`
	SimAnomalyDuration time.Duration `yaml:"sim_anomaly_duration"`
	SimSeed            int64         `yaml:"sim_seed"`

	AnalysisCooldown time.Duration `yaml:"analysis_cooldown"`
	ScoringInterval  time.Duration `yaml:"scoring_interval"`
	ChartInterval    time.Duration `yaml:"chart_interval"`
	SampleBufferSize int           `yaml:"sample_buffer_size"`
	SinkErrorBackoff time.Duration `yaml:"sink_error_backoff"`

	StreamMode            StreamMode    `yaml:"stream_mode"`
	BackendGRPCAddr       string        `yaml:"backend_grpc_addr"`
	BackendWSURL          string        `yaml:"backend_ws_url"`
	BackendToken          string        `yaml:"backend_token"`
	GRPCChartStreamMethod string        `yaml:"grpc_chart_stream_method"`
	GRPCInsightMethod     string        `yaml:"grpc_insight_stream_method"`
	GRPCConnectionMethod  string        `yaml:"grpc_connection_stream_method"`
	WebSocketWriteTimeout time.Duration `yaml:"ws_write_timeout"`
	WebSocketPingInterval time.Duration `yaml:"ws_ping_interval"`
	TLSEnabled            bool          `yaml:"tls_enabled"`
	TLSSkipVerify         bool          `yaml:"tls_skip_verify"`
	TLSCAPath             string        `yaml:"tls_ca_path"`
	TLSCertPath           string        `yaml:"tls_cert_path"`
	TLSKeyPath            string        `yaml:"tls_key_path"`
	MetricsListenAddr     string        `yaml:"metrics_addr"`
	ProbeListenAddr       string        `yaml:"probe_addr"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	LogLevel              string        `yaml:"log_level"`
	LogJSON               bool          `yaml:"log_json"`
}

func Default() Config {
	return Config{
		SourceMode:            SourceModeAuto,
		ConnectTimeout:        10 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMaxAttempts:  5,
		SimInterval:           100 * time.Millisecond,
		SimAnomalyInterval:    15 * time.Second,
		SimAnomalyDuration:    5 * time.Second,
		AnalysisCooldown:      5 * time.Second,
		ScoringInterval:       5 * time.Second,
		ChartInterval:         time.Second,
		SampleBufferSize:      1024,
		SinkErrorBackoff:      1500 * time.Millisecond,
		StreamMode:            StreamModeLog,
		BackendGRPCAddr:       "127.0.0.1:3001",
		BackendWSURL:          "ws://127.0.0.1:3001/ws/vitals",
		GRPCChartStreamMethod: "/vitalwatch.v1.PresentationService/StreamCharts",
		GRPCInsightMethod:     "/vitalwatch.v1.PresentationService/StreamInsights",
		GRPCConnectionMethod:  "/vitalwatch.v1.PresentationService/StreamConnection",
		WebSocketWriteTimeout: 5 * time.Second,
		WebSocketPingInterval: 10 * time.Second,
		MetricsListenAddr:     ":9100",
		ProbeListenAddr:       "0.0.0.0:7443",
		ShutdownTimeout:       20 * time.Second,
		LogLevel:              "info",
	}
}

// Load layers defaults, the optional YAML file at path (or $VITALWATCH_CONFIG)
// and VITALWATCH_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = env(EnvConfigPath, "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.SourceMode = SourceMode(strings.ToLower(string(cfg.SourceMode)))
	cfg.StreamMode = StreamMode(strings.ToLower(string(cfg.StreamMode)))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.SessionID = env("VITALWATCH_SESSION_ID", c.SessionID)
	c.SourceMode = SourceMode(env("VITALWATCH_SOURCE_MODE", string(c.SourceMode)))
	c.DeviceName = env("VITALWATCH_DEVICE_NAME", c.DeviceName)
	c.ConnectTimeout = envDuration("VITALWATCH_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.ReconnectInitialDelay = envDuration("VITALWATCH_RECONNECT_INITIAL_DELAY", c.ReconnectInitialDelay)
	c.ReconnectMaxDelay = envDuration("VITALWATCH_RECONNECT_MAX_DELAY", c.ReconnectMaxDelay)
	c.ReconnectMaxAttempts = envInt("VITALWATCH_RECONNECT_MAX_ATTEMPTS", c.ReconnectMaxAttempts)
	c.SimInterval = envDuration("VITALWATCH_SIM_INTERVAL", c.SimInterval)
	c.SimAnomalyInterval = envDuration("VITALWATCH_SIM_ANOMALY_INTERVAL", c.SimAnomalyInterval)
	c.SimAnomalyDuration = envDuration("VITALWATCH_SIM_ANOMALY_DURATION", c.SimAnomalyDuration)
	c.SimSeed = envInt64("VITALWATCH_SIM_SEED", c.SimSeed)
	c.AnalysisCooldown = envDuration("VITALWATCH_ANALYSIS_COOLDOWN", c.AnalysisCooldown)
	c.ScoringInterval = envDuration("VITALWATCH_SCORING_INTERVAL", c.ScoringInterval)
	c.ChartInterval = envDuration("VITALWATCH_CHART_INTERVAL", c.ChartInterval)
	c.SampleBufferSize = envInt("VITALWATCH_SAMPLE_BUFFER_SIZE", c.SampleBufferSize)
	c.SinkErrorBackoff = envDuration("VITALWATCH_SINK_ERROR_BACKOFF", c.SinkErrorBackoff)
	c.StreamMode = StreamMode(env("VITALWATCH_STREAM_MODE", string(c.StreamMode)))
	c.BackendGRPCAddr = env("VITALWATCH_BACKEND_GRPC_ADDR", c.BackendGRPCAddr)
	c.BackendWSURL = env("VITALWATCH_BACKEND_WS_URL", c.BackendWSURL)
	c.BackendToken = env("VITALWATCH_BACKEND_TOKEN", c.BackendToken)
	c.GRPCChartStreamMethod = env("VITALWATCH_GRPC_CHART_STREAM_METHOD", c.GRPCChartStreamMethod)
	c.GRPCInsightMethod = env("VITALWATCH_GRPC_INSIGHT_STREAM_METHOD", c.GRPCInsightMethod)
	c.GRPCConnectionMethod = env("VITALWATCH_GRPC_CONNECTION_STREAM_METHOD", c.GRPCConnectionMethod)
	c.WebSocketWriteTimeout = envDuration("VITALWATCH_WS_WRITE_TIMEOUT", c.WebSocketWriteTimeout)
	c.WebSocketPingInterval = envDuration("VITALWATCH_WS_PING_INTERVAL", c.WebSocketPingInterval)
	c.TLSEnabled = envBool("VITALWATCH_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("VITALWATCH_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("VITALWATCH_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("VITALWATCH_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("VITALWATCH_TLS_KEY_PATH", c.TLSKeyPath)
	c.MetricsListenAddr = envAddr("VITALWATCH_METRICS_ADDR", c.MetricsListenAddr)
	c.ProbeListenAddr = envAddr("VITALWATCH_PROBE_ADDR", c.ProbeListenAddr)
	c.ShutdownTimeout = envDuration("VITALWATCH_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = env("VITALWATCH_LOG_LEVEL", c.LogLevel)
	c.LogJSON = envBool("VITALWATCH_LOG_JSON", c.LogJSON)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return errors.New("VITALWATCH_SESSION_ID must not be empty")
	}
	switch c.SourceMode {
	case SourceModeAuto, SourceModeLive, SourceModeSimulated:
	default:
		return fmt.Errorf("unsupported source mode %q", c.SourceMode)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("VITALWATCH_CONNECT_TIMEOUT must be > 0")
	}
	if c.ReconnectInitialDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return errors.New("reconnect delays must be > 0 and max >= initial")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return errors.New("VITALWATCH_RECONNECT_MAX_ATTEMPTS must be > 0")
	}
	if c.SimInterval <= 0 || c.SimAnomalyInterval <= 0 || c.SimAnomalyDuration <= 0 {
		return errors.New("simulator intervals must be > 0")
	}
	if c.AnalysisCooldown <= 0 || c.ScoringInterval <= 0 || c.ChartInterval <= 0 {
		return errors.New("analysis and chart intervals must be > 0")
	}
	if c.SampleBufferSize <= 0 {
		return errors.New("VITALWATCH_SAMPLE_BUFFER_SIZE must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("VITALWATCH_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.StreamMode {
	case StreamModeLog, StreamModeGRPC, StreamModeWebSocket:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.BackendGRPCAddr == "" {
			return errors.New("VITALWATCH_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCChartStreamMethod) == "" ||
			strings.TrimSpace(c.GRPCInsightMethod) == "" ||
			strings.TrimSpace(c.GRPCConnectionMethod) == "" {
			return errors.New("grpc stream methods are required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.BackendWSURL == "" {
		return errors.New("VITALWATCH_BACKEND_WS_URL is required for websocket mode")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envAddr is env for listen addresses: a variable that is set but empty
// disables the listener.
func envAddr(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
