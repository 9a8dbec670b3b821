package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tinygo.org/x/bluetooth"

	"vitalwatch-agent/internal/ble"
	"vitalwatch-agent/internal/config"
	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/observability"
	"vitalwatch-agent/internal/scheduler"
	"vitalwatch-agent/internal/scoring"
	"vitalwatch-agent/internal/source"
	"vitalwatch-agent/internal/stream"
	"vitalwatch-agent/internal/window"
)

const connectionEventBuffer = 64

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	clock     clock.Clock
	store     *window.Store
	engine    *scoring.Engine
	sim       *source.Simulator
	conn      *ble.ConnManager
	scheduler *scheduler.Scheduler
	sink      stream.Sink
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	health    *HealthStatus

	samples chan model.Sample
	events  chan model.ConnectionEvent

	// primary is nil when the agent only simulates; fallback is nil when it
	// only accepts the live device.
	srcMu          sync.Mutex
	primary        source.DataSource
	fallback       source.DataSource
	fallbackActive bool
}

type options struct {
	clock      clock.Clock
	central    ble.Central
	sink       stream.Sink
	registerer prometheus.Registerer
	rnd        *rand.Rand
}

type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCentral replaces the host Bluetooth adapter.
func WithCentral(c ble.Central) Option {
	return func(o *options) { o.central = c }
}

func WithSink(s stream.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithRegisterer registers the agent's metrics on reg. If reg is also a
// Gatherer it backs the metrics endpoint.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rnd = r }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Agent, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	sink := o.sink
	if sink == nil {
		tlsCfg, err := cfg.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		if sink, err = stream.NewSinkFromConfig(cfg, tlsCfg, logger); err != nil {
			return nil, fmt.Errorf("stream sink: %w", err)
		}
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	reg := o.registerer
	if reg == nil {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = r
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	metrics := observability.NewMetrics(reg)
	health := NewHealthStatus()

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		store:    window.NewStore(),
		engine:   scoring.NewEngine(cfg.AnalysisCooldown, scoring.WithClock(o.clock)),
		sink:     &healthSink{sink: sink, health: health},
		metrics:  metrics,
		gatherer: gatherer,
		health:   health,
		samples:  make(chan model.Sample, cfg.SampleBufferSize),
		events:   make(chan model.ConnectionEvent, connectionEventBuffer),
	}

	if cfg.SourceMode != config.SourceModeLive {
		rnd := o.rnd
		if rnd == nil && cfg.SimSeed != 0 {
			rnd = rand.New(rand.NewSource(cfg.SimSeed))
		}
		simOpts := []source.SimulatorOption{
			source.WithSimulatorClock(o.clock),
			source.WithSimulatorDrop(a.dropSample),
		}
		if rnd != nil {
			simOpts = append(simOpts, source.WithSimulatorRand(rnd))
		}
		a.sim = source.NewSimulator(source.SimulatorConfig{
			Interval:        cfg.SimInterval,
			AnomalyInterval: cfg.SimAnomalyInterval,
			AnomalyDuration: cfg.SimAnomalyDuration,
		}, logger, simOpts...)
		a.fallback = a.sim
	}

	if cfg.SourceMode != config.SourceModeSimulated {
		central := o.central
		if central == nil {
			central = ble.NewAdapterCentral(bluetooth.DefaultAdapter, cfg.DeviceName, logger)
		}
		live := ble.NewLiveSource(central, logger,
			ble.WithLiveClock(o.clock),
			ble.WithConnectTimeout(cfg.ConnectTimeout),
			ble.WithLiveDrop(a.dropSample),
		)
		a.conn = ble.NewConnManager(live,
			ble.NewReconnectPolicy(cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMaxAttempts),
			logger,
			ble.WithConnClock(o.clock),
			ble.WithStateListener(a.publishEvent),
			ble.WithAttemptObserver(metrics.ReconnectAttempt),
		)
		a.primary = a.conn
	}

	a.scheduler = scheduler.New(
		logger,
		cfg.SessionID,
		a.store,
		a.engine,
		a.sink,
		cfg.ScoringInterval,
		cfg.ChartInterval,
		cfg.SinkErrorBackoff,
		scheduler.WithClock(o.clock),
		scheduler.WithMetrics(metrics),
		scheduler.WithReportHook(func(r model.InsightReport) {
			a.health.MarkAnalysis(r.GeneratedAt)
		}),
	)
	return a, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting vitalwatch-agent",
		"session_id", a.cfg.SessionID,
		"source_mode", a.cfg.SourceMode,
		"stream_mode", a.cfg.StreamMode,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("vitalwatch-agent stopped")
	return nil
}

// Health returns the live health snapshot.
func (a *Agent) Health() *HealthStatus { return a.health }

// Connect asks the device link to (re)connect, leaving simulation on success.
func (a *Agent) Connect(ctx context.Context) error {
	if a.conn == nil {
		return fmt.Errorf("%w: agent runs in simulated mode", ble.ErrDeviceUnavailable)
	}
	return a.conn.Connect(ctx)
}

func (a *Agent) dropSample(kind model.MetricKind, reason error) {
	a.metrics.SampleDropped(kind, reason)
	a.logger.Debug("sample dropped", "kind", kind.String(), "reason", reason)
}

// publishEvent runs under the connection manager's lock and must not block.
func (a *Agent) publishEvent(ev model.ConnectionEvent) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("connection event dropped, consumer lagging", "state", ev.State.String())
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendChartFrame(ctx context.Context, f model.ChartFrame) error {
	return s.track(s.sink.SendChartFrame(ctx, f))
}

func (s *healthSink) SendInsights(ctx context.Context, r model.InsightReport) error {
	return s.track(s.sink.SendInsights(ctx, r))
}

func (s *healthSink) SendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) error {
	return s.track(s.sink.SendConnectionEvent(ctx, ev))
}

func (s *healthSink) Close(ctx context.Context) error {
	s.health.SetStreamConnected(false)
	return s.sink.Close(ctx)
}

func (s *healthSink) track(err error) error {
	s.health.SetStreamConnected(err == nil)
	return err
}
