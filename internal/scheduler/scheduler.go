package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/observability"
	"vitalwatch-agent/internal/stream"
	"vitalwatch-agent/internal/window"
)

// ChartPulsePoints is how many pulse samples a chart frame carries.
const ChartPulsePoints = 50

type Analyzer interface {
	Analyze(r window.Reader) []model.Insight
}

type Scheduler struct {
	logger          *slog.Logger
	clock           clock.Clock
	sessionID       string
	store           window.Reader
	engine          Analyzer
	sink            stream.Sink
	metrics         *observability.Metrics
	scoringInterval time.Duration
	chartInterval   time.Duration
	errorBackoff    time.Duration
	onReport        func(model.InsightReport)
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithReportHook is called with every report after it has been handed to
// the sink.
func WithReportHook(fn func(model.InsightReport)) Option {
	return func(s *Scheduler) { s.onReport = fn }
}

func New(
	logger *slog.Logger,
	sessionID string,
	store window.Reader,
	engine Analyzer,
	sink stream.Sink,
	scoringInterval, chartInterval, errorBackoff time.Duration,
	opts ...Option,
) *Scheduler {
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	s := &Scheduler{
		logger:          logger,
		clock:           clock.New(),
		sessionID:       sessionID,
		store:           store,
		engine:          engine,
		sink:            sink,
		scoringInterval: scoringInterval,
		chartInterval:   chartInterval,
		errorBackoff:    errorBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runLoop(gctx, "scoring", s.scoringInterval, s.analyzeAndSend)
	})
	g.Go(func() error {
		return s.runLoop(gctx, "chart", s.chartInterval, s.chartAndSend)
	})
	return g.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				s.logger.Error(name+" send failed", "error", err)
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

func (s *Scheduler) analyzeAndSend(ctx context.Context) error {
	started := s.clock.Now()
	insights := s.engine.Analyze(s.store)
	s.metrics.AnalysisRun(insights, s.clock.Since(started))
	if len(insights) == 0 {
		return nil
	}

	report := model.InsightReport{
		ID:          uuid.NewString(),
		SessionID:   s.sessionID,
		GeneratedAt: s.clock.Now().UTC(),
		Insights:    insights,
	}
	err := s.sink.SendInsights(ctx, report)
	if s.onReport != nil {
		s.onReport(report)
	}
	if err != nil {
		s.metrics.SinkError("insights")
		return fmt.Errorf("send insight report: %w", err)
	}
	return nil
}

func (s *Scheduler) chartAndSend(ctx context.Context) error {
	frame := BuildChartFrame(s.store, s.sessionID, s.clock.Now().UTC())
	if err := s.sink.SendChartFrame(ctx, frame); err != nil {
		s.metrics.SinkError("chart")
		return fmt.Errorf("send chart frame: %w", err)
	}
	return nil
}

// BuildChartFrame snapshots the rolling series and latest scalar values.
func BuildChartFrame(r window.Reader, sessionID string, at time.Time) model.ChartFrame {
	frame := model.ChartFrame{SessionID: sessionID, At: at}

	pulse := r.Snapshot(model.PulseSignal)
	if len(pulse) > ChartPulsePoints {
		pulse = pulse[len(pulse)-ChartPulsePoints:]
	}
	frame.Pulse = make([]float64, len(pulse))
	for i, p := range pulse {
		frame.Pulse[i] = p.Value
	}

	bp := r.Snapshot(model.BloodPressure)
	frame.Systolic = make([]float64, len(bp))
	frame.Diastolic = make([]float64, len(bp))
	for i, p := range bp {
		frame.Systolic[i] = p.Pressure.Systolic
		frame.Diastolic[i] = p.Pressure.Diastolic
	}

	frame.SpO2 = latestValue(r, model.OxygenSaturation)
	frame.Temperature = latestValue(r, model.Temperature)
	frame.Steps = latestValue(r, model.StepCount)
	return frame
}

func latestValue(r window.Reader, kind model.MetricKind) *float64 {
	s, ok := r.Latest(kind)
	if !ok {
		return nil
	}
	v := s.Value
	return &v
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
