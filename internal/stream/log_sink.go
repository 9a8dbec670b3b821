package stream

import (
	"context"
	"log/slog"

	"vitalwatch-agent/internal/model"
)

// LogSink writes everything to the structured log. Chart frames are logged
// at debug level since they arrive every second.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SendChartFrame(ctx context.Context, f model.ChartFrame) error {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	attrs := []any{"pulse_points", len(f.Pulse), "bp_points", len(f.Systolic)}
	if f.SpO2 != nil {
		attrs = append(attrs, "spo2", *f.SpO2)
	}
	if f.Temperature != nil {
		attrs = append(attrs, "temperature", *f.Temperature)
	}
	if f.Steps != nil {
		attrs = append(attrs, "steps", *f.Steps)
	}
	s.logger.DebugContext(ctx, "chart frame", attrs...)
	return nil
}

func (s *LogSink) SendInsights(ctx context.Context, r model.InsightReport) error {
	for _, in := range r.Insights {
		s.logger.InfoContext(ctx, "insight",
			"report_id", r.ID,
			"metric", in.Metric,
			"severity", string(in.Severity),
			"score", in.Score,
			"message", in.Message,
		)
	}
	return nil
}

func (s *LogSink) SendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) error {
	s.logger.InfoContext(ctx, "connection state",
		"state", ev.State.String(),
		"connected", ev.Connected,
		"switched_to_simulation", ev.SwitchedToSimulation,
	)
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
