package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"vitalwatch-agent/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeLog:
		return NewLogSink(logger), nil
	case config.StreamModeGRPC:
		return NewGRPCClient(
			cfg.BackendGRPCAddr,
			tlsCfg,
			cfg.BackendToken,
			cfg.SessionID,
			GRPCMethods{
				Charts:     cfg.GRPCChartStreamMethod,
				Insights:   cfg.GRPCInsightMethod,
				Connection: cfg.GRPCConnectionMethod,
			},
			logger,
		), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(
			cfg.BackendWSURL,
			cfg.BackendToken,
			cfg.SessionID,
			tlsCfg,
			cfg.WebSocketWriteTimeout,
			cfg.WebSocketPingInterval,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
