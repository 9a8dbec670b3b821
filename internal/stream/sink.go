package stream

import (
	"context"
	"encoding/json"
	"time"

	"vitalwatch-agent/internal/model"
)

// Sink is the presentation boundary. Implementations must be safe for
// concurrent use by the chart, insight and connection loops.
type Sink interface {
	SendChartFrame(ctx context.Context, f model.ChartFrame) error
	SendInsights(ctx context.Context, r model.InsightReport) error
	SendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) error
	Close(ctx context.Context) error
}

// ConnectionFrame tags a connection event with the session it belongs to.
type ConnectionFrame struct {
	SessionID     string                `json:"session_id"`
	TimestampUnix int64                 `json:"timestamp_unix"`
	Event         model.ConnectionEvent `json:"event"`
}

func NewConnectionFrame(sessionID string, ev model.ConnectionEvent) ConnectionFrame {
	return ConnectionFrame{SessionID: sessionID, TimestampUnix: ev.At.Unix(), Event: ev}
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func ChartEnvelope(f model.ChartFrame) model.Envelope {
	return model.Envelope{Type: model.EnvelopeChart, SessionID: f.SessionID, Timestamp: f.At, Payload: f}
}

func InsightEnvelope(r model.InsightReport) model.Envelope {
	return model.Envelope{Type: model.EnvelopeInsights, SessionID: r.SessionID, Timestamp: r.GeneratedAt, Payload: r}
}

func ConnectionEnvelope(sessionID string, ev model.ConnectionEvent) model.Envelope {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return model.Envelope{Type: model.EnvelopeConnection, SessionID: sessionID, Timestamp: at, Payload: ev}
}
