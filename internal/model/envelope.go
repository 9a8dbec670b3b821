package model

import "time"

type EnvelopeType string

const (
	EnvelopeChart      EnvelopeType = "chart_frame"
	EnvelopeInsights   EnvelopeType = "insight_report"
	EnvelopeConnection EnvelopeType = "connection_event"
)

// Envelope is transport-agnostic framing for stream payloads.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	SessionID string       `json:"session_id"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   any          `json:"payload"`
}
