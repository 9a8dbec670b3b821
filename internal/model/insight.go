package model

import "time"

type Severity string

const (
	SeverityPositive Severity = "positive"
	SeverityWarning  Severity = "warning"
	SeverityAlert    Severity = "alert"
)

// Insight is one graded conclusion of a scoring rule.
type Insight struct {
	Metric   string   `json:"metric"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Score    int      `json:"score"`
}

// InsightReport is the full output of one analysis cycle. A newer report
// replaces the previous one entirely.
type InsightReport struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Insights    []Insight `json:"insights"`
}
