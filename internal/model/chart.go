package model

import "time"

// ChartFrame carries the rolling series a dashboard needs on every refresh.
type ChartFrame struct {
	SessionID   string    `json:"session_id"`
	At          time.Time `json:"at"`
	Pulse       []float64 `json:"pulse"`
	Systolic    []float64 `json:"systolic"`
	Diastolic   []float64 `json:"diastolic"`
	SpO2        *float64  `json:"spo2,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Steps       *float64  `json:"steps,omitempty"`
}
