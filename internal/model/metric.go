package model

import "time"

type MetricKind uint8

const (
	PulseSignal MetricKind = iota
	BloodPressure
	OxygenSaturation
	Temperature
	StepCount
)

// MetricKinds lists every kind in declaration order.
var MetricKinds = []MetricKind{PulseSignal, BloodPressure, OxygenSaturation, Temperature, StepCount}

func (k MetricKind) String() string {
	switch k {
	case PulseSignal:
		return "pulse_signal"
	case BloodPressure:
		return "blood_pressure"
	case OxygenSaturation:
		return "oxygen_saturation"
	case Temperature:
		return "temperature"
	case StepCount:
		return "step_count"
	default:
		return "unknown"
	}
}

func (k MetricKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Pressure holds one blood pressure pair in mmHg.
type Pressure struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// Sample is a single timestamped reading. Pressure is only meaningful for
// BloodPressure samples; every other kind carries Value.
type Sample struct {
	Kind     MetricKind `json:"kind"`
	Value    float64    `json:"value"`
	Pressure Pressure   `json:"pressure"`
	At       time.Time  `json:"at"`
}

func NewSample(kind MetricKind, value float64, at time.Time) Sample {
	return Sample{Kind: kind, Value: value, At: at}
}

func NewPressureSample(p Pressure, at time.Time) Sample {
	return Sample{Kind: BloodPressure, Pressure: p, At: at}
}
