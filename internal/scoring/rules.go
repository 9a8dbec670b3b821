package scoring

import (
	"math"

	"vitalwatch-agent/internal/model"
)

const (
	MetricPhysicalStress     = "Physical Stress"
	MetricSleepQuality       = "Sleep Quality"
	MetricExerciseRecovery   = "Exercise Recovery"
	MetricCardiovascularRisk = "Cardiovascular Risk"
	MetricHydrationRisk      = "Hydration Risk"
	MetricPhysicalFatigue    = "Physical Fatigue"
	MetricRespiratoryHealth  = "Respiratory Health"
	MetricOverallHealth      = "Overall Health"
)

// Inputs are the latest readings a cycle is scored on.
type Inputs struct {
	Systolic  float64
	Diastolic float64
	SpO2      float64
	Temp      float64
	Steps     float64
}

// Scores holds the unrounded per-rule results.
type Scores struct {
	Stress      float64
	Sleep       float64
	Recovery    float64
	Cardio      float64
	Hydration   float64
	Fatigue     float64
	Respiratory float64
}

func Compute(in Inputs, hour int) Scores {
	var s Scores

	if in.Systolic > 130 {
		s.Stress += 30
	}
	if in.Temp > 37.0 {
		s.Stress += 20
	}
	if in.Steps > 8000 {
		s.Stress += 20
	}

	s.Sleep = 100
	if in.Temp > 37.2 {
		s.Sleep -= 20
	}
	if in.Systolic > 125 {
		s.Sleep -= 15
	}
	if hour >= 22 && in.Steps > 500 {
		s.Sleep -= 25
	}

	s.Recovery = 100
	if in.Systolic > 130 {
		s.Recovery -= 20
	}
	if in.SpO2 < 96 {
		s.Recovery -= 30
	}
	if in.Steps > 10000 {
		s.Recovery -= 20
	}

	if in.Systolic > 140 {
		s.Cardio += 40
	}
	if in.Diastolic > 90 {
		s.Cardio += 30
	}
	if in.SpO2 < 95 {
		s.Cardio += 30
	}

	if in.Temp > 37.2 {
		s.Hydration += 30
	}
	if in.Systolic > 130 {
		s.Hydration += 20
	}
	if in.Steps > 8000 {
		s.Hydration += 20
	}

	if in.SpO2 < 96 {
		s.Fatigue += 20
	}
	if in.Steps > 10000 {
		s.Fatigue += 30
	}
	if in.Temp > 37.0 {
		s.Fatigue += 20
	}
	if in.Systolic > 130 {
		s.Fatigue += 20
	}

	// The two SpO2 penalties stack: a reading below 95 costs 60.
	s.Respiratory = 100
	if in.SpO2 < 95 {
		s.Respiratory -= 40
	}
	if in.SpO2 < 97 {
		s.Respiratory -= 20
	}
	if in.Steps > 5000 && in.SpO2 < 96 {
		s.Respiratory -= 20
	}

	return s
}

// Overall combines the raw rule scores into a single 0-100 figure.
func Overall(s Scores) float64 {
	v := 100.0
	v -= s.Stress / 2
	v -= (100 - s.Sleep) / 2
	v -= (100 - s.Recovery) / 2
	v -= s.Cardio
	v -= s.Hydration / 2
	v -= s.Fatigue / 2
	v -= (100 - s.Respiratory) / 2
	return math.Max(0, math.Min(100, v))
}

// Evaluate grades in at the given local hour and returns the eight insights
// in fixed order.
func Evaluate(in Inputs, hour int) []model.Insight {
	s := Compute(in, hour)
	overall := Overall(s)

	return []model.Insight{
		grade(MetricPhysicalStress, s.Stress, s.Stress > 50, false,
			"High physical stress detected", "", "Normal physical stress levels"),
		grade(MetricSleepQuality, s.Sleep, s.Sleep < 70, false,
			"Sleep quality might be affected", "", "Good sleep quality predicted"),
		grade(MetricExerciseRecovery, s.Recovery, s.Recovery < 60, false,
			"Recovery level is low", "", "Good recovery status"),
		grade(MetricCardiovascularRisk, s.Cardio, s.Cardio > 30, s.Cardio > 50,
			"Moderate cardiovascular risk", "Elevated cardiovascular risk", "Low cardiovascular risk"),
		grade(MetricHydrationRisk, s.Hydration, s.Hydration > 40, false,
			"Increased risk of dehydration", "", "Hydration levels appear normal"),
		grade(MetricPhysicalFatigue, s.Fatigue, s.Fatigue > 50, false,
			"High fatigue level detected", "", "Normal energy levels"),
		grade(MetricRespiratoryHealth, s.Respiratory, s.Respiratory < 70, false,
			"Respiratory health needs attention", "", "Good respiratory health"),
		grade(MetricOverallHealth, overall, overall < 80, overall < 60,
			"Health indicators are moderate", "Health indicators are concerning", "Health indicators are good"),
	}
}

func grade(metric string, score float64, warn, alert bool, warnMsg, alertMsg, okMsg string) model.Insight {
	in := model.Insight{Metric: metric, Score: int(math.Round(score))}
	switch {
	case alert:
		in.Severity, in.Message = model.SeverityAlert, alertMsg
	case warn:
		in.Severity, in.Message = model.SeverityWarning, warnMsg
	default:
		in.Severity, in.Message = model.SeverityPositive, okMsg
	}
	return in
}
