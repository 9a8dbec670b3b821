package ble

import (
	"tinygo.org/x/bluetooth"

	"vitalwatch-agent/internal/model"
)

var (
	HealthServiceUUID        = bluetooth.New16BitUUID(0x183C)
	OpticalSignalServiceUUID = bluetooth.New16BitUUID(0x1822)
	StepServiceUUID          = bluetooth.New16BitUUID(0x1814)
	BloodPressureServiceUUID = bluetooth.New16BitUUID(0x1810)

	PulseSignalCharUUID      = bluetooth.New16BitUUID(0x2A37)
	OxygenSaturationCharUUID = bluetooth.New16BitUUID(0x2A5F)
	TemperatureCharUUID      = bluetooth.New16BitUUID(0x2A1C)
	StepCountCharUUID        = bluetooth.New16BitUUID(0x2A53)
	BloodPressureCharUUID    = bluetooth.New16BitUUID(0x2A35)
)

// Profile binds one notifying characteristic to a metric kind.
type Profile struct {
	Kind           model.MetricKind
	Service        bluetooth.UUID
	Characteristic bluetooth.UUID
	Decode         Decoder
	Optional       bool
}

func DefaultProfiles() []Profile {
	return []Profile{
		{Kind: model.PulseSignal, Service: OpticalSignalServiceUUID, Characteristic: PulseSignalCharUUID, Decode: DecodePulseSignal},
		{Kind: model.Temperature, Service: HealthServiceUUID, Characteristic: TemperatureCharUUID, Decode: DecodeTemperature},
		{Kind: model.OxygenSaturation, Service: HealthServiceUUID, Characteristic: OxygenSaturationCharUUID, Decode: DecodeOxygenSaturation},
		{Kind: model.StepCount, Service: StepServiceUUID, Characteristic: StepCountCharUUID, Decode: DecodeStepCount},
		{Kind: model.BloodPressure, Service: BloodPressureServiceUUID, Characteristic: BloodPressureCharUUID, Decode: DecodeBloodPressure, Optional: true},
	}
}

// RequiredServices returns the distinct services of the non-optional profiles
// in first-seen order.
func RequiredServices(profiles []Profile) []bluetooth.UUID {
	seen := make(map[bluetooth.UUID]bool, len(profiles))
	var out []bluetooth.UUID
	for _, p := range profiles {
		if p.Optional || seen[p.Service] {
			continue
		}
		seen[p.Service] = true
		out = append(out, p.Service)
	}
	return out
}
