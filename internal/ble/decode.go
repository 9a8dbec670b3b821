package ble

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"vitalwatch-agent/internal/model"
)

// Decoder turns one notification payload into a sample stamped with at.
type Decoder func(payload []byte, at time.Time) (model.Sample, error)

// DecodeError reports a payload that cannot be decoded. The sample is dropped.
type DecodeError struct {
	Kind   model.MetricKind
	Len    int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload (%d bytes): %s", e.Kind, e.Len, e.Reason)
}

func shortPayload(kind model.MetricKind, payload []byte, want int) error {
	return &DecodeError{Kind: kind, Len: len(payload), Reason: fmt.Sprintf("need at least %d bytes", want)}
}

func DecodePulseSignal(payload []byte, at time.Time) (model.Sample, error) {
	if len(payload) < 2 {
		return model.Sample{}, shortPayload(model.PulseSignal, payload, 2)
	}
	return model.NewSample(model.PulseSignal, float64(binary.LittleEndian.Uint16(payload)), at), nil
}

func DecodeOxygenSaturation(payload []byte, at time.Time) (model.Sample, error) {
	if len(payload) < 1 {
		return model.Sample{}, shortPayload(model.OxygenSaturation, payload, 1)
	}
	return model.NewSample(model.OxygenSaturation, float64(payload[0]), at), nil
}

func DecodeTemperature(payload []byte, at time.Time) (model.Sample, error) {
	if len(payload) < 4 {
		return model.Sample{}, shortPayload(model.Temperature, payload, 4)
	}
	v := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Sample{}, &DecodeError{Kind: model.Temperature, Len: len(payload), Reason: "non-finite value"}
	}
	return model.NewSample(model.Temperature, v, at), nil
}

func DecodeStepCount(payload []byte, at time.Time) (model.Sample, error) {
	if len(payload) < 2 {
		return model.Sample{}, shortPayload(model.StepCount, payload, 2)
	}
	return model.NewSample(model.StepCount, float64(binary.LittleEndian.Uint16(payload)), at), nil
}

const (
	bpFlagKPa    = 0x01
	mmHgPerKPa   = 7.50062
	sfloatNaN    = 0x07FF
	sfloatNRes   = 0x0800
	sfloatPosInf = 0x07FE
	sfloatNegInf = 0x0802
	sfloatRsvd   = 0x0801
)

// DecodeBloodPressure reads a Blood Pressure Measurement: a flags byte
// followed by systolic and diastolic as IEEE-11073 SFLOATs. kPa readings
// are converted to mmHg.
func DecodeBloodPressure(payload []byte, at time.Time) (model.Sample, error) {
	if len(payload) < 5 {
		return model.Sample{}, shortPayload(model.BloodPressure, payload, 5)
	}
	sys, ok := sfloat(binary.LittleEndian.Uint16(payload[1:3]))
	if !ok {
		return model.Sample{}, &DecodeError{Kind: model.BloodPressure, Len: len(payload), Reason: "reserved systolic value"}
	}
	dia, ok := sfloat(binary.LittleEndian.Uint16(payload[3:5]))
	if !ok {
		return model.Sample{}, &DecodeError{Kind: model.BloodPressure, Len: len(payload), Reason: "reserved diastolic value"}
	}
	if payload[0]&bpFlagKPa != 0 {
		sys *= mmHgPerKPa
		dia *= mmHgPerKPa
	}
	return model.NewPressureSample(model.Pressure{Systolic: sys, Diastolic: dia}, at), nil
}

// sfloat decodes a 16-bit IEEE-11073 float: 4-bit signed exponent, 12-bit
// signed mantissa.
func sfloat(raw uint16) (float64, bool) {
	m := raw & 0x0FFF
	switch m {
	case sfloatNaN, sfloatNRes, sfloatPosInf, sfloatNegInf, sfloatRsvd:
		if raw>>12 == 0 {
			return 0, false
		}
	}
	mantissa := int(m)
	if mantissa >= 0x0800 {
		mantissa -= 0x1000
	}
	exponent := int(raw >> 12)
	if exponent >= 0x08 {
		exponent -= 0x10
	}
	return float64(mantissa) * math.Pow10(exponent), true
}
