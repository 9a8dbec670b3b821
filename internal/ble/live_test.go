package ble

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"vitalwatch-agent/internal/model"
)

func TestLiveSourceDeliversDecodedSamples(t *testing.T) {
	central := &fakeCentral{}
	var (
		mu      sync.Mutex
		dropped []error
	)
	live := NewLiveSource(central, discardLogger(), WithLiveDrop(func(_ model.MetricKind, err error) {
		mu.Lock()
		dropped = append(dropped, err)
		mu.Unlock()
	}))

	out := make(chan model.Sample, 4)
	require.NoError(t, live.Start(context.Background(), out))
	require.True(t, live.Connected())

	p := central.peripheral()
	p.notify(PulseSignalCharUUID, []byte{0x00, 0x02})
	s := <-out
	assert.Equal(t, model.PulseSignal, s.Kind)
	assert.Equal(t, 512.0, s.Value)

	p.notify(OxygenSaturationCharUUID, nil)
	mu.Lock()
	require.Len(t, dropped, 1)
	var decErr *DecodeError
	assert.ErrorAs(t, dropped[0], &decErr)
	mu.Unlock()

	require.NoError(t, live.Stop())
	assert.False(t, live.Connected())
	assert.True(t, p.disconnected)
}

func TestLiveSourceMissingRequiredCharacteristic(t *testing.T) {
	central := &fakeCentral{missing: map[bluetooth.UUID]bool{TemperatureCharUUID: true}}
	live := NewLiveSource(central, discardLogger())

	err := live.Start(context.Background(), make(chan model.Sample, 1))
	require.ErrorIs(t, err, ErrServiceSetupFailed)
	assert.False(t, live.Connected())
	assert.True(t, central.peripheral().disconnected)
}

func TestLiveSourceSkipsOptionalCharacteristic(t *testing.T) {
	central := &fakeCentral{missing: map[bluetooth.UUID]bool{BloodPressureCharUUID: true}}
	live := NewLiveSource(central, discardLogger())

	require.NoError(t, live.Start(context.Background(), make(chan model.Sample, 1)))
	assert.True(t, live.Connected())
}

func TestLiveSourceConnectFailureIsDeviceUnavailable(t *testing.T) {
	central := &fakeCentral{}
	central.failNext(1)
	live := NewLiveSource(central, discardLogger())

	err := live.Start(context.Background(), make(chan model.Sample, 1))
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestLiveSourceLinkLostNotifiesOnce(t *testing.T) {
	central := &fakeCentral{}
	live := NewLiveSource(central, discardLogger())
	calls := 0
	live.OnLinkLost(func() { calls++ })

	require.NoError(t, live.Start(context.Background(), make(chan model.Sample, 1)))
	p := central.peripheral()
	p.drop()
	p.drop()

	assert.Equal(t, 1, calls)
	assert.False(t, live.Connected())
}

func TestRequiredServicesSkipsOptional(t *testing.T) {
	services := RequiredServices(DefaultProfiles())
	assert.Equal(t, []bluetooth.UUID{OpticalSignalServiceUUID, HealthServiceUUID, StepServiceUUID}, services)
}
