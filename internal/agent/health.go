package agent

import (
	"sync/atomic"
	"time"

	"vitalwatch-agent/internal/model"
)

type HealthStatus struct {
	deviceConnected  atomic.Bool
	simulationActive atomic.Bool
	streamConnected  atomic.Bool
	state            atomic.Uint32
	lastSampleAt     atomic.Int64
	lastAnalysisAt   atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.state.Store(uint32(model.StateDisconnected))
	return h
}

func (h *HealthStatus) SetConnection(ev model.ConnectionEvent) {
	h.state.Store(uint32(ev.State))
	h.deviceConnected.Store(ev.Connected)
}

func (h *HealthStatus) SetSimulationActive(ok bool) {
	h.simulationActive.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkSample(ts time.Time) {
	h.lastSampleAt.Store(ts.UnixNano())
}

func (h *HealthStatus) MarkAnalysis(ts time.Time) {
	h.lastAnalysisAt.Store(ts.UnixNano())
}

func (h *HealthStatus) State() model.ConnectionState {
	return model.ConnectionState(h.state.Load())
}

func (h *HealthStatus) DeviceConnected() bool  { return h.deviceConnected.Load() }
func (h *HealthStatus) SimulationActive() bool { return h.simulationActive.Load() }

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"connection_state":  h.State().String(),
		"device_connected":  h.deviceConnected.Load(),
		"simulation_active": h.simulationActive.Load(),
		"stream_connected":  h.streamConnected.Load(),
	}
	if v := h.lastSampleAt.Load(); v > 0 {
		out["last_sample_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastAnalysisAt.Load(); v > 0 {
		out["last_analysis_at"] = time.Unix(0, v).UTC()
	}
	return out
}
