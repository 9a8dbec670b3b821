package version

import (
	"time"

	"vitalwatch-agent/internal/config"
)

const AgentVersion = "v0.1.0"

type GetVersionResponse struct {
	SessionID       string `json:"session_id"`
	AgentVersion    string `json:"agent_version"`
	SourceMode      string `json:"source_mode"`
	StreamMode      string `json:"stream_mode"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}

func Get(cfg config.Config, now time.Time) GetVersionResponse {
	return GetVersionResponse{
		SessionID:       cfg.SessionID,
		AgentVersion:    AgentVersion,
		SourceMode:      string(cfg.SourceMode),
		StreamMode:      string(cfg.StreamMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   now.UTC().Unix(),
	}
}
