package model

import "time"

type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateSimulated
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionEvent is emitted on every connection state transition.
type ConnectionEvent struct {
	State                ConnectionState `json:"state"`
	Connected            bool            `json:"connected"`
	SwitchedToSimulation bool            `json:"switched_to_simulation"`
	At                   time.Time       `json:"at"`
}
