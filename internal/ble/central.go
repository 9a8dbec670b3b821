package ble

import (
	"context"

	"tinygo.org/x/bluetooth"
)

// Central finds a peripheral advertising any of services and opens a link
// to it. onLost is invoked at most once if the peripheral drops the link.
type Central interface {
	Connect(ctx context.Context, services []bluetooth.UUID, onLost func()) (Peripheral, error)
}

// Peripheral is one open link. Characteristic must resolve to exactly one
// characteristic or fail with ErrServiceSetupFailed.
type Peripheral interface {
	Characteristic(service, characteristic bluetooth.UUID) (Characteristic, error)
	Disconnect() error
}

type Characteristic interface {
	Subscribe(handler func(payload []byte)) error
	Unsubscribe() error
}
