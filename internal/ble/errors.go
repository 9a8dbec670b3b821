package ble

import "errors"

var (
	// ErrDeviceUnavailable means no compatible peripheral could be reached:
	// adapter missing, nothing advertising the required services, or the
	// connect deadline expired.
	ErrDeviceUnavailable = errors.New("ble device unavailable")
	// ErrServiceSetupFailed means a peripheral was found but a required
	// service or characteristic is missing or refuses notifications.
	ErrServiceSetupFailed = errors.New("ble service setup failed")
	// ErrPeripheralDisconnected marks a link the peripheral dropped on its own.
	ErrPeripheralDisconnected = errors.New("ble peripheral disconnected")
	ErrConnectInProgress      = errors.New("ble connect already in progress")
)
