package ble

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hookHandler runs fn synchronously whenever a record with message msg is
// logged.
type hookHandler struct {
	msg string
	fn  func()
}

func hookLogger(msg string, fn func()) *slog.Logger {
	return slog.New(&hookHandler{msg: msg, fn: fn})
}

func (h *hookHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hookHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.fn()
	}
	return nil
}

func (h *hookHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *hookHandler) WithGroup(string) slog.Handler      { return h }

// fakeCentral fails the next len(errs) connects with the scripted errors and
// succeeds afterwards.
type fakeCentral struct {
	mu       sync.Mutex
	errs     []error
	connects int
	missing  map[bluetooth.UUID]bool
	last     *fakePeripheral
}

func (c *fakeCentral) Connect(ctx context.Context, services []bluetooth.UUID, onLost func()) (Peripheral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return nil, err
	}
	p := &fakePeripheral{onLost: onLost, missing: c.missing, chars: make(map[bluetooth.UUID]*fakeCharacteristic)}
	c.last = p
	return p, nil
}

func (c *fakeCentral) failNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.errs = append(c.errs, errors.New("no peripheral in range"))
	}
}

func (c *fakeCentral) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeCentral) peripheral() *fakePeripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakePeripheral struct {
	mu           sync.Mutex
	onLost       func()
	missing      map[bluetooth.UUID]bool
	chars        map[bluetooth.UUID]*fakeCharacteristic
	disconnected bool
}

func (p *fakePeripheral) Characteristic(service, characteristic bluetooth.UUID) (Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[characteristic] {
		return nil, ErrServiceSetupFailed
	}
	ch := &fakeCharacteristic{}
	p.chars[characteristic] = ch
	return ch, nil
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

func (p *fakePeripheral) notify(characteristic bluetooth.UUID, payload []byte) {
	p.mu.Lock()
	ch := p.chars[characteristic]
	p.mu.Unlock()
	if ch != nil {
		ch.notify(payload)
	}
}

func (p *fakePeripheral) drop() {
	p.onLost()
}

type fakeCharacteristic struct {
	mu      sync.Mutex
	handler func([]byte)
}

func (c *fakeCharacteristic) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

func (c *fakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

func (c *fakeCharacteristic) notify(payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(payload)
	}
}
