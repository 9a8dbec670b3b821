package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/source"
)

// LiveSource is a single notification session with a peripheral. It does not
// reconnect on its own; ConnManager drives it.
type LiveSource struct {
	central        Central
	profiles       []Profile
	clock          clock.Clock
	logger         *slog.Logger
	connectTimeout time.Duration
	drop           source.DropFunc

	mu         sync.Mutex
	peripheral Peripheral
	subs       []Characteristic
	session    uint64
	lost       uint64
	onLost     func()
}

type LiveOption func(*LiveSource)

func WithLiveClock(c clock.Clock) LiveOption {
	return func(s *LiveSource) { s.clock = c }
}

func WithProfiles(p []Profile) LiveOption {
	return func(s *LiveSource) { s.profiles = p }
}

func WithConnectTimeout(d time.Duration) LiveOption {
	return func(s *LiveSource) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

func WithLiveDrop(fn source.DropFunc) LiveOption {
	return func(s *LiveSource) { s.drop = fn }
}

func NewLiveSource(central Central, logger *slog.Logger, opts ...LiveOption) *LiveSource {
	s := &LiveSource{
		central:        central,
		profiles:       DefaultProfiles(),
		clock:          clock.New(),
		logger:         logger,
		connectTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LiveSource) Name() string { return "ble" }

// OnLinkLost registers the callback for unsolicited disconnects.
func (s *LiveSource) OnLinkLost(fn func()) {
	s.mu.Lock()
	s.onLost = fn
	s.mu.Unlock()
}

func (s *LiveSource) Start(ctx context.Context, out chan<- model.Sample) error {
	s.mu.Lock()
	if s.peripheral != nil {
		s.mu.Unlock()
		return errors.New("live source already started")
	}
	s.session++
	session := s.session
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	p, err := s.central.Connect(ctx, RequiredServices(s.profiles), func() { s.linkLost(session) })
	if err != nil {
		return classifyConnectErr(err)
	}

	subs, err := s.subscribe(p, out)
	if err != nil {
		release(p, subs)
		return err
	}

	s.mu.Lock()
	switch {
	case s.session != session:
		s.mu.Unlock()
		release(p, subs)
		return fmt.Errorf("%w: source stopped during setup", ErrDeviceUnavailable)
	case s.lost == session:
		s.mu.Unlock()
		release(p, subs)
		return fmt.Errorf("%w: link dropped during setup", ErrDeviceUnavailable)
	}
	s.peripheral = p
	s.subs = subs
	s.mu.Unlock()

	s.logger.Info("ble peripheral subscribed", "characteristics", len(subs))
	return nil
}

func (s *LiveSource) Stop() error {
	s.mu.Lock()
	p, subs := s.peripheral, s.subs
	s.peripheral = nil
	s.subs = nil
	s.session++
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return release(p, subs)
}

// Connected reports whether a session is currently up.
func (s *LiveSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peripheral != nil
}

func (s *LiveSource) subscribe(p Peripheral, out chan<- model.Sample) ([]Characteristic, error) {
	subs := make([]Characteristic, 0, len(s.profiles))
	for _, prof := range s.profiles {
		ch, err := p.Characteristic(prof.Service, prof.Characteristic)
		if err == nil {
			err = ch.Subscribe(s.handler(prof, out))
		}
		if err != nil {
			if prof.Optional {
				s.logger.Debug("optional characteristic unavailable", "kind", prof.Kind, "error", err)
				continue
			}
			if errors.Is(err, ErrServiceSetupFailed) {
				return subs, fmt.Errorf("%s characteristic: %w", prof.Kind, err)
			}
			return subs, fmt.Errorf("%w: %s characteristic: %w", ErrServiceSetupFailed, prof.Kind, err)
		}
		subs = append(subs, ch)
	}
	return subs, nil
}

func (s *LiveSource) handler(prof Profile, out chan<- model.Sample) func([]byte) {
	return func(payload []byte) {
		sample, err := prof.Decode(payload, s.clock.Now())
		if err != nil {
			if s.drop != nil {
				s.drop(prof.Kind, err)
			}
			return
		}
		source.TrySend(out, sample, s.drop)
	}
}

func (s *LiveSource) linkLost(session uint64) {
	s.mu.Lock()
	if session != s.session {
		s.mu.Unlock()
		return
	}
	if s.peripheral == nil {
		s.lost = session
		s.mu.Unlock()
		return
	}
	s.peripheral = nil
	s.subs = nil
	fn := s.onLost
	s.mu.Unlock()

	s.logger.Warn("ble link lost", "error", ErrPeripheralDisconnected)
	if fn != nil {
		fn()
	}
}

func release(p Peripheral, subs []Characteristic) error {
	var err error
	for _, ch := range subs {
		if e := ch.Unsubscribe(); e != nil {
			err = errors.Join(err, e)
		}
	}
	if e := p.Disconnect(); e != nil {
		err = errors.Join(err, e)
	}
	return err
}

func classifyConnectErr(err error) error {
	switch {
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrServiceSetupFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: connect timed out: %w", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

var _ source.DataSource = (*LiveSource)(nil)
