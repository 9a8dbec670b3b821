package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/source"
)

// ConnManager owns the live source and its reconnect flow. Listeners are
// called synchronously on every transition and must not call back into the
// manager.
type ConnManager struct {
	live     *LiveSource
	policy   *ReconnectPolicy
	clock    clock.Clock
	logger   *slog.Logger
	listener func(model.ConnectionEvent)
	observe  func(attempt int, err error)

	// attemptMu keeps a single connection attempt in flight.
	attemptMu sync.Mutex

	mu          sync.Mutex
	state       model.ConnectionState
	out         chan<- model.Sample
	retry       *clock.Timer
	gen         uint64
	retryCtx    context.Context
	retryCancel context.CancelFunc
}

type ConnOption func(*ConnManager)

func WithConnClock(c clock.Clock) ConnOption {
	return func(m *ConnManager) { m.clock = c }
}

// WithStateListener receives every connection state transition.
func WithStateListener(fn func(model.ConnectionEvent)) ConnOption {
	return func(m *ConnManager) { m.listener = fn }
}

// WithAttemptObserver is told the outcome of every automatic reconnect attempt.
func WithAttemptObserver(fn func(attempt int, err error)) ConnOption {
	return func(m *ConnManager) { m.observe = fn }
}

func NewConnManager(live *LiveSource, policy *ReconnectPolicy, logger *slog.Logger, opts ...ConnOption) *ConnManager {
	if policy == nil {
		policy = NewReconnectPolicy(time.Second, 10*time.Second, 5)
	}
	m := &ConnManager{
		live:   live,
		policy: policy,
		clock:  clock.New(),
		logger: logger,
		state:  model.StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retryCtx, m.retryCancel = context.WithCancel(context.Background())
	live.OnLinkLost(m.handleLinkLost)
	return m
}

func (m *ConnManager) Name() string { return m.live.Name() }

// Start attaches the sample channel and performs the initial connect.
func (m *ConnManager) Start(ctx context.Context, out chan<- model.Sample) error {
	m.mu.Lock()
	m.out = out
	m.mu.Unlock()
	return m.Connect(ctx)
}

func (m *ConnManager) Stop() error {
	return m.Close()
}

// Connect runs one connection attempt. It preempts any pending automatic
// retry and is the only way out of the simulated state. It fails with
// ErrConnectInProgress while another attempt is running.
func (m *ConnManager) Connect(ctx context.Context) error {
	if !m.attemptMu.TryLock() {
		return ErrConnectInProgress
	}
	defer m.attemptMu.Unlock()

	m.mu.Lock()
	if m.state == model.StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.cancelRetryLocked()
	gen, out := m.gen, m.out
	m.setStateLocked(model.StateConnecting, false)
	m.mu.Unlock()

	err := m.live.Start(ctx, out)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			_ = m.live.Stop()
		}
		return fmt.Errorf("%w: connection closed during connect", ErrDeviceUnavailable)
	}
	defer m.mu.Unlock()
	if err != nil {
		m.setStateLocked(model.StateDisconnected, false)
		m.logger.Warn("ble connect failed", "error", err)
		return err
	}
	m.policy.Reset()
	if !m.live.Connected() {
		// The session dropped before it was recorded as connected.
		m.logger.Warn("ble link lost during connect")
		m.linkLostLocked()
		return nil
	}
	m.setStateLocked(model.StateConnected, false)
	m.logger.Info("ble connected")
	return nil
}

// Close cancels any pending retry and releases the peripheral.
func (m *ConnManager) Close() error {
	m.mu.Lock()
	m.cancelRetryLocked()
	m.retryCancel()
	m.retryCtx, m.retryCancel = context.WithCancel(context.Background())
	if m.state != model.StateDisconnected {
		m.setStateLocked(model.StateDisconnected, false)
	}
	m.mu.Unlock()
	return m.live.Stop()
}

func (m *ConnManager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RetryStatus reports the policy's current attempt count and next delay.
func (m *ConnManager) RetryStatus() (attempt int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.Attempt(), m.policy.Delay()
}

func (m *ConnManager) handleLinkLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != model.StateConnected {
		return
	}
	m.linkLostLocked()
}

func (m *ConnManager) linkLostLocked() {
	if m.policy.Exhausted() {
		m.logger.Warn("ble link lost with no reconnect budget left, switching to simulation")
		m.setStateLocked(model.StateSimulated, true)
		return
	}
	m.setStateLocked(model.StateReconnecting, false)
	m.scheduleRetryLocked()
}

func (m *ConnManager) scheduleRetryLocked() {
	gen := m.gen
	delay := m.policy.Delay()
	m.retry = m.clock.AfterFunc(delay, func() { m.retryOnce(gen) })
	m.logger.Info("ble reconnect scheduled",
		"attempt", m.policy.Attempt()+1,
		"max_attempts", m.policy.MaxAttempts(),
		"retry_in", delay,
	)
}

func (m *ConnManager) retryOnce(gen uint64) {
	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.state != model.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	ctx, out := m.retryCtx, m.out
	attempt := m.policy.Attempt() + 1
	m.mu.Unlock()

	err := m.live.Start(ctx, out)
	if m.observe != nil {
		m.observe(attempt, err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			_ = m.live.Stop()
		}
		return
	}
	defer m.mu.Unlock()

	if err == nil && !m.live.Connected() {
		err = fmt.Errorf("%w: link lost before reconnect completed", ErrPeripheralDisconnected)
	}
	if err == nil {
		m.policy.Reset()
		m.setStateLocked(model.StateConnected, false)
		m.logger.Info("ble reconnected", "attempt", attempt)
		return
	}

	m.policy.Fail()
	m.logger.Warn("ble reconnect attempt failed",
		"attempt", attempt,
		"max_attempts", m.policy.MaxAttempts(),
		"error", err,
	)
	if m.policy.Exhausted() {
		m.logger.Warn("ble reconnect attempts exhausted, switching to simulation")
		m.setStateLocked(model.StateSimulated, true)
		return
	}
	m.scheduleRetryLocked()
}

func (m *ConnManager) cancelRetryLocked() {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *ConnManager) setStateLocked(state model.ConnectionState, switchedToSimulation bool) {
	m.state = state
	if m.listener == nil {
		return
	}
	m.listener(model.ConnectionEvent{
		State:                state,
		Connected:            state == model.StateConnected,
		SwitchedToSimulation: switchedToSimulation,
		At:                   m.clock.Now(),
	})
}

var _ source.DataSource = (*ConnManager)(nil)
