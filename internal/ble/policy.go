package ble

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy bounds automatic reconnection: the delay doubles on each
// failed attempt up to a ceiling, and the policy is exhausted after
// maxAttempts failures. Not safe for concurrent use; ConnManager guards it.
type ReconnectPolicy struct {
	maxAttempts int
	attempt     int
	delay       time.Duration
	backoff     *backoff.ExponentialBackOff
}

func NewReconnectPolicy(initial, ceiling time.Duration, maxAttempts int) *ReconnectPolicy {
	if initial <= 0 {
		initial = time.Second
	}
	if ceiling < initial {
		ceiling = initial
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	p := &ReconnectPolicy{maxAttempts: maxAttempts, backoff: b}
	p.Reset()
	return p
}

func (p *ReconnectPolicy) Reset() {
	p.attempt = 0
	p.backoff.Reset()
	p.delay = p.backoff.NextBackOff()
}

// Fail records a failed attempt and advances the delay.
func (p *ReconnectPolicy) Fail() {
	p.attempt++
	p.delay = p.backoff.NextBackOff()
}

func (p *ReconnectPolicy) Attempt() int         { return p.attempt }
func (p *ReconnectPolicy) MaxAttempts() int     { return p.maxAttempts }
func (p *ReconnectPolicy) Delay() time.Duration { return p.delay }
func (p *ReconnectPolicy) Exhausted() bool      { return p.attempt >= p.maxAttempts }
