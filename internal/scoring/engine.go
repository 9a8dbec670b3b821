package scoring

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vitalwatch-agent/internal/model"
	"vitalwatch-agent/internal/window"
)

const DefaultCooldown = 5 * time.Second

// Engine rate-limits analysis of the latest window values.
type Engine struct {
	clock    clock.Clock
	cooldown time.Duration

	mu       sync.Mutex
	last     time.Time
	analyzed bool
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func NewEngine(cooldown time.Duration, opts ...Option) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	e := &Engine{clock: clock.New(), cooldown: cooldown}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze returns the eight insights for the latest values in r, or nil when
// called inside the cooldown or when any required metric has no sample yet.
// A call that finds too little data still starts a new cooldown.
func (e *Engine) Analyze(r window.Reader) []model.Insight {
	now := e.clock.Now()

	e.mu.Lock()
	if e.analyzed && now.Sub(e.last) < e.cooldown {
		e.mu.Unlock()
		return nil
	}
	e.last = now
	e.analyzed = true
	e.mu.Unlock()

	in, ok := latestInputs(r)
	if !ok {
		return nil
	}
	return Evaluate(in, now.Local().Hour())
}

// LastAnalysis reports when Analyze last passed the cooldown gate.
func (e *Engine) LastAnalysis() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.analyzed
}

func latestInputs(r window.Reader) (Inputs, bool) {
	bp, ok := r.Latest(model.BloodPressure)
	if !ok {
		return Inputs{}, false
	}
	spo2, ok := r.Latest(model.OxygenSaturation)
	if !ok {
		return Inputs{}, false
	}
	temp, ok := r.Latest(model.Temperature)
	if !ok {
		return Inputs{}, false
	}
	steps, ok := r.Latest(model.StepCount)
	if !ok {
		return Inputs{}, false
	}
	return Inputs{
		Systolic:  bp.Pressure.Systolic,
		Diastolic: bp.Pressure.Diastolic,
		SpO2:      spo2.Value,
		Temp:      temp.Value,
		Steps:     steps.Value,
	}, true
}
