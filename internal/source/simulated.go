package source

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"vitalwatch-agent/internal/model"
)

const (
	baselineSystolic  = 120.0
	baselineDiastolic = 80.0
	capSystolic       = 160.0
	capDiastolic      = 100.0
	baselineSpO2      = 98.0
	floorSpO2         = 93.0
	baselineTemp      = 36.5
	ceilingTemp       = 37.8
	pulseFrequencyHz  = 1.2
	pulseAmplitude    = 0.5
	activeHourFrom    = 7
	activeHourTo      = 22
)

type SimulatorConfig struct {
	Interval        time.Duration
	AnomalyInterval time.Duration
	AnomalyDuration time.Duration
}

func (c *SimulatorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.AnomalyInterval <= 0 {
		c.AnomalyInterval = 15 * time.Second
	}
	if c.AnomalyDuration <= 0 {
		c.AnomalyDuration = 5 * time.Second
	}
}

// Simulator generates plausible vitals with periodic anomaly windows.
type Simulator struct {
	cfg    SimulatorConfig
	clock  clock.Clock
	logger *slog.Logger
	drop   DropFunc

	mu      sync.Mutex
	rnd     *rand.Rand
	gen     generatorState
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type generatorState struct {
	systolic      float64
	diastolic     float64
	spo2          float64
	temp          float64
	steps         float64
	anomalyActive bool
	anomalyStart  time.Time
	lastAnomaly   time.Time
}

type SimulatorOption func(*Simulator)

func WithSimulatorClock(c clock.Clock) SimulatorOption {
	return func(s *Simulator) { s.clock = c }
}

func WithSimulatorRand(r *rand.Rand) SimulatorOption {
	return func(s *Simulator) { s.rnd = r }
}

func WithSimulatorDrop(fn DropFunc) SimulatorOption {
	return func(s *Simulator) { s.drop = fn }
}

func NewSimulator(cfg SimulatorConfig, logger *slog.Logger, opts ...SimulatorOption) *Simulator {
	cfg.applyDefaults()
	s := &Simulator{cfg: cfg, clock: clock.New(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.gen = generatorState{
		systolic:    baselineSystolic,
		diastolic:   baselineDiastolic,
		spo2:        baselineSpO2,
		temp:        baselineTemp,
		lastAnomaly: s.clock.Now(),
	}
	return s
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Start(ctx context.Context, out chan<- model.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("simulator already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	ticker := s.clock.Ticker(s.cfg.Interval)
	go s.loop(runCtx, ticker, out, s.done)
	s.logger.Info("simulated source started", "interval", s.cfg.Interval)
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("simulated source stopped")
	return nil
}

// Running reports whether the generator loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Simulator) loop(ctx context.Context, ticker *clock.Ticker, out chan<- model.Sample, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sample := range s.step(s.clock.Now()) {
				TrySend(out, sample, s.drop)
			}
		}
	}
}

// step advances every generator once and returns one sample per kind.
func (s *Simulator) step(now time.Time) []model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateAnomaly(now)
	return []model.Sample{
		model.NewSample(model.PulseSignal, s.pulse(now), now),
		model.NewPressureSample(s.pressure(), now),
		model.NewSample(model.OxygenSaturation, s.oxygen(), now),
		model.NewSample(model.Temperature, s.temperature(), now),
		model.NewSample(model.StepCount, s.stepCount(now), now),
	}
}

func (s *Simulator) updateAnomaly(now time.Time) {
	g := &s.gen
	if g.anomalyActive && now.Sub(g.anomalyStart) >= s.cfg.AnomalyDuration {
		g.anomalyActive = false
		s.logger.Debug("simulated anomaly ended")
	}
	if !g.anomalyActive && now.Sub(g.lastAnomaly) > s.cfg.AnomalyInterval {
		g.anomalyActive = true
		g.anomalyStart = now
		g.lastAnomaly = now
		s.logger.Debug("simulated anomaly started", "duration", s.cfg.AnomalyDuration)
	}
}

// uniform returns a value in [lo, hi).
func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rnd.Float64()*(hi-lo)
}

func (s *Simulator) pulse(now time.Time) float64 {
	t := float64(now.UnixNano()) / float64(time.Second)
	base := math.Sin(t*pulseFrequencyHz*2*math.Pi) * pulseAmplitude
	if s.gen.anomalyActive {
		return base*1.5 + s.uniform(0, 0.3)
	}
	return base + s.uniform(0, 0.1)
}

func (s *Simulator) pressure() model.Pressure {
	g := &s.gen
	if g.anomalyActive {
		g.systolic = math.Min(capSystolic, g.systolic+s.uniform(-1, 3))
		g.diastolic = math.Min(capDiastolic, g.diastolic+s.uniform(-1, 2))
	} else {
		if g.systolic > baselineSystolic {
			g.systolic -= s.uniform(0, 2)
		} else {
			g.systolic = baselineSystolic + s.uniform(-2, 2)
		}
		if g.diastolic > baselineDiastolic {
			g.diastolic -= s.uniform(0, 1.5)
		} else {
			g.diastolic = baselineDiastolic + s.uniform(-1.5, 1.5)
		}
	}
	return model.Pressure{Systolic: math.Round(g.systolic), Diastolic: math.Round(g.diastolic)}
}

func (s *Simulator) oxygen() float64 {
	g := &s.gen
	switch {
	case g.anomalyActive:
		g.spo2 = math.Max(floorSpO2, g.spo2-s.uniform(0, 0.5))
	case g.spo2 < baselineSpO2:
		g.spo2 += s.uniform(0, 0.3)
	default:
		g.spo2 = baselineSpO2 + s.uniform(-0.2, 0.2)
	}
	return math.Round(g.spo2)
}

func (s *Simulator) temperature() float64 {
	g := &s.gen
	switch {
	case g.anomalyActive:
		g.temp = math.Min(ceilingTemp, g.temp+s.uniform(0, 0.1))
	case g.temp > baselineTemp:
		g.temp -= s.uniform(0, 0.05)
	default:
		g.temp = baselineTemp + s.uniform(-0.1, 0.1)
	}
	return g.temp
}

func (s *Simulator) stepCount(now time.Time) float64 {
	g := &s.gen
	hour := now.Hour()
	if hour < activeHourFrom || hour > activeHourTo {
		return g.steps
	}
	if g.anomalyActive {
		g.steps += math.Round(s.uniform(0, 5))
	} else if s.rnd.Float64() < 0.3 {
		g.steps++
	}
	return g.steps
}

var _ DataSource = (*Simulator)(nil)
