package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"vitalwatch-agent/internal/model"
)

func (a *Agent) run(ctx context.Context) error {
	if err := a.startAcquisition(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runIngestLoop(gctx)
	})
	g.Go(func() error {
		return a.runConnectionLoop(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})
	g.Go(func() error {
		return a.runMetricsServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startAcquisition tries the primary source once and falls back to the
// simulator when it cannot be reached.
func (a *Agent) startAcquisition(ctx context.Context) error {
	if a.primary != nil {
		err := a.primary.Start(ctx, a.samples)
		if err == nil {
			a.logger.Info("data source started", "source", a.primary.Name())
			return nil
		}
		if a.fallback == nil {
			return fmt.Errorf("initial %s connect: %w", a.primary.Name(), err)
		}
		a.logger.Warn("primary data source unavailable, falling back",
			"source", a.primary.Name(),
			"fallback", a.fallback.Name(),
			"error", err,
		)
	}
	if err := a.activateFallback(ctx); err != nil {
		return err
	}
	a.publishEvent(model.ConnectionEvent{
		State:                model.StateSimulated,
		SwitchedToSimulation: a.primary != nil,
		At:                   a.clock.Now(),
	})
	return nil
}

func (a *Agent) activateFallback(ctx context.Context) error {
	a.srcMu.Lock()
	defer a.srcMu.Unlock()
	if a.fallback == nil {
		return errors.New("no fallback data source configured")
	}
	if a.fallbackActive {
		return nil
	}
	if err := a.fallback.Start(ctx, a.samples); err != nil {
		return fmt.Errorf("start %s: %w", a.fallback.Name(), err)
	}
	a.fallbackActive = true
	a.health.SetSimulationActive(true)
	a.metrics.SimulationActive(true)
	a.logger.Info("data source started", "source", a.fallback.Name())
	return nil
}

func (a *Agent) deactivateFallback() {
	a.srcMu.Lock()
	defer a.srcMu.Unlock()
	if !a.fallbackActive {
		return
	}
	if err := a.fallback.Stop(); err != nil {
		a.logger.Warn("stop fallback source failed", "source", a.fallback.Name(), "error", err)
	}
	a.fallbackActive = false
	a.health.SetSimulationActive(false)
	a.metrics.SimulationActive(false)
	a.logger.Info("fallback data source stopped", "source", a.fallback.Name())
}

func (a *Agent) runIngestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-a.samples:
			if !a.store.Append(s) {
				a.dropSample(s.Kind, fmt.Errorf("no window for kind %d", s.Kind))
				continue
			}
			a.metrics.SampleIngested(s.Kind)
			a.health.MarkSample(s.At)
		}
	}
}

func (a *Agent) runConnectionLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			a.handleConnectionEvent(ctx, ev)
		}
	}
}

func (a *Agent) handleConnectionEvent(ctx context.Context, ev model.ConnectionEvent) {
	a.health.SetConnection(ev)
	a.metrics.ConnectionState(ev.State)

	switch {
	case ev.SwitchedToSimulation:
		if err := a.activateFallback(ctx); err != nil {
			a.logger.Error("switch to simulation failed", "error", err)
		}
	case ev.Connected:
		a.deactivateFallback()
	}

	if err := a.sink.SendConnectionEvent(ctx, ev); err != nil {
		a.metrics.SinkError("connection")
		a.logger.Warn("connection event send failed", "state", ev.State.String(), "error", err)
	}
}

func (a *Agent) shutdown(ctx context.Context) {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("ble close failed", "error", err)
		}
	}
	if a.sim != nil {
		if err := a.sim.Stop(); err != nil {
			a.logger.Warn("simulator stop failed", "error", err)
		}
	}
	a.srcMu.Lock()
	a.fallbackActive = false
	a.srcMu.Unlock()
	a.health.SetSimulationActive(false)
	a.metrics.SimulationActive(false)

	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
}
