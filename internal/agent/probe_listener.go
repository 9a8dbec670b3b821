package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vitalwatch-agent/internal/agent/version"
)

// runProbeListener answers every TCP connection with one status line
// followed by a JSON document carrying the version and health snapshot.
func (a *Agent) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.ProbeListenAddr)
	if addr == "" {
		a.logger.Debug("probe endpoint disabled")
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	a.logger.Info("probe endpoint listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(acceptErr, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept probe endpoint %s: %w", addr, acceptErr)
		}

		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Write(a.probeResponse())
		_ = conn.Close()
	}
}

func (a *Agent) probeResponse() []byte {
	body, err := json.Marshal(map[string]any{
		"agent":  version.Get(a.cfg, a.clock.Now()),
		"health": a.health.Snapshot(),
	})
	if err != nil {
		return []byte("vitalwatch-agent:ok\n")
	}
	return append(append([]byte("vitalwatch-agent:ok\n"), body...), '\n')
}
