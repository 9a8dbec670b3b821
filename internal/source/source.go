package source

import (
	"context"

	"vitalwatch-agent/internal/model"
)

// DataSource is anything that produces samples: a live peripheral or the
// simulator. Start must not block past ctx; Stop releases every resource and
// is safe to call on a source that never started.
type DataSource interface {
	Name() string
	Start(ctx context.Context, out chan<- model.Sample) error
	Stop() error
}

// DropFunc is told about every sample a source discards.
type DropFunc func(kind model.MetricKind, reason error)

// ErrChannelFull is reported to a DropFunc when the consumer lags.
var ErrChannelFull = errChannelFull{}

type errChannelFull struct{}

func (errChannelFull) Error() string { return "sample channel full" }

// TrySend hands s to out without blocking.
func TrySend(out chan<- model.Sample, s model.Sample, drop DropFunc) bool {
	select {
	case out <- s:
		return true
	default:
		if drop != nil {
			drop(s.Kind, ErrChannelFull)
		}
		return false
	}
}
