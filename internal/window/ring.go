package window

import (
	"sync"

	"vitalwatch-agent/internal/model"
)

// Ring is a fixed-capacity FIFO of samples. Once full, every append
// overwrites the oldest slot.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.Sample
	next  int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Sample, capacity)}
}

func (r *Ring) Append(s model.Sample) {
	r.mu.Lock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Snapshot copies the buffered samples oldest first.
func (r *Ring) Snapshot() []model.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Sample, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Latest() (model.Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return model.Sample{}, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Ring) Cap() int {
	return len(r.buf)
}
