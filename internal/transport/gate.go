package transport

import (
	"sync"
	"time"
)

// DefaultWriteSpacing is the minimum pause between two writes to a rate
// limited microcontroller register block.
const DefaultWriteSpacing = 10 * time.Millisecond

// WriteGate spaces consecutive writes to one device.
type WriteGate struct {
	mu      sync.Mutex
	spacing time.Duration
	last    time.Time
}

func NewWriteGate(spacing time.Duration) *WriteGate {
	return &WriteGate{spacing: spacing}
}

// Do waits until the spacing since the previous Do has elapsed, runs fn and
// records the time fn finished.
func (g *WriteGate) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wait := g.spacing - time.Since(g.last); !g.last.IsZero() && wait > 0 {
		time.Sleep(wait)
	}
	err := fn()
	g.last = time.Now()
	return err
}

// Last returns when the previous write finished.
func (g *WriteGate) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
