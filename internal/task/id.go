package task

import "sync/atomic"

// IDGenerator hands out monotonically increasing task IDs, starting at 1.
// Each execution context owns one.
type IDGenerator struct {
	last atomic.Int64
}

func (g *IDGenerator) Next() int64 {
	return g.last.Add(1)
}
