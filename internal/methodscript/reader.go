package methodscript

import (
	"context"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLabCore/internal/faults"
)

const (
	DefaultPollInterval = 20 * time.Millisecond
	DefaultWaitBudget   = 10 * time.Second
)

// ByteSource is the serial side the reader consumes.
type ByteSource interface {
	Available() (int, error)
	ReadByte() (byte, error)
}

// Reader assembles newline terminated lines from a polled byte source.
type Reader struct {
	src    ByteSource
	poll   time.Duration
	budget time.Duration
}

func NewReader(src ByteSource, poll, budget time.Duration) *Reader {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if budget <= 0 {
		budget = DefaultWaitBudget
	}
	return &Reader{src: src, poll: poll, budget: budget}
}

// ReadLine returns the next line without its terminator. It fails with
// faults.ErrTimeout when no byte arrives within the wait budget.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	var sb strings.Builder

	for {
		if err := r.waitForData(ctx); err != nil {
			return "", err
		}

		c, err := r.src.ReadByte()
		if err != nil {
			return "", faults.Transport("serial read: %v", err)
		}
		switch c {
		case '\n':
			return sb.String(), nil
		case '\r':
		default:
			sb.WriteByte(c)
		}
	}
}

func (r *Reader) waitForData(ctx context.Context) error {
	deadline := time.Now().Add(r.budget)

	for {
		n, err := r.src.Available()
		if err != nil {
			return faults.Transport("serial probe: %v", err)
		}
		if n > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return faults.Timeout("no response from device within %s", r.budget)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}
