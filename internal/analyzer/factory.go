package analyzer

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/transport"
)

// Backend carries the sessions and timing a variant needs. Only the fields of
// the requested kind must be set.
type Backend struct {
	GPIB   *transport.Handle[transport.GPIB]
	Serial *transport.Handle[transport.SerialPort]
	Rand   *rand.Rand

	PollInterval time.Duration
	PollTimeout  time.Duration
	LineBudget   time.Duration
	SimDelay     time.Duration

	Logger *zap.Logger
}

// New builds the analyzer of kind with its default parameters.
func New(kind Kind, b Backend) (Analyzer, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("analyzer", string(kind)))

	poll := b.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	timeout := b.PollTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	switch kind {
	case KindHP4294A:
		if b.GPIB == nil {
			return nil, fmt.Errorf("%s needs a gpib session", kind)
		}
		return NewHP4294A(b.GPIB, poll, timeout, logger), nil
	case KindNovocontrol:
		if b.GPIB == nil {
			return nil, fmt.Errorf("%s needs a gpib session", kind)
		}
		return NewNovocontrol(b.GPIB, poll, timeout, logger), nil
	case KindEmStatPico:
		if b.Serial == nil {
			return nil, fmt.Errorf("%s needs a serial session", kind)
		}
		return NewEmStatPico(b.Serial, 0, b.LineBudget, logger), nil
	case KindSimulator:
		return NewSimulator(b.Rand, b.SimDelay, logger), nil
	default:
		return nil, fmt.Errorf("unknown analyzer kind %q", kind)
	}
}
