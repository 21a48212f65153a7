package transient

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

// XMode selects the x value of a TransSpect series.
type XMode int

const (
	XPoint XMode = iota
	XTimeDiff
)

// DefaultQueueSize bounds the notification queue of one aggregator.
const DefaultQueueSize = 64

var ErrClosed = errors.New("transient spectrum closed")

// Notification is delivered to the listener for every appended spectrum.
// It refers to the aggregator only by its handle ID.
type Notification struct {
	Handle   uuid.UUID
	Spectrum measurement.Spectrum
	Position int
	TimeDiff float64
}

type Listener func(Notification)

// Spectrum accumulates successive spectra of one transient measurement.
// Listener calls happen on a dedicated dispatcher goroutine in append order.
type Spectrum struct {
	id     uuid.UUID
	logger *zap.Logger

	// addMu keeps stamp, append and enqueue of one spectrum together
	addMu sync.Mutex

	mu         sync.Mutex
	spectra    []measurement.Spectrum
	stamps     []time.Time
	freqs      []float64
	mismatches int
	progress   float64

	sendMu   sync.RWMutex
	closed   bool
	queue    chan Notification
	done     chan struct{}
	listener Listener
}

// New starts the dispatcher for listener. A nil listener drops notifications.
func New(listener Listener, queueSize int, logger *zap.Logger) *Spectrum {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Spectrum{
		id:       uuid.New(),
		logger:   logger,
		queue:    make(chan Notification, queueSize),
		done:     make(chan struct{}),
		listener: listener,
	}
	go s.dispatch()
	return s
}

func (s *Spectrum) ID() uuid.UUID { return s.id }

func (s *Spectrum) dispatch() {
	defer close(s.done)
	for n := range s.queue {
		if s.listener != nil {
			s.listener(n)
		}
	}
}

// AddSpectrum appends sp. The first spectrum defines the frequency axis; a
// later spectrum with a different axis is kept but counted and logged.
// It blocks while the notification queue is full.
func (s *Spectrum) AddSpectrum(sp measurement.Spectrum) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	sp = sp.Clone()

	s.addMu.Lock()
	defer s.addMu.Unlock()

	s.mu.Lock()
	now := time.Now()
	if len(s.spectra) == 0 {
		s.freqs = sp.Frequencies()
	} else if !sameAxis(s.freqs, sp) {
		s.mismatches++
		s.logger.Warn("Spectrum frequency axis differs from first spectrum",
			zap.Stringer("handle", s.id),
			zap.Int("position", len(s.spectra)),
			zap.Int("points", len(sp)),
			zap.Int("axis_points", len(s.freqs)))
	}
	s.spectra = append(s.spectra, sp)
	s.stamps = append(s.stamps, now)
	n := Notification{
		Handle:   s.id,
		Spectrum: sp,
		Position: len(s.spectra) - 1,
		TimeDiff: now.Sub(s.stamps[0]).Seconds(),
	}
	s.mu.Unlock()

	s.queue <- n
	return nil
}

func sameAxis(freqs []float64, sp measurement.Spectrum) bool {
	if len(freqs) != len(sp) {
		return false
	}
	for i, p := range sp {
		if math.Abs(p.X()-freqs[i]) > 1e-9*math.Max(math.Abs(freqs[i]), 1) {
			return false
		}
	}
	return true
}

// Close stops accepting spectra and waits until queued notifications have
// been delivered.
func (s *Spectrum) Close() {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.sendMu.Unlock()
	<-s.done
}

func (s *Spectrum) SpectrumCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spectra)
}

// Frequencies returns the axis recorded from the first spectrum.
func (s *Spectrum) Frequencies() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.freqs...)
}

// At returns a copy of the spectrum at position i.
func (s *Spectrum) At(i int) (measurement.Spectrum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.spectra) {
		return nil, false
	}
	return s.spectra[i].Clone(), true
}

func (s *Spectrum) LastSpectrum() (measurement.Spectrum, bool) {
	s.mu.Lock()
	n := len(s.spectra)
	s.mu.Unlock()
	return s.At(n - 1)
}

// TimeDiff returns seconds between the first capture and capture i.
func (s *Spectrum) TimeDiff(i int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.stamps) {
		return 0
	}
	return s.stamps[i].Sub(s.stamps[0]).Seconds()
}

// TransSpect returns the value at freqIndex across all captured spectra. The
// result is empty when freqIndex is outside a spectrum.
func (s *Spectrum) TransSpect(freqIndex int, mode XMode) measurement.Spectrum {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(measurement.Spectrum, 0, len(s.spectra))
	for i, sp := range s.spectra {
		if freqIndex < 0 || freqIndex >= len(sp) {
			return measurement.Spectrum{}
		}
		p := sp[freqIndex]

		x := float64(i)
		if mode == XTimeDiff {
			x = s.stamps[i].Sub(s.stamps[0]).Seconds()
		}
		out = append(out, measurement.NewDataPoint(x, p.Real(), p.Imag()))
	}
	return out
}

// AxisMismatches counts appended spectra whose axis differed from the first.
func (s *Spectrum) AxisMismatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mismatches
}

func (s *Spectrum) SetProgress(p float64) {
	s.mu.Lock()
	s.progress = math.Max(0, math.Min(1, p))
	s.mu.Unlock()
}

func (s *Spectrum) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}
