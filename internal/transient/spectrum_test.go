package transient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KevinKickass/OpenLabCore/internal/measurement"
)

func spectrumAt(freqs []float64, offset float64) measurement.Spectrum {
	s := make(measurement.Spectrum, len(freqs))
	for i, f := range freqs {
		s[i] = measurement.NewDataPoint(f, offset+float64(i), -offset)
	}
	return s
}

func TestSpectrum_AddAndTransSpect(t *testing.T) {
	var (
		mu    sync.Mutex
		notes []Notification
	)
	s := New(func(n Notification) {
		mu.Lock()
		notes = append(notes, n)
		mu.Unlock()
	}, 2, zap.NewNop())

	freqs := []float64{100, 1000, 10000}
	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, s.AddSpectrum(spectrumAt(freqs, float64(i*10))))
		time.Sleep(time.Millisecond)
	}
	s.Close()

	assert.Equal(t, n, s.SpectrumCount())
	assert.Equal(t, freqs, s.Frequencies())
	assert.Zero(t, s.AxisMismatches())

	points := s.TransSpect(1, XPoint)
	require.Len(t, points, n)
	for i, p := range points {
		assert.Equal(t, float64(i), p.X())
		assert.Equal(t, float64(i*10)+1, p.Real())
	}

	times := s.TransSpect(2, XTimeDiff)
	require.Len(t, times, n)
	assert.Zero(t, times[0].X())
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, times[i].X(), times[i-1].X())
	}

	assert.Empty(t, s.TransSpect(3, XPoint))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notes, n)
	for i, note := range notes {
		assert.Equal(t, s.ID(), note.Handle)
		assert.Equal(t, i, note.Position)
		assert.InDelta(t, s.TimeDiff(i), note.TimeDiff, 1e-12)
	}
}

func TestSpectrum_AxisMismatchIsCountedAndLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(nil, 0, zap.New(core))
	defer s.Close()

	require.NoError(t, s.AddSpectrum(spectrumAt([]float64{1, 2}, 0)))
	require.NoError(t, s.AddSpectrum(spectrumAt([]float64{1, 3}, 0)))
	require.NoError(t, s.AddSpectrum(spectrumAt([]float64{1}, 0)))

	assert.Equal(t, 3, s.SpectrumCount())
	assert.Equal(t, 2, s.AxisMismatches())
	assert.Equal(t, []float64{1, 2}, s.Frequencies())
	assert.Equal(t, 2, logs.Len())
}

func TestSpectrum_ListenerMayReenter(t *testing.T) {
	var s *Spectrum
	seen := make(chan int, 4)
	s = New(func(n Notification) {
		seen <- s.SpectrumCount()
	}, 1, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddSpectrum(spectrumAt([]float64{1}, 0)))
	}
	s.Close()
	close(seen)

	count := 0
	for c := range seen {
		count++
		assert.GreaterOrEqual(t, c, 1)
	}
	assert.Equal(t, 3, count)
}

func TestSpectrum_ConcurrentProducersKeepAppendOrder(t *testing.T) {
	var notes []Notification
	s := New(func(n Notification) {
		notes = append(notes, n)
	}, 4, zap.NewNop())

	const producers, each = 16, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, s.AddSpectrum(spectrumAt([]float64{1, 10}, float64(p))))
			}
		}()
	}
	wg.Wait()
	s.Close()

	require.Len(t, notes, producers*each)
	for i, n := range notes {
		assert.Equal(t, i, n.Position)
		assert.Equal(t, s.TimeDiff(i), n.TimeDiff)
		if i > 0 {
			assert.GreaterOrEqual(t, n.TimeDiff, notes[i-1].TimeDiff)
		}
	}
}

func TestSpectrum_CloseRejectsAppend(t *testing.T) {
	s := New(nil, 0, zap.NewNop())
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.AddSpectrum(nil), ErrClosed)
}

func TestSpectrum_StoresCopies(t *testing.T) {
	s := New(nil, 0, zap.NewNop())
	defer s.Close()

	sp := spectrumAt([]float64{1, 2}, 0)
	require.NoError(t, s.AddSpectrum(sp))
	sp[0].SetX(99)

	last, ok := s.LastSpectrum()
	require.True(t, ok)
	assert.Equal(t, 1.0, last[0].X())

	_, ok = s.At(5)
	assert.False(t, ok)
}

func TestSpectrum_Progress(t *testing.T) {
	s := New(nil, 0, zap.NewNop())
	defer s.Close()
	s.SetProgress(1.7)
	assert.Equal(t, 1.0, s.Progress())
	s.SetProgress(0.25)
	assert.Equal(t, 0.25, s.Progress())
}

func TestCatalogue(t *testing.T) {
	c := NewCatalogue()
	a := New(nil, 0, zap.NewNop())
	b := New(nil, 0, zap.NewNop())
	c.Add(a)
	c.Add(b)

	got, ok := c.Get(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, []*Spectrum{a, b}, c.List())

	c.Remove(a.ID())
	_, ok = c.Get(a.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, a.AddSpectrum(nil), ErrClosed)
	c.Remove(b.ID())
}
