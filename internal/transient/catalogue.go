package transient

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Catalogue keeps the transient spectra of running and finished executions
// reachable by handle ID.
type Catalogue struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Spectrum
	seq  map[uuid.UUID]int
	next int
}

func NewCatalogue() *Catalogue {
	return &Catalogue{byID: make(map[uuid.UUID]*Spectrum), seq: make(map[uuid.UUID]int)}
}

func (c *Catalogue) Add(s *Spectrum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[s.ID()] = s
	c.seq[s.ID()] = c.next
	c.next++
}

func (c *Catalogue) Get(id uuid.UUID) (*Spectrum, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// Remove closes and forgets the spectrum.
func (c *Catalogue) Remove(id uuid.UUID) {
	c.mu.Lock()
	s, ok := c.byID[id]
	delete(c.byID, id)
	delete(c.seq, id)
	c.mu.Unlock()

	if ok {
		s.Close()
	}
}

// List returns the spectra in insertion order.
func (c *Catalogue) List() []*Spectrum {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Spectrum, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return c.seq[out[i].ID()] < c.seq[out[j].ID()] })
	return out
}
