package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Key identifies one device session.
type Key struct {
	Bus     BusKind
	Address string
}

func (k Key) String() string {
	return k.Bus.String() + ":" + k.Address
}

type entry struct {
	conn io.Closer
	refs int
	gate *WriteGate
}

// Registry owns the live device sessions. There is at most one session per
// key; sessions are opened on first Acquire and closed when the last handle
// is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*entry
	busLocks map[BusKind]*sync.Mutex
	spacing  time.Duration
	logger   *zap.Logger
}

func NewRegistry(writeSpacing time.Duration, logger *zap.Logger) *Registry {
	if writeSpacing <= 0 {
		writeSpacing = DefaultWriteSpacing
	}
	return &Registry{
		sessions: make(map[Key]*entry),
		busLocks: map[BusKind]*sync.Mutex{
			BusGPIB:   {},
			BusSerial: {},
			BusI2C:    {},
		},
		spacing: writeSpacing,
		logger:  logger,
	}
}

// Handle is a counted reference to a session of type T.
type Handle[T io.Closer] struct {
	reg  *Registry
	key  Key
	dev  T
	gate *WriteGate
	bus  *sync.Mutex

	once sync.Once
}

// Acquire returns a handle to the session for key, opening it with open if no
// session exists yet.
func Acquire[T io.Closer](r *Registry, key Key, open func() (T, error)) (*Handle[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		conn, err := open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", key, err)
		}
		e = &entry{conn: conn, gate: NewWriteGate(r.spacing)}
		r.sessions[key] = e
		r.logger.Debug("Session opened", zap.Stringer("key", key))
	}

	dev, ok := e.conn.(T)
	if !ok {
		return nil, fmt.Errorf("session %s has type %T", key, e.conn)
	}
	e.refs++

	return &Handle[T]{
		reg:  r,
		key:  key,
		dev:  dev,
		gate: e.gate,
		bus:  r.busLocks[key.Bus],
	}, nil
}

func (r *Registry) release(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(r.sessions, key)
	r.logger.Debug("Session closed", zap.Stringer("key", key))
	return e.conn.Close()
}

// Refs returns the reference count of the session for key, 0 if none is open.
func (r *Registry) Refs(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[key]; ok {
		return e.refs
	}
	return 0
}

// CloseAll closes every session regardless of outstanding handles.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.sessions {
		if err := e.conn.Close(); err != nil {
			r.logger.Warn("Close session failed", zap.Stringer("key", key), zap.Error(err))
		}
		delete(r.sessions, key)
	}
}

func (h *Handle[T]) Key() Key { return h.key }

// Dev returns the underlying session. Exchanges must run inside Exchange.
func (h *Handle[T]) Dev() T { return h.dev }

// Gate returns the write gate shared by all handles of this session.
func (h *Handle[T]) Gate() *WriteGate { return h.gate }

// Exchange runs fn while holding the lock of the session's bus kind.
func (h *Handle[T]) Exchange(fn func(dev T) error) error {
	h.bus.Lock()
	defer h.bus.Unlock()
	return fn(h.dev)
}

// Release drops this reference. Calling it twice is a no-op.
func (h *Handle[T]) Release() error {
	var err error
	h.once.Do(func() {
		err = h.reg.release(h.key)
	})
	return err
}
