package devices

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor probes the bench periodically while no experiment is running.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMonitor(manager *Manager, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		manager:  manager,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start startet das zyklische Prüfen
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.interval <= 0 {
		return
	}

	m.running = true
	m.wg.Add(1)
	go m.loop()

	m.logger.Info("Device monitor started", zap.Duration("interval", m.interval))
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Device monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.tick()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	// Während einer Messung keine Bus-Zugriffe
	if m.manager.Busy() {
		return
	}

	for _, st := range m.manager.ProbeAll() {
		if st.Configured && !st.Connected {
			m.logger.Warn("Device not reachable",
				zap.String("device", string(st.Device)),
				zap.String("error", st.Error))
		}
	}
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
