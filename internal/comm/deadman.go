package comm

import (
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/rs/zerolog/log"
)

// deadmanPollInterval is how often the monitor checks elapsed time.
const deadmanPollInterval = 10 * time.Millisecond

// Monitor is a deadman timer for heartbeat supervision. Once started it
// polls the time elapsed since the last Reset and invokes the timeout
// callback exactly once when the window is exceeded, then stops. It does
// not restart itself: resetting before expiry is the only way to keep it
// alive, and the caller must Reset on every genuine heartbeat receipt.
type Monitor struct {
	clock     time2.Clock
	timeout   time.Duration
	onTimeout func()

	mu     sync.Mutex
	last   time.Time
	active bool
	stop   chan struct{}
	done   chan struct{}
}

// NewMonitor creates a heartbeat monitor. The callback runs on the
// monitor goroutine and must not block.
func NewMonitor(timeout time.Duration, onTimeout func(), clock time2.Clock) *Monitor {
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Monitor{
		clock:     clock,
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Start begins monitoring with a fresh timer. Calling Start on an active
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.last = m.clock.Now()
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.watch()
}

// Reset restarts the timeout window. Called on every heartbeat receipt.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.last = m.clock.Now()
	m.mu.Unlock()
}

// Stop cancels monitoring without firing the callback. Safe to call on a
// monitor that never started or already fired.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		log.Warn().Msg("Deadman monitor did not stop within bound")
	}
}

// Active reports whether the monitor is currently watching.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Monitor) watch() {
	defer close(m.done)

	ticker := time.NewTicker(deadmanPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			elapsed := m.clock.Since(m.last)
			expired := m.active && elapsed > m.timeout
			if expired {
				m.active = false
			}
			m.mu.Unlock()

			if expired {
				log.Warn().
					Dur("elapsed", elapsed).
					Dur("timeout", m.timeout).
					Msg("Heartbeat timeout")
				if m.onTimeout != nil {
					m.onTimeout()
				}
				return
			}
		}
	}
}
