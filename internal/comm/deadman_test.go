package comm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/stretchr/testify/assert"
)

func TestMonitorFiresOnceOnTimeout(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	var fired int32

	m := NewMonitor(time.Second, func() { atomic.AddInt32(&fired, 1) }, clock)
	m.Start()
	defer m.Stop()

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)

	// Fires once and deactivates; further time passing changes nothing.
	clock.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.False(t, m.Active())
}

func TestMonitorResetKeepsAlive(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	var fired int32

	m := NewMonitor(time.Second, func() { atomic.AddInt32(&fired, 1) }, clock)
	m.Start()
	defer m.Stop()

	for i := 0; i < 3; i++ {
		clock.Advance(800 * time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		m.Reset()
	}

	assert.Zero(t, atomic.LoadInt32(&fired))
	assert.True(t, m.Active())
}

func TestMonitorStopWithoutFiring(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	var fired int32

	m := NewMonitor(time.Second, func() { atomic.AddInt32(&fired, 1) }, clock)
	m.Start()
	m.Stop()

	clock.Advance(5 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
	assert.False(t, m.Active())
}

func TestMonitorStartIdempotent(t *testing.T) {
	m := NewMonitor(time.Second, nil, nil)
	m.Start()
	m.Start()
	assert.True(t, m.Active())
	m.Stop()
	m.Stop()
	assert.False(t, m.Active())
}
