package connmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// virtualClock collects scheduled timers and fires them on demand.
type virtualClock struct {
	timers []*virtualTimer
}

type virtualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *virtualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *virtualClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &virtualTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *virtualClock) fireNext(t *testing.T) *virtualTimer {
	t.Helper()
	for _, timer := range c.timers {
		if !timer.fired && !timer.stopped {
			timer.fired = true
			timer.fn()
			return timer
		}
	}
	t.Fatal("no pending timer to fire")
	return nil
}

func (c *virtualClock) pending() int {
	n := 0
	for _, timer := range c.timers {
		if !timer.fired && !timer.stopped {
			n++
		}
	}
	return n
}

func TestLifecycleHappyPath(t *testing.T) {
	clock := &virtualClock{}
	var states []State
	m := New(Config{Clock: clock, OnStateChange: func(s State) { states = append(states, s) }})

	assert.Equal(t, ClosedNormal, m.State())
	m.Connecting()
	m.Opened()
	assert.Equal(t, Open, m.State())
	m.CloseNormal()
	assert.Equal(t, ClosedNormal, m.State())

	assert.Equal(t, []State{Connecting, Open, ClosedNormal}, states)
	assert.Zero(t, clock.pending(), "normal close schedules no reconnect")
}

func TestExponentialBackoff(t *testing.T) {
	clock := &virtualClock{}
	dials := 0
	m := New(Config{
		BaseInterval: 100 * time.Millisecond,
		MaxAttempts:  4,
		Clock:        clock,
		Dial:         func() { dials++ },
	})

	wantDelays := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}

	m.Connecting()
	for i, want := range wantDelays {
		m.CloseAbnormal()
		require.Equal(t, Reconnecting, m.State())
		require.Equal(t, i+1, m.Attempt())

		fired := clock.fireNext(t)
		assert.Equal(t, want, fired.delay, "attempt %d delay", i)
		assert.Equal(t, Connecting, m.State())
		assert.Equal(t, i+1, dials)
	}

	// Budget exhausted: no further retry is scheduled.
	m.CloseAbnormal()
	assert.Equal(t, ClosedAbnormal, m.State())
	assert.Zero(t, clock.pending())
}

func TestSuccessfulOpenResetsAttempt(t *testing.T) {
	clock := &virtualClock{}
	m := New(Config{BaseInterval: time.Second, MaxAttempts: 3, Clock: clock})

	m.Connecting()
	m.CloseAbnormal()
	clock.fireNext(t)
	assert.Equal(t, 1, m.Attempt())

	m.Opened()
	assert.Equal(t, 0, m.Attempt())

	// The next failure starts the backoff ladder over.
	m.CloseAbnormal()
	fired := clock.fireNext(t)
	assert.Equal(t, time.Second, fired.delay)
}

func TestDisconnectSuppressesPendingReconnect(t *testing.T) {
	clock := &virtualClock{}
	dials := 0
	m := New(Config{Clock: clock, Dial: func() { dials++ }})

	m.Connecting()
	m.CloseAbnormal()
	require.Equal(t, Reconnecting, m.State())

	m.Disconnect()
	assert.Equal(t, ClosedNormal, m.State())
	assert.Equal(t, 0, m.Attempt())
	assert.Zero(t, clock.pending(), "pending retry must be stopped")
	assert.Equal(t, 0, dials)
}

func TestDisconnectWinsRaceWithFiredTimer(t *testing.T) {
	clock := &virtualClock{}
	dials := 0
	m := New(Config{Clock: clock, Dial: func() { dials++ }})

	m.Connecting()
	m.CloseAbnormal()
	timer := clock.timers[0]

	m.Disconnect()
	// Simulate the timer callback running anyway (Stop raced the firing).
	timer.fn()

	assert.Equal(t, ClosedNormal, m.State())
	assert.Equal(t, 0, dials, "a disconnected manager never dials")
}
