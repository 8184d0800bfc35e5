// Package connmgr implements the reconnect contract every client of the chat
// protocol follows: a small connection-lifecycle state machine with
// exponential backoff, independent of any transport or UI.
package connmgr

import (
	"log/slog"
	"sync"
	"time"
)

// State is a connection lifecycle state.
type State int

const (
	// ClosedNormal is the initial state and the result of an intentional
	// disconnect. No reconnect is scheduled from here.
	ClosedNormal State = iota
	Connecting
	Open
	// ClosedAbnormal is any close that was not an explicit disconnect.
	ClosedAbnormal
	// Reconnecting means a retry is scheduled and waiting for its backoff.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case ClosedNormal:
		return "closed_normal"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedAbnormal:
		return "closed_abnormal"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Timer is a stoppable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock delegates to time.AfterFunc;
// tests substitute a virtual clock.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Config assembles a Manager.
type Config struct {
	// BaseInterval is the first retry delay; retry n waits
	// BaseInterval * 2^n. Defaults to one second.
	BaseInterval time.Duration
	// MaxAttempts caps consecutive reconnect attempts. Defaults to 5.
	MaxAttempts int
	// Dial is invoked when a scheduled reconnect fires.
	Dial func()
	// OnStateChange, when set, observes every transition.
	OnStateChange func(State)
	Clock         Clock
	Logger        *slog.Logger
}

// Manager tracks the lifecycle of one client connection.
type Manager struct {
	baseInterval  time.Duration
	maxAttempts   int
	dial          func()
	onStateChange func(State)
	clock         Clock
	logger        *slog.Logger

	mu      sync.Mutex
	state   State
	attempt int
	pending Timer
}

// New creates a manager in the ClosedNormal state.
func New(cfg Config) *Manager {
	base := cfg.BaseInterval
	if base <= 0 {
		base = time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		baseInterval:  base,
		maxAttempts:   maxAttempts,
		dial:          cfg.Dial,
		onStateChange: cfg.OnStateChange,
		clock:         clock,
		logger:        logger,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current consecutive reconnect attempt count.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connecting records that a dial is in progress.
func (m *Manager) Connecting() {
	m.transition(Connecting)
}

// Opened records a successful connection and resets the attempt counter.
func (m *Manager) Opened() {
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.transition(Open)
}

// CloseNormal records a clean close initiated by the server or the protocol.
// No reconnect is scheduled.
func (m *Manager) CloseNormal() {
	m.transition(ClosedNormal)
}

// CloseAbnormal records an unexpected close and schedules a reconnect after
// BaseInterval * 2^attempt, unless the attempt budget is exhausted.
func (m *Manager) CloseAbnormal() {
	m.transition(ClosedAbnormal)

	m.mu.Lock()
	if m.attempt >= m.maxAttempts {
		attempt := m.attempt
		m.mu.Unlock()
		m.logger.Warn("reconnect attempts exhausted", "attempts", attempt)
		return
	}
	delay := m.baseInterval * (1 << uint(m.attempt))
	m.attempt++
	m.mu.Unlock()

	// The state must be Reconnecting before the timer can fire, or retry
	// would mistake the wakeup for a cancelled reconnect.
	m.transition(Reconnecting)

	m.mu.Lock()
	if m.state == Reconnecting {
		m.pending = m.clock.AfterFunc(delay, m.retry)
	}
	m.mu.Unlock()
	m.logger.Info("reconnect scheduled", "delay", delay)
}

// Disconnect is an explicit, intentional disconnect: it suppresses any
// pending or future reconnect and resets the attempt counter immediately.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.attempt = 0
	m.mu.Unlock()
	m.transition(ClosedNormal)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.state != Reconnecting {
		// Disconnect won the race with the timer.
		m.mu.Unlock()
		return
	}
	m.pending = nil
	dial := m.dial
	m.mu.Unlock()

	m.transition(Connecting)
	if dial != nil {
		dial()
	}
}

func (m *Manager) transition(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	notify := m.onStateChange
	m.mu.Unlock()

	if notify != nil {
		notify(next)
	}
}
