// Package session provides session ID generation and the readiness state
// machine shared by client and backend streams.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is the readiness state of a stream.
type State int

const (
	// StateConnecting - the stream is being established; sends are dropped.
	StateConnecting State = iota
	// StateOpen - the stream can send and receive.
	StateOpen
	// StateClosed - terminal. Reached from any state.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrAlreadyOpen   = errors.New("session already open")
)

// Lifecycle tracks readiness for a single stream.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING ──MarkOpen()──→ OPEN ──Close()──→ CLOSED
//	    │                                          ↑
//	    └──────────────── Close() ─────────────────┘
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsOpen reports whether sends are currently allowed.
func (l *Lifecycle) IsOpen() bool {
	return l.State() == StateOpen
}

// IsClosed reports whether the stream reached its terminal state.
func (l *Lifecycle) IsClosed() bool {
	return l.State() == StateClosed
}

// MarkOpen moves CONNECTING to OPEN. It fails if the stream was closed while
// connecting, in which case the caller owns tearing down the new connection.
func (l *Lifecycle) MarkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateOpen
		return nil
	case StateOpen:
		return ErrAlreadyOpen
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close moves the stream to CLOSED. Idempotent.
// Returns the state held before the call so callers can tell whether they
// performed the transition (prev != StateClosed).
func (l *Lifecycle) Close() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = StateClosed
	return prev
}
