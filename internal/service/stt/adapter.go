// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"

	"speech-relay-service/internal/service/session"
)

// Callback receives events from a backend session. Implementations must
// tolerate calls from the adapter's own goroutines.
type Callback interface {
	// OnTranscript is called with each non-empty transcript the backend produces.
	OnTranscript(text string)

	// OnError is called when the backend session reports a runtime error.
	// The session is not closed on the callback's behalf.
	OnError(err error)

	// OnClose is called once when the backend side of the session has ended.
	OnClose()
}

// Adapter is one backend transcription session (Deepgram, Google, mock).
type Adapter interface {
	// Start opens the session and registers cb. It blocks while the backend
	// connection is being established.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards one audio chunk. Chunks sent while the session is not
	// OPEN are dropped without error.
	SendAudio(ctx context.Context, audio []byte) error

	// State reports the readiness of the session.
	State() session.State

	// Close asks the backend to finish gracefully. It does not wait for the
	// backend to confirm and is safe to call more than once.
	Close() error
}

// Factory builds adapters for one provider. A factory is created once per
// process and shared by all client sessions.
type Factory interface {
	// Name is the provider name used in logs and metric labels.
	Name() string

	// New returns an unstarted adapter.
	New(ctx context.Context) (Adapter, error)

	// Close releases process-wide resources held by the factory.
	Close() error
}

// Error tags an adapter failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Op returns the operation tag of err, or "unknown" if it carries none.
func Op(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return "unknown"
}
