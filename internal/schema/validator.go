// Package schema checks outbound messages before they leave the process.
package schema

import (
	"errors"
	"fmt"

	"speech-relay-service/internal/models"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("schema: invalid message")

// Validator checks client messages and published events.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate returns an error wrapping ErrInvalid if event is malformed or of
// an unknown type.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.ClientMessage:
		if e.Transcript == "" {
			return fmt.Errorf("%w: empty transcript", ErrInvalid)
		}
	case *models.ClientMessage:
		if e == nil {
			return fmt.Errorf("%w: nil client message", ErrInvalid)
		}
		return v.Validate(*e)
	case models.TranscriptEvent:
		var missing []string
		if e.EventType == "" {
			missing = append(missing, "eventType")
		}
		if e.SessionID == "" {
			missing = append(missing, "sessionId")
		}
		if e.Provider == "" {
			missing = append(missing, "provider")
		}
		if e.Text == "" {
			missing = append(missing, "text")
		}
		if e.Timestamp <= 0 {
			missing = append(missing, "timestamp")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: transcript event missing %v", ErrInvalid, missing)
		}
	case *models.TranscriptEvent:
		if e == nil {
			return fmt.Errorf("%w: nil transcript event", ErrInvalid)
		}
		return v.Validate(*e)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalid, event)
	}
	return nil
}
