// Package models defines the messages exchanged with clients, backends and
// the event bus.
package models

import (
	"github.com/goccy/go-json"
)

// EventTypeTranscriptRelayed is the event type of published transcripts.
const EventTypeTranscriptRelayed = "speech.transcript.relayed"

// ClientMessage is the only message shape sent to clients.
type ClientMessage struct {
	Transcript string `json:"transcript"`
}

// Encode returns the wire form of the message.
func (m ClientMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// BackendEvent is the subset of a live transcription result the relay reads.
type BackendEvent struct {
	Type    string `json:"type,omitempty"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ParseBackendTranscript extracts channel.alternatives[0].transcript from a
// backend payload. Malformed payloads, a missing path and empty text all
// report ok=false.
func ParseBackendTranscript(payload []byte) (text string, ok bool) {
	var ev BackendEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", false
	}
	if len(ev.Channel.Alternatives) == 0 {
		return "", false
	}
	text = ev.Channel.Alternatives[0].Transcript
	return text, text != ""
}

// TranscriptEvent is published for every transcript relayed to a client.
type TranscriptEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
