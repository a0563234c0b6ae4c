package models

import "testing"

func TestParseBackendTranscript(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantText string
		wantOK   bool
	}{
		{"transcript present", `{"channel":{"alternatives":[{"transcript":"too expensive"}]}}`, "too expensive", true},
		{"first alternative wins", `{"channel":{"alternatives":[{"transcript":"a"},{"transcript":"b"}]}}`, "a", true},
		{"with extra fields", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"call me back","confidence":0.9}]}}`, "call me back", true},
		{"empty transcript", `{"channel":{"alternatives":[{"transcript":""}]}}`, "", false},
		{"no alternatives", `{"channel":{"alternatives":[]}}`, "", false},
		{"no channel", `{"type":"Metadata","request_id":"abc"}`, "", false},
		{"malformed", `{"channel":`, "", false},
		{"not json", `hello`, "", false},
		{"empty payload", ``, "", false},
		{"wrong type", `{"channel":{"alternatives":[{"transcript":42}]}}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := ParseBackendTranscript([]byte(tt.payload))
			if ok != tt.wantOK || text != tt.wantText {
				t.Errorf("ParseBackendTranscript(%s) = (%q, %v), want (%q, %v)",
					tt.payload, text, ok, tt.wantText, tt.wantOK)
			}
		})
	}
}

func TestClientMessage_Encode(t *testing.T) {
	b, err := ClientMessage{Transcript: "too expensive"}.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"transcript":"too expensive"}` {
		t.Errorf("unexpected encoding %s", b)
	}
}
