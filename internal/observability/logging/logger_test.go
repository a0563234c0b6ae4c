package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogs(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.Output = &buf
	Init(cfg)
	return &buf
}

func TestInit_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			captureLogs(t, tt.level)
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("expected level %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWithSession_Fields(t *testing.T) {
	buf := captureLogs(t, "info")

	l := WithSession("sess-1-abcd", "mock")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["sessionId"] != "sess-1-abcd" {
		t.Errorf("expected sessionId field, got %v", entry["sessionId"])
	}
	if entry["sttProvider"] != "mock" {
		t.Errorf("expected sttProvider field, got %v", entry["sttProvider"])
	}
	if entry["message"] != "hello" {
		t.Errorf("expected message 'hello', got %v", entry["message"])
	}
}

func TestWithComponent_Fields(t *testing.T) {
	buf := captureLogs(t, "info")

	l := WithComponent("ws")
	l.Debug().Msg("filtered")
	l.Info().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Error("expected debug entry to be filtered at info level")
	}
	if !strings.Contains(out, `"component":"ws"`) {
		t.Errorf("expected component field, got %q", out)
	}
}
