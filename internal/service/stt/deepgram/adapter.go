// Package deepgram provides a Deepgram live-transcription adapter over a
// WebSocket connection.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

// closeStreamMessage asks Deepgram to flush remaining results and close.
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Config holds the live session parameters. They are fixed for the lifetime
// of the process.
type Config struct {
	URL            string
	APIKey         string
	Encoding       string
	SampleRate     int
	Channels       int // 0 omits the parameter
	Model          string
	Language       string // empty omits the parameter
	Punctuate      bool
	InterimResults bool

	// CloseGrace bounds how long a finished session may wait for the backend
	// to close the socket before it is closed locally.
	CloseGrace       time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the browser-audio configuration.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://api.deepgram.com/v1/listen",
		Encoding:         "webm-opus",
		SampleRate:       48000,
		Model:            "nova",
		Punctuate:        true,
		InterimResults:   false,
		CloseGrace:       5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// ListenURL builds the streaming endpoint URL with the session parameters
// as query arguments.
func (c Config) ListenURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}

	q := u.Query()
	if c.Encoding != "" {
		q.Set("encoding", c.Encoding)
	}
	if c.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	}
	if c.Channels > 0 {
		q.Set("channels", strconv.Itoa(c.Channels))
	}
	if c.Model != "" {
		q.Set("model", c.Model)
	}
	if c.Language != "" {
		q.Set("language", c.Language)
	}
	q.Set("punctuate", strconv.FormatBool(c.Punctuate))
	q.Set("interim_results", strconv.FormatBool(c.InterimResults))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Factory holds the process-wide dialer and credentials.
type Factory struct {
	cfg    Config
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewFactory validates cfg and prepares the dialer.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram: API key is required")
	}
	listenURL, err := cfg.ListenURL()
	if err != nil {
		return nil, err
	}

	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	return &Factory{
		cfg: cfg,
		url: listenURL,
		header: http.Header{
			"Authorization": {"Token " + cfg.APIKey},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
	}, nil
}

func (f *Factory) Name() string { return "deepgram" }

func (f *Factory) New(ctx context.Context) (stt.Adapter, error) {
	return &Adapter{
		factory:   f,
		lifecycle: session.NewLifecycle(),
		done:      make(chan struct{}),
	}, nil
}

func (f *Factory) Close() error { return nil }

// Adapter implements stt.Adapter for one Deepgram live session.
type Adapter struct {
	factory   *Factory
	lifecycle *session.Lifecycle
	done      chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	// gorilla connections allow a single concurrent writer
	writeMu sync.Mutex
}

// Start dials Deepgram and starts the reader goroutine.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	conn, resp, err := a.factory.dialer.DialContext(ctx, a.factory.url, a.factory.header)
	if err != nil {
		a.lifecycle.Close()
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return &stt.Error{Op: "dial", Err: err}
	}

	a.mu.Lock()
	if err := a.lifecycle.MarkOpen(); err != nil {
		// closed while the dial was in flight
		a.mu.Unlock()
		conn.Close()
		return err
	}
	a.conn = conn
	a.mu.Unlock()

	log.Debug().Str("provider", "deepgram").Msg("Connected to Deepgram")

	go a.listen(conn, cb)
	return nil
}

// listen relays transcripts until the socket ends.
func (a *Adapter) listen(conn *websocket.Conn, cb stt.Callback) {
	defer close(a.done)
	defer conn.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			finishing := a.lifecycle.IsClosed()
			a.lifecycle.Close()
			expected := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if !finishing && !expected {
				cb.OnError(&stt.Error{Op: "read", Err: err})
			}
			cb.OnClose()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if text, ok := models.ParseBackendTranscript(payload); ok {
			cb.OnTranscript(text)
		}
	}
}

// SendAudio writes one binary frame. Chunks are dropped unless OPEN.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if !a.lifecycle.IsOpen() {
		return nil
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return &stt.Error{Op: "write", Err: err}
	}
	return nil
}

// State reports the session readiness.
func (a *Adapter) State() session.State {
	return a.lifecycle.State()
}

// Close sends CloseStream so Deepgram can flush and close its side. The
// socket is force closed if the backend has not done so within CloseGrace.
func (a *Adapter) Close() error {
	a.mu.Lock()
	prev := a.lifecycle.Close()
	conn := a.conn
	a.mu.Unlock()

	if prev != session.StateOpen || conn == nil {
		return nil
	}

	a.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, closeStreamMessage)
	a.writeMu.Unlock()

	grace := a.factory.cfg.CloseGrace
	if err != nil || grace <= 0 {
		conn.Close()
	} else {
		go func() {
			select {
			case <-a.done:
			case <-time.After(grace):
				conn.Close()
			}
		}()
	}

	if err != nil {
		return &stt.Error{Op: "finish", Err: err}
	}
	return nil
}
