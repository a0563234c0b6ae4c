package ws

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/bridge"
	"speech-relay-service/internal/service/stt"
	"speech-relay-service/internal/service/stt/deepgram"
	"speech-relay-service/internal/service/stt/mock"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// mockFactory returns a mock factory. A threshold below 0 emits a phrase for
// every chunk, one above 1 never emits.
func mockFactory(threshold float64) stt.Factory {
	return mock.NewFactory(mock.NewGenerator(threshold, nil, rand.NewPCG(1, 2)))
}

func startServer(t *testing.T, factory stt.Factory, limits bridge.Limits) (*Server, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewServer(factory, bridge.Options{
		Validator: schema.New(),
		Metrics:   m,
		Limits:    limits,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv, m
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expectClose reads until the server closes and returns the close code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close frame, got %v", err)
		}
		return ce.Code
	}
}

func TestIsUpgrade(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	if IsUpgrade(plain) {
		t.Error("plain GET should not be an upgrade")
	}

	up := httptest.NewRequest(http.MethodGet, "/", nil)
	up.Header.Set("Connection", "Upgrade")
	up.Header.Set("Upgrade", "websocket")
	if !IsUpgrade(up) {
		t.Error("expected upgrade request to be detected")
	}
}

func TestServer_MockRelay(t *testing.T) {
	_, srv, m := startServer(t, mockFactory(-1), bridge.Limits{})
	conn := dial(t, srv)

	allowed := map[string]bool{}
	for _, p := range mock.DefaultPhrases {
		allowed[p] = true
	}

	// The mock opens almost immediately, but chunks racing the open may be
	// dropped; keep sending until transcripts arrive.
	received := make(chan string, 16)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			received <- string(payload)
		}
	}()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		select {
		case payload := <-received:
			got = append(got, payload)
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("expected 3 transcripts, got %d", len(got))
		}
	}

	for _, payload := range got {
		var msg map[string]string
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			t.Fatalf("payload is not JSON: %s", payload)
		}
		if len(msg) != 1 || !allowed[msg["transcript"]] {
			t.Errorf("unexpected payload %s", payload)
		}
	}
	if n := testutil.ToFloat64(m.TranscriptsRelayed.WithLabelValues("mock")); n < 3 {
		t.Errorf("expected at least 3 relayed transcripts, got %v", n)
	}
}

func TestServer_TracksSessions(t *testing.T) {
	s, srv, m := startServer(t, mockFactory(2), bridge.Limits{})

	conn := dial(t, srv)
	waitFor(t, func() bool { return s.ActiveSessions() == 1 })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, func() bool { return s.ActiveSessions() == 0 })
	waitFor(t, func() bool { return testutil.ToFloat64(m.SessionsActive) == 0 })

	if n := testutil.ToFloat64(m.SessionsTotal); n != 1 {
		t.Errorf("expected 1 session, got %v", n)
	}
}

// fakeUpstream is a minimal Deepgram stand-in: it answers every binary frame
// with a transcript and closes on CloseStream.
type fakeUpstream struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	closeStream bool
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	reply := []byte(`{"channel":{"alternatives":[{"transcript":"hello from upstream"}]},"is_final":true}`)
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
			f.mu.Lock()
			f.closeStream = true
			f.mu.Unlock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		conn.WriteMessage(websocket.TextMessage, reply)
	}
}

func (f *fakeUpstream) gotCloseStream() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeStream
}

func TestServer_DeepgramRelay(t *testing.T) {
	upstream := &fakeUpstream{}
	upSrv := httptest.NewServer(upstream)
	t.Cleanup(upSrv.Close)

	cfg := deepgram.DefaultConfig()
	cfg.URL = wsURL(upSrv) + "/v1/listen"
	cfg.APIKey = "test-key"
	cfg.CloseGrace = time.Second
	factory, err := deepgram.NewFactory(cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}

	_, srv, _ := startServer(t, factory, bridge.Limits{})
	conn := dial(t, srv)

	received := make(chan []byte, 4)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- payload
		}
	}()

	// Chunks sent while the upstream is still connecting are dropped.
	var payload []byte
	deadline := time.After(2 * time.Second)
	for payload == nil {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x1a, 0x45, 0xdf, 0xa3})
		select {
		case payload = <-received:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no transcript relayed from upstream")
		}
	}

	if string(payload) != `{"transcript":"hello from upstream"}` {
		t.Errorf("unexpected client payload %s", payload)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, upstream.gotCloseStream)
}

func TestServer_Limits(t *testing.T) {
	tests := []struct {
		name     string
		limits   bridge.Limits
		chunks   int
		chunkLen int
		wantCode int
		label    string
	}{
		{"audio bytes", bridge.Limits{MaxAudioBytes: 100}, 3, 60, websocket.ClosePolicyViolation, bridge.LimitMaxAudioBytes},
		{"frame size", bridge.Limits{MaxFrameBytes: 10}, 1, 20, websocket.CloseMessageTooBig, bridge.LimitMaxFrameBytes},
		{"idle timeout", bridge.Limits{IdleTimeout: 50 * time.Millisecond}, 0, 0, websocket.ClosePolicyViolation, bridge.LimitIdleTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv, m := startServer(t, mockFactory(2), tt.limits)
			conn := dial(t, srv)

			for i := 0; i < tt.chunks; i++ {
				conn.WriteMessage(websocket.BinaryMessage, make([]byte, tt.chunkLen))
			}

			if code := expectClose(t, conn); code != tt.wantCode {
				t.Errorf("expected close code %d, got %d", tt.wantCode, code)
			}
			waitFor(t, func() bool {
				return testutil.ToFloat64(m.LimitExceeded.WithLabelValues(tt.label)) == 1
			})
		})
	}
}

func TestServer_Shutdown(t *testing.T) {
	s, srv, _ := startServer(t, mockFactory(2), bridge.Limits{})
	conn := dial(t, srv)
	waitFor(t, func() bool { return s.ActiveSessions() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if code := expectClose(t, conn); code != websocket.CloseGoingAway {
		t.Errorf("expected going-away close, got %d", code)
	}
	if n := s.ActiveSessions(); n != 0 {
		t.Errorf("expected no active sessions, got %d", n)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected dial to fail after shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %v", resp)
	}
}

func TestClientConn_SendAfterClose(t *testing.T) {
	var serverConn *clientConn
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn = &clientConn{conn: conn}
		close(ready)
	}))
	t.Cleanup(srv.Close)

	dial(t, srv)
	<-ready

	if err := serverConn.Send(models.ClientMessage{Transcript: "hi"}); err != nil {
		t.Fatalf("send before close failed: %v", err)
	}
	serverConn.Close(websocket.CloseNormalClosure, "")
	if err := serverConn.Send(models.ClientMessage{Transcript: "late"}); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
	if err := serverConn.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
