// Package ws serves the client WebSocket endpoint. Each connection gets its
// own bridge to an STT backend session.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/bridge"
	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

// ErrClientClosed is returned when writing to a client that has gone away.
var ErrClientClosed = errors.New("ws: client connection closed")

const closeWriteTimeout = time.Second

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Server accepts client connections and runs one bridge per connection.
type Server struct {
	factory  stt.Factory
	opts     bridge.Options
	ids      *session.Generator
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	clients  map[string]*clientConn
	closing  bool
	sessions sync.WaitGroup
}

// NewServer creates the endpoint. Every session uses factory for its
// backend and opts for its bridge.
func NewServer(factory stt.Factory, opts bridge.Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Server{
		factory: factory,
		opts:    opts,
		ids:     session.NewGenerator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Browsers connect from arbitrary pages; access control is out of scope.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logging.WithComponent("ws"),
		clients: make(map[string]*clientConn),
	}
}

// ActiveSessions returns the number of connected clients.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and runs the session until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	id := s.ids.Next()
	client := &clientConn{conn: conn}
	s.track(id, client)
	defer s.untrack(id)

	b := bridge.New(id, client, s.factory, s.opts)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The backend opens concurrently; chunks read meanwhile are dropped.
	go b.OnClientConnect(ctx)

	readErr := s.readLoop(ctx, conn, b)

	b.OnClientDisconnect()
	code, reason := s.closeCode(b, readErr)
	client.Close(code, reason)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, b *bridge.Bridge) error {
	limits := s.opts.Limits
	if limits.MaxFrameBytes > 0 {
		conn.SetReadLimit(limits.MaxFrameBytes)
	}

	for {
		if limits.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(limits.IdleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := b.OnClientMessage(ctx, data); err != nil {
			return err
		}
	}
}

// closeCode maps why the read loop ended to the close frame sent back.
func (s *Server) closeCode(b *bridge.Bridge, err error) (int, string) {
	l := logging.WithSession(b.ID(), s.factory.Name())

	var netErr net.Error
	switch {
	case errors.Is(err, bridge.ErrLimitExceeded):
		return websocket.ClosePolicyViolation, "session limit exceeded"
	case errors.Is(err, websocket.ErrReadLimit):
		s.opts.Metrics.RecordLimitExceeded(bridge.LimitMaxFrameBytes)
		l.Warn().Int64("limit", b.Limits().MaxFrameBytes).Msg("Client frame too large")
		return websocket.CloseMessageTooBig, "frame too large"
	case errors.As(err, &netErr) && netErr.Timeout():
		s.opts.Metrics.RecordLimitExceeded(bridge.LimitIdleTimeout)
		l.Warn().Dur("limit", b.Limits().IdleTimeout).Msg("Client idle timeout")
		return websocket.ClosePolicyViolation, "idle timeout"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return websocket.CloseNormalClosure, ""
	default:
		l.Debug().Err(err).Msg("Client read ended")
		return websocket.CloseNormalClosure, ""
	}
}

func (s *Server) track(id string, c *clientConn) {
	s.mu.Lock()
	closing := s.closing
	s.clients[id] = c
	s.mu.Unlock()

	// Upgraded after Shutdown took its snapshot.
	if closing {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// Shutdown stops accepting sessions, closes every connected client with a
// going-away frame and waits for their sessions to wind down or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	clients := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.log.Info().Int("sessions", len(clients)).Msg("Closing client sessions")
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clientConn serializes writes to one client. Writes after Close fail with
// ErrClientClosed.
type clientConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *clientConn) Send(msg models.ClientMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *clientConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	return c.conn.Close()
}
