// Package bridge pairs one client connection with one STT backend session.
// It forwards client audio to the backend and relays backend transcripts to
// the client and the event bus.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

var (
	// ErrClientDisconnected is returned for calls made after the client left.
	ErrClientDisconnected = errors.New("bridge: client disconnected")
	// ErrLimitExceeded is returned when a session crosses a configured limit.
	// The caller is expected to close the client.
	ErrLimitExceeded = errors.New("bridge: session limit exceeded")
)

// Limit names used in errors and metric labels.
const (
	LimitIdleTimeout   = "idle_timeout"
	LimitMaxFrameBytes = "max_frame_bytes"
	LimitMaxAudioBytes = "max_audio_bytes"
	LimitMaxDuration   = "max_duration"
)

// Client is the outbound half of a client connection.
type Client interface {
	Send(msg models.ClientMessage) error
}

// Publisher receives every relayed transcript.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// Validator checks messages before they leave the process.
type Validator interface {
	Validate(event any) error
}

// Limits are optional per-session guardrails. Zero disables a limit.
// IdleTimeout and MaxFrameBytes are enforced by the transport read loop;
// the bridge enforces the cumulative ones.
type Limits struct {
	IdleTimeout   time.Duration
	MaxFrameBytes int64
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

// Options configures a Bridge. Nil fields are optional except Metrics,
// which defaults to metrics.DefaultMetrics.
type Options struct {
	Publisher Publisher
	Validator Validator
	Metrics   *metrics.Metrics
	Limits    Limits
}

// Stats is a snapshot of per-session counters.
type Stats struct {
	Frames      int64
	AudioBytes  int64
	Forwarded   int64
	Dropped     int64
	Transcripts int64
}

var _ stt.Callback = (*Bridge)(nil)

// Bridge implements stt.Callback for one client session.
type Bridge struct {
	id        string
	provider  string
	client    Client
	factory   stt.Factory
	publisher Publisher
	validator Validator
	metrics   *metrics.Metrics
	limits    Limits
	log       zerolog.Logger
	startedAt time.Time

	mu           sync.Mutex
	adapter      stt.Adapter
	cancel       context.CancelFunc
	disconnected bool
	stats        Stats
}

// New creates the bridge for a freshly accepted client.
func New(id string, client Client, factory stt.Factory, opts Options) *Bridge {
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	b := &Bridge{
		id:        id,
		provider:  factory.Name(),
		client:    client,
		factory:   factory,
		publisher: opts.Publisher,
		validator: opts.Validator,
		metrics:   m,
		limits:    opts.Limits,
		log:       logging.WithSession(id, factory.Name()),
		startedAt: time.Now(),
	}
	m.RecordSessionStart()
	b.log.Info().Msg("Client connected")
	return b
}

// ID returns the session ID.
func (b *Bridge) ID() string {
	return b.id
}

// Limits returns the configured session limits.
func (b *Bridge) Limits() Limits {
	return b.limits
}

// OnClientConnect opens the backend session. For live providers this blocks
// on network I/O, so callers run it alongside the client read loop; audio
// arriving before the session is OPEN is dropped. Failures are logged and
// counted only: the client is not told and nothing is retried.
func (b *Bridge) OnClientConnect(ctx context.Context) error {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return ErrClientDisconnected
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	start := time.Now()

	adapter, err := b.factory.New(ctx)
	if err != nil {
		b.metrics.RecordBackendOpen(b.provider, err, 0)
		b.log.Error().Err(err).Msg("Failed to create STT session")
		return fmt.Errorf("create %s session: %w", b.provider, err)
	}

	// Publish the adapter before Start so a disconnect during the open can
	// close it.
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		adapter.Close()
		return ErrClientDisconnected
	}
	b.adapter = adapter
	b.mu.Unlock()

	err = adapter.Start(ctx, b)
	elapsed := time.Since(start)
	b.metrics.RecordBackendOpen(b.provider, err, elapsed.Seconds())
	if err != nil {
		if b.isDisconnected() {
			b.log.Debug().Err(err).Msg("STT session open aborted by client disconnect")
			return ErrClientDisconnected
		}
		b.log.Error().
			Err(err).
			Str("op", stt.Op(err)).
			Dur("elapsed", elapsed).
			Msg("Failed to open STT session")
		return fmt.Errorf("open %s session: %w", b.provider, err)
	}

	b.log.Info().Dur("elapsed", elapsed).Msg("STT session open")
	return nil
}

// OnClientMessage handles one inbound audio chunk. The chunk is forwarded
// only while the backend session is OPEN; otherwise it is dropped, never
// queued.
func (b *Bridge) OnClientMessage(ctx context.Context, data []byte) error {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return ErrClientDisconnected
	}
	b.stats.Frames++
	b.stats.AudioBytes += int64(len(data))
	total := b.stats.AudioBytes
	adapter := b.adapter
	b.mu.Unlock()

	b.log.Debug().Int("bytes", len(data)).Msg("Audio chunk received")
	b.metrics.RecordAudioReceived(len(data))

	if err := b.checkLimits(total); err != nil {
		return err
	}

	if adapter == nil || adapter.State() != session.StateOpen {
		b.drop(metrics.DropNotOpen)
		return nil
	}

	if err := adapter.SendAudio(ctx, data); err != nil {
		b.drop(metrics.DropSendError)
		b.metrics.RecordBackendError(b.provider, stt.Op(err))
		b.log.Warn().Err(err).Msg("Failed to forward audio chunk")
		return nil
	}

	b.mu.Lock()
	b.stats.Forwarded++
	b.mu.Unlock()
	b.metrics.RecordFrameForwarded()
	return nil
}

func (b *Bridge) checkLimits(totalBytes int64) error {
	if limit := b.limits.MaxAudioBytes; limit > 0 && totalBytes > limit {
		b.metrics.RecordLimitExceeded(LimitMaxAudioBytes)
		b.log.Warn().Int64("audioBytes", totalBytes).Int64("limit", limit).Msg("Session audio limit exceeded")
		return fmt.Errorf("%w: %s %d > %d", ErrLimitExceeded, LimitMaxAudioBytes, totalBytes, limit)
	}
	if limit := b.limits.MaxDuration; limit > 0 {
		if d := time.Since(b.startedAt); d > limit {
			b.metrics.RecordLimitExceeded(LimitMaxDuration)
			b.log.Warn().Dur("duration", d).Dur("limit", limit).Msg("Session duration limit exceeded")
			return fmt.Errorf("%w: %s %v > %v", ErrLimitExceeded, LimitMaxDuration, d.Round(time.Millisecond), limit)
		}
	}
	return nil
}

func (b *Bridge) drop(reason string) {
	b.mu.Lock()
	b.stats.Dropped++
	b.mu.Unlock()
	b.metrics.RecordFrameDropped(reason)
	b.log.Debug().Str("reason", reason).Msg("Audio chunk dropped")
}

// OnClientDisconnect tears the session down. It runs at most once and
// reports whether this call did the work. The backend is asked to finish
// gracefully; its close is not awaited.
func (b *Bridge) OnClientDisconnect() bool {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return false
	}
	b.disconnected = true
	cancel := b.cancel
	adapter := b.adapter
	stats := b.stats
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if adapter != nil {
		if err := adapter.Close(); err != nil {
			b.log.Warn().Err(err).Msg("Error closing STT session")
		}
	}

	duration := time.Since(b.startedAt)
	b.metrics.RecordSessionEnd(duration.Seconds())
	b.log.Info().
		Int64("frames", stats.Frames).
		Int64("audioBytes", stats.AudioBytes).
		Int64("forwarded", stats.Forwarded).
		Int64("dropped", stats.Dropped).
		Int64("transcripts", stats.Transcripts).
		Dur("duration", duration).
		Msg("Client disconnected")
	return true
}

// Stats returns a snapshot of the session counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) isDisconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

// --- stt.Callback implementation ---

// OnTranscript relays a backend transcript to the client as
// {"transcript":"<text>"} and publishes it. Empty text is ignored.
func (b *Bridge) OnTranscript(text string) {
	if text == "" {
		return
	}

	msg := models.ClientMessage{Transcript: text}
	if b.validator != nil {
		if err := b.validator.Validate(msg); err != nil {
			b.log.Warn().Err(err).Msg("Transcript rejected by validator")
			return
		}
	}

	if err := b.client.Send(msg); err != nil {
		b.log.Debug().Err(err).Msg("Transcript not delivered to client")
	} else {
		b.mu.Lock()
		b.stats.Transcripts++
		b.mu.Unlock()
		b.metrics.RecordTranscriptRelayed(b.provider)
		b.log.Debug().Str("text", text).Msg("Transcript relayed")
	}

	b.publish(text)
}

func (b *Bridge) publish(text string) {
	if b.publisher == nil {
		return
	}

	ev := models.TranscriptEvent{
		EventType: models.EventTypeTranscriptRelayed,
		SessionID: b.id,
		Provider:  b.provider,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	if b.validator != nil {
		if err := b.validator.Validate(ev); err != nil {
			b.log.Warn().Err(err).Msg("Transcript event rejected by validator")
			return
		}
	}

	if err := b.publisher.Publish(context.Background(), b.id, ev.EventType, ev); err != nil {
		b.log.Warn().Err(err).Msg("Failed to publish transcript event")
	}
}

// OnError logs and counts a runtime backend error. The client connection
// stays open.
func (b *Bridge) OnError(err error) {
	b.metrics.RecordBackendError(b.provider, stt.Op(err))
	b.log.Error().Err(err).Str("op", stt.Op(err)).Msg("STT backend error")
}

// OnClose logs the end of the backend session. The client is not closed.
func (b *Bridge) OnClose() {
	b.log.Info().Msg("STT session closed")
}
