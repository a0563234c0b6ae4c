// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

// Config holds the recognition parameters sent as the first stream message.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	Channels       int
	AudioEncoding  string
	Model          string
	Punctuate      bool
	InterimResults bool

	// CloseGrace bounds how long a half-closed stream may keep delivering
	// results before it is cancelled.
	CloseGrace time.Duration
}

// DefaultConfig returns the browser-audio configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   48000,
		AudioEncoding:  "WEBM_OPUS",
		Punctuate:      true,
		InterimResults: false,
		CloseGrace:     5 * time.Second,
	}
}

// parseAudioEncoding maps a configured encoding name onto the API enum.
// Names are matched case-insensitively with '-' treated as '_', so
// "webm-opus" and "WEBM_OPUS" are equivalent. Unknown names fall back to
// LINEAR16.
func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	name := strings.ToUpper(strings.ReplaceAll(enc, "-", "_"))
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && name != "ENCODING_UNSPECIFIED" {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

// streamingConfig builds the initial request of a recognition stream.
func (c Config) streamingConfig() *speechpb.StreamingRecognizeRequest {
	lang := c.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(c.AudioEncoding),
					SampleRateHertz:            int32(c.SampleRateHz),
					AudioChannelCount:          int32(c.Channels),
					LanguageCode:               lang,
					Model:                      c.Model,
					EnableAutomaticPunctuation: c.Punctuate,
				},
				InterimResults: c.InterimResults,
			},
		},
	}
}

// recognizeStream is the subset of the bidi stream the adapter uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// Factory owns the process-wide Speech client.
type Factory struct {
	client *speech.Client
	cfg    Config
	open   streamOpener
}

// NewFactory creates the Speech client. Credentials come from opts or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFactory(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Factory, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Factory{
		client: c,
		cfg:    cfg,
		open: func(ctx context.Context) (recognizeStream, error) {
			return c.StreamingRecognize(ctx)
		},
	}, nil
}

func (f *Factory) Name() string { return "google" }

func (f *Factory) New(ctx context.Context) (stt.Adapter, error) {
	return newAdapter(f.cfg, f.open), nil
}

// Close closes the Speech client.
func (f *Factory) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg       Config
	open      streamOpener
	lifecycle *session.Lifecycle
	done      chan struct{}

	mu     sync.Mutex
	stream recognizeStream
	cancel context.CancelFunc

	sendMu sync.Mutex
}

func newAdapter(cfg Config, open streamOpener) *Adapter {
	return &Adapter{
		cfg:       cfg,
		open:      open,
		lifecycle: session.NewLifecycle(),
		done:      make(chan struct{}),
	}
}

// Start begins a streaming recognition session and sends the initial config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	// The stream outlives the caller's context so a graceful finish can still
	// drain final results after the client is gone.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := a.open(streamCtx)
	if err != nil {
		cancel()
		a.lifecycle.Close()
		return &stt.Error{Op: "open", Err: err}
	}
	if err := stream.Send(a.cfg.streamingConfig()); err != nil {
		cancel()
		a.lifecycle.Close()
		return &stt.Error{Op: "config", Err: err}
	}

	a.mu.Lock()
	if err := a.lifecycle.MarkOpen(); err != nil {
		a.mu.Unlock()
		cancel()
		return err
	}
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()

	log.Debug().Str("provider", "google").Msg("Google streaming recognition started")

	go a.listen(stream, cb)
	return nil
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(stream recognizeStream, cb stt.Callback) {
	defer close(a.done)

	for {
		resp, err := stream.Recv()
		if err != nil {
			finishing := a.lifecycle.IsClosed()
			a.lifecycle.Close()
			if !finishing && !isNormalEnd(err) {
				cb.OnError(&stt.Error{Op: recvOp(err), Err: err})
			}
			a.mu.Lock()
			if a.cancel != nil {
				a.cancel()
			}
			a.mu.Unlock()
			cb.OnClose()
			return
		}
		deliverResults(resp, a.cfg.InterimResults, cb)
	}
}

// deliverResults relays the first alternative of every usable result.
func deliverResults(resp *speechpb.StreamingRecognizeResponse, interim bool, cb stt.Callback) {
	for _, r := range resp.GetResults() {
		if !r.GetIsFinal() && !interim {
			continue
		}
		alts := r.GetAlternatives()
		if len(alts) == 0 || alts[0].GetTranscript() == "" {
			continue
		}
		cb.OnTranscript(alts[0].GetTranscript())
	}
}

func isNormalEnd(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return status.Code(err) == codes.Canceled
}

func recvOp(err error) string {
	return "recv_" + strings.ToLower(status.Code(err).String())
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if !a.lifecycle.IsOpen() {
		return nil
	}

	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return &stt.Error{Op: "send", Err: err}
	}
	return nil
}

// State reports the session readiness.
func (a *Adapter) State() session.State {
	return a.lifecycle.State()
}

// Close half-closes the stream so Google can deliver the final results, then
// cancels it after CloseGrace if it has not ended on its own.
func (a *Adapter) Close() error {
	a.mu.Lock()
	prev := a.lifecycle.Close()
	stream, cancel := a.stream, a.cancel
	a.mu.Unlock()

	if prev != session.StateOpen || stream == nil {
		return nil
	}

	a.sendMu.Lock()
	err := stream.CloseSend()
	a.sendMu.Unlock()

	grace := a.cfg.CloseGrace
	if err != nil || grace <= 0 {
		cancel()
	} else {
		go func() {
			select {
			case <-a.done:
			case <-time.After(grace):
				cancel()
			}
		}()
	}

	if err != nil {
		return &stt.Error{Op: "finish", Err: err}
	}
	return nil
}
