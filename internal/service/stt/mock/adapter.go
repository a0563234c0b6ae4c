// Package mock provides a mock STT adapter for testing without a backend.
// For each audio chunk it may emit one canned objection phrase, chosen at
// random, without ever inspecting the audio.
package mock

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
)

// DefaultThreshold is the draw a chunk must exceed to emit a phrase.
const DefaultThreshold = 0.94

// DefaultPhrases are the canned sales objections emitted in mock mode.
var DefaultPhrases = []string{
	"too expensive",
	"not interested",
	"think about it",
	"call me back",
	"send me a quote",
	"need to talk to my spouse",
	"not the right time",
	"already working with someone",
	"my budget is 25k",
	"i'm looking for a truck",
	"we'll decide next week",
	"i need to talk to my wife",
}

// Generator decides, one draw per chunk, whether to emit a phrase.
// It is shared by all sessions, so the random source is guarded.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	threshold float64
	phrases   []string
}

// NewGenerator creates a generator. An empty phrase list selects
// DefaultPhrases; a nil src seeds from the clock.
func NewGenerator(threshold float64, phrases []string, src rand.Source) *Generator {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &Generator{
		rng:       rand.New(src),
		threshold: threshold,
		phrases:   slices.Clone(phrases),
	}
}

// Next draws once from [0,1). If the draw exceeds the threshold it returns a
// phrase picked uniformly from the list.
func (g *Generator) Next() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() <= g.threshold {
		return "", false
	}
	return g.phrases[g.rng.IntN(len(g.phrases))], true
}

// Threshold returns the configured emission threshold.
func (g *Generator) Threshold() float64 {
	return g.threshold
}

// Phrases returns a copy of the phrase list.
func (g *Generator) Phrases() []string {
	return slices.Clone(g.phrases)
}

// Adapter implements stt.Adapter on top of a Generator.
// Phrases are delivered synchronously from SendAudio; no delay is simulated.
type Adapter struct {
	gen       *Generator
	lifecycle *session.Lifecycle

	mu sync.Mutex
	cb stt.Callback
}

// New creates a mock adapter drawing from gen.
func New(gen *Generator) *Adapter {
	return &Adapter{
		gen:       gen,
		lifecycle: session.NewLifecycle(),
	}
}

// Start registers the callback and opens the session immediately.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return a.lifecycle.MarkOpen()
}

// SendAudio ignores the audio content and possibly emits one phrase.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if !a.lifecycle.IsOpen() {
		return nil
	}

	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb == nil {
		return nil
	}

	if text, ok := a.gen.Next(); ok {
		cb.OnTranscript(text)
	}
	return nil
}

// State reports the session readiness.
func (a *Adapter) State() session.State {
	return a.lifecycle.State()
}

// Close ends the mock session.
func (a *Adapter) Close() error {
	a.lifecycle.Close()
	return nil
}

// Factory builds mock adapters sharing one Generator.
type Factory struct {
	gen *Generator
}

// NewFactory creates a factory around gen.
func NewFactory(gen *Generator) *Factory {
	return &Factory{gen: gen}
}

func (f *Factory) Name() string { return "mock" }

func (f *Factory) New(ctx context.Context) (stt.Adapter, error) {
	return New(f.gen), nil
}

func (f *Factory) Close() error { return nil }
