package mock

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"speech-relay-service/internal/service/session"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu          sync.Mutex
	transcripts []string
	errors      []error
	closes      int
}

func (c *testCallback) OnTranscript(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = append(c.transcripts, text)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) OnClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func (c *testCallback) getTranscripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.transcripts...)
}

func seeded() rand.Source {
	return rand.NewPCG(42, 1024)
}

func TestGenerator_EmissionRateMatchesThreshold(t *testing.T) {
	tests := []struct {
		threshold float64
		wantRate  float64
	}{
		{0.95, 0.05},
		{0.94, 0.06},
		{0.5, 0.5},
	}

	const draws = 200000
	for _, tt := range tests {
		gen := NewGenerator(tt.threshold, nil, seeded())

		emitted := 0
		for i := 0; i < draws; i++ {
			if _, ok := gen.Next(); ok {
				emitted++
			}
		}

		rate := float64(emitted) / draws
		if rate < tt.wantRate-0.005 || rate > tt.wantRate+0.005 {
			t.Errorf("threshold %.2f: emission rate %.4f, want %.2f±0.005", tt.threshold, rate, tt.wantRate)
		}
	}
}

func TestGenerator_OnlyEmitsListedPhrases(t *testing.T) {
	gen := NewGenerator(0.5, nil, seeded())

	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		text, ok := gen.Next()
		if !ok {
			continue
		}
		if !slices.Contains(DefaultPhrases, text) {
			t.Fatalf("generated phrase %q is not in the phrase list", text)
		}
		seen[text] = true
	}

	if len(seen) != len(DefaultPhrases) {
		t.Errorf("expected every phrase to appear eventually, saw %d of %d", len(seen), len(DefaultPhrases))
	}
}

func TestGenerator_CustomPhrases(t *testing.T) {
	custom := []string{"too expensive", "not interested", "think about it", "call me back"}
	gen := NewGenerator(0, custom, seeded())

	for i := 0; i < 1000; i++ {
		text, ok := gen.Next()
		if !ok {
			t.Fatal("threshold 0 should emit on every draw")
		}
		if !slices.Contains(custom, text) {
			t.Fatalf("generated phrase %q is not in the custom list", text)
		}
	}

	custom[0] = "mutated"
	if slices.Contains(gen.Phrases(), "mutated") {
		t.Error("generator must not alias the caller's slice")
	}
}

func TestGenerator_ThresholdOneNeverEmits(t *testing.T) {
	gen := NewGenerator(1, nil, seeded())

	for i := 0; i < 10000; i++ {
		if _, ok := gen.Next(); ok {
			t.Fatal("threshold 1 must never emit")
		}
	}
}

func TestDefaultPhrases(t *testing.T) {
	if len(DefaultPhrases) != 12 {
		t.Errorf("expected 12 default phrases, got %d", len(DefaultPhrases))
	}
	for i, p := range DefaultPhrases {
		if p == "" {
			t.Errorf("phrase %d is empty", i)
		}
	}
}

func TestAdapter_Start(t *testing.T) {
	adapter := New(NewGenerator(DefaultThreshold, nil, seeded()))
	cb := &testCallback{}

	if adapter.State() != session.StateConnecting {
		t.Errorf("expected CONNECTING before start, got %v", adapter.State())
	}

	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.State() != session.StateOpen {
		t.Errorf("expected OPEN after start, got %v", adapter.State())
	}
}

func TestAdapter_SendAudio_EmitsSynchronously(t *testing.T) {
	adapter := New(NewGenerator(0, nil, seeded()))
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	if err := adapter.SendAudio(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No waiting: the phrase must already be delivered.
	if got := cb.getTranscripts(); len(got) != 1 {
		t.Errorf("expected 1 transcript delivered synchronously, got %d", len(got))
	}
}

func TestAdapter_HundredChunksScenario(t *testing.T) {
	adapter := New(NewGenerator(0.95, nil, seeded()))
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 100; i++ {
		adapter.SendAudio(context.Background(), make([]byte, 320))
	}

	got := cb.getTranscripts()
	// ~5 expected; anything from 0 to 15 is within reason for one run.
	if len(got) > 15 {
		t.Errorf("expected on the order of 5 transcripts, got %d", len(got))
	}
	for _, text := range got {
		if !slices.Contains(DefaultPhrases, text) {
			t.Errorf("unexpected transcript %q", text)
		}
	}
}

func TestAdapter_SendAudio_BeforeStartAndAfterClose(t *testing.T) {
	adapter := New(NewGenerator(0, nil, seeded()))
	cb := &testCallback{}

	// Should not panic or error
	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	adapter.Start(context.Background(), cb)
	adapter.Close()

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cb.getTranscripts(); len(got) != 0 {
		t.Errorf("expected no transcripts outside OPEN, got %v", got)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := New(NewGenerator(DefaultThreshold, nil, seeded()))
	adapter.Start(context.Background(), &testCallback{})

	adapter.Close()
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if adapter.State() != session.StateClosed {
		t.Errorf("expected CLOSED, got %v", adapter.State())
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	gen := NewGenerator(0.5, nil, seeded())
	factory := NewFactory(gen)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _ := factory.New(context.Background())
			a.Start(context.Background(), &testCallback{})
			for j := 0; j < 100; j++ {
				a.SendAudio(context.Background(), []byte("audio"))
			}
			a.Close()
		}()
	}

	wg.Wait()
}

func TestFactory(t *testing.T) {
	factory := NewFactory(NewGenerator(DefaultThreshold, nil, nil))

	if factory.Name() != "mock" {
		t.Errorf("expected name 'mock', got %s", factory.Name())
	}

	a1, err := factory.New(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, _ := factory.New(context.Background())
	if a1 == a2 {
		t.Error("expected a fresh adapter per session")
	}

	if err := factory.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
