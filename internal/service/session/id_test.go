package session

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Next()
	if !strings.HasPrefix(id1, "sess-1-") {
		t.Errorf("expected prefix 'sess-1-', got %s", id1)
	}

	id2 := gen.Next()
	if !strings.HasPrefix(id2, "sess-2-") {
		t.Errorf("expected prefix 'sess-2-', got %s", id2)
	}

	if gen.Count() != 2 {
		t.Errorf("expected count 2, got %d", gen.Count())
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := NewGenerator()
	numGoroutines := 100
	resultsPerGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*resultsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				results <- gen.Next()
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate session ID generated: %s", id)
		}
		seen[id] = true
	}

	expectedCount := numGoroutines * resultsPerGoroutine
	if len(seen) != expectedCount {
		t.Errorf("expected %d unique session IDs, got %d", expectedCount, len(seen))
	}
	if gen.Count() != uint64(expectedCount) {
		t.Errorf("expected count %d, got %d", expectedCount, gen.Count())
	}
}
