package session

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator hands out session IDs. The numeric part is a process-wide
// connection counter; the suffix keeps IDs unique across restarts.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns an ID of the form "sess-<n>-<random>".
func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	suffix, _, _ := strings.Cut(uuid.NewString(), "-")
	return fmt.Sprintf("sess-%d-%s", n, suffix)
}

// Count returns how many IDs have been issued.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
