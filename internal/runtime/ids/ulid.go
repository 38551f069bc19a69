package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewGenerator builds a Generator over the given entropy source and clock.
// Nil arguments fall back to crypto/rand and time.Now.
func NewGenerator(r io.Reader, now func() time.Time) *Generator {
	if r == nil {
		r = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(r, 0), now: now}
}

// New returns the next identifier as a 26-character string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var defaultGenerator = NewGenerator(nil, nil)

// CreateULID returns a time-sortable ULID from the process-wide generator.
func CreateULID() string {
	return defaultGenerator.New()
}
