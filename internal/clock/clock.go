// Package clock provides the node's time source, ID generation, and
// human-readable ticket code minting. Centralizing these lets tests inject
// deterministic time and randomness.
package clock

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall and monotonic time so tests can control both.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now().UTC() }

// IDGenerator mints unique identifiers and ticket codes.
type IDGenerator interface {
	NewID() string
	NewTicketCode() (string, error)
}

const ticketAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const ticketLength = 6

// UUIDGenerator mints UUIDv4 identifiers and base36-uppercase ticket codes.
type UUIDGenerator struct{}

// NewID returns a fresh UUIDv4 string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// NewTicketCode returns a uniformly random 6-character base36 uppercase code.
// Callers retry on unique-constraint collision per spec.md §4.2.
func (UUIDGenerator) NewTicketCode() (string, error) {
	buf := make([]byte, ticketLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(ticketAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = ticketAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Frozen is a Clock usable in tests, with a mutex-guarded, advanceable time.
type Frozen struct {
	mu  sync.Mutex
	now time.Time
}

// NewFrozen returns a Frozen clock starting at t.
func NewFrozen(t time.Time) *Frozen {
	return &Frozen{now: t}
}

// Now returns the frozen time.
func (f *Frozen) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the frozen clock forward by d.
func (f *Frozen) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
