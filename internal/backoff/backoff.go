// Package backoff implements the reconnect backoff policy used by the
// gateway session manager: start at 1 second, grow by 1.5x per failure,
// and once the value would exceed 1 second clamp it into the 115-125
// second band Discord expects between reconnect storms.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

const (
	initial    = time.Second
	multiplier = 1.5
	capFloor   = 115 * time.Second
	capJitter  = 10 * time.Second
)

// Policy tracks the current backoff value across reconnect attempts. It
// is safe for concurrent use since the reconnect task and a forced Reset
// from a successful READY can race.
type Policy struct {
	mu      sync.Mutex
	current time.Duration
	rand    *rand.Rand
}

// New returns a Policy starting at the initial 1 second delay.
func New() *Policy {
	return &Policy{
		current: initial,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next advances the policy and returns the delay to sleep before the
// next reconnect attempt.
func (p *Policy) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.current
	if delay > time.Second {
		delay = capFloor + time.Duration(p.rand.Int63n(int64(capJitter)))
	}

	p.current = time.Duration(float64(p.current) * multiplier)
	return delay
}

// Reset returns the policy to its initial state. Called after a
// successful READY.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = initial
}
