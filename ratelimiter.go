package discordrb

import (
	"context"
	"time"

	"github.com/sasha-s/go-csync"
)

// gatewayRateLimiter gates outbound gateway frame writes, generalized
// from the teacher's rateLimiterImpl (rateLimiter.go): a cancelable
// mutex (go-csync) so a Wait blocked on the rate window can still be
// interrupted by context cancellation, plus a rolling per-minute
// budget. Discord's gateway allows 120 outbound frames per 60 seconds;
// that is the default here.
type gatewayRateLimiter struct {
	mu csync.Mutex

	reset     time.Time
	remaining int
	perMinute int
}

func newGatewayRateLimiter(perMinute int) *gatewayRateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &gatewayRateLimiter{perMinute: perMinute}
}

// Wait blocks until a send slot is available or ctx is done. Callers
// must call Unlock after the send completes, mirroring the teacher's
// Wait/Unlock pairing in rateLimiter.go.
func (l *gatewayRateLimiter) Wait(ctx context.Context) error {
	if err := l.mu.CLock(ctx); err != nil {
		return err
	}

	now := time.Now()
	var until time.Time
	if l.remaining == 0 && l.reset.After(now) {
		until = l.reset
	}
	if until.After(now) {
		select {
		case <-ctx.Done():
			l.mu.Unlock()
			return ctx.Err()
		case <-time.After(until.Sub(now)):
		}
	}
	return nil
}

// Unlock releases the slot acquired by Wait and replenishes the budget
// once the current minute window has elapsed.
func (l *gatewayRateLimiter) Unlock() {
	now := time.Now()
	if l.reset.Before(now) {
		l.reset = now.Add(time.Minute)
		l.remaining = l.perMinute
	}
	if l.remaining > 0 {
		l.remaining--
	}
	l.mu.Unlock()
}

// Reset clears the limiter's window, used on a fresh connection.
func (l *gatewayRateLimiter) Reset() {
	l.reset = time.Time{}
	l.remaining = 0
	l.mu = csync.Mutex{}
}

// Close waits until no writer holds the limiter and then returns, used
// during connection teardown. It does not interrupt a writer that is
// sleeping out the rate window in Wait; it waits for that writer to
// finish.
func (l *gatewayRateLimiter) Close(ctx context.Context) {
	_ = l.mu.CLock(ctx)
	l.mu.Unlock()
}
