// Package tokenbucket implements the lazy-fill rate limiter that gates the
// bot's outbound wire writes.
package tokenbucket

import (
	"sync"
	"time"
)

// DefaultCapacity and DefaultFillRate match irc_burst_size/irc_fill_rate's
// out-of-the-box values: burst of 4 lines, refilling at 1 token/second.
const (
	DefaultCapacity = 4.0
	DefaultFillRate = 1.0
)

// Bucket is a mutex-guarded token bucket. Tokens accrue lazily: rather than
// a background goroutine ticking the fill, each call recomputes the
// elapsed-time accrual on demand before checking availability.
type Bucket struct {
	mu sync.Mutex

	capacity float64
	fillRate float64
	tokens   float64
	updated  time.Time

	now func() time.Time // overridable for tests
}

// New returns a Bucket with the given capacity and fill rate (tokens per
// second), starting full.
func New(capacity, fillRate float64) *Bucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if fillRate <= 0 {
		fillRate = DefaultFillRate
	}
	return &Bucket{
		capacity: capacity,
		fillRate: fillRate,
		tokens:   capacity,
		updated:  time.Now(),
		now:      time.Now,
	}
}

// refill folds elapsed time into available tokens, capped at capacity.
// Caller must hold mu.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.updated).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.fillRate)
	b.updated = now
}

// Acquire reserves one token, returning the duration the caller must wait
// before it is safe to send. A zero duration means a token was available
// immediately; the token is consumed (debited) in either case, so repeated
// calls with no external pacing accumulate increasing wait times rather
// than overdrawing the bucket.
func (b *Bucket) Acquire() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return 0
	}

	deficit := 1.0 - b.tokens
	wait := time.Duration(deficit / b.fillRate * float64(time.Second))
	b.tokens -= 1.0 // goes negative; future refills pay down the deficit
	return wait
}
