package inference

import (
	"time"
)

// LeakyBucket limits how many failures a backend may produce per refill
// period. Each failure consumes a token; once empty the backend is taken out
// of rotation until the bucket refills. It is not safe for concurrent use.
type LeakyBucket struct {
	size       int
	tokens     int
	period     time.Duration
	lastRefill time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func NewLeakyBucket(size int, period time.Duration) *LeakyBucket {
	b := &LeakyBucket{
		size:   size,
		tokens: size,
		period: period,
		now:    time.Now,
		sleep:  time.Sleep,
	}
	b.lastRefill = b.now()
	return b
}

// ConsumeToken takes one token, first refilling the bucket if a full period
// has passed since the last refill.
func (b *LeakyBucket) ConsumeToken() {
	now := b.now()
	if now.Sub(b.lastRefill) > b.period {
		b.lastRefill = now
		b.tokens = b.size
	}
	b.tokens--
}

func (b *LeakyBucket) Empty() bool { return b.tokens <= 0 }

func (b *LeakyBucket) Tokens() int { return b.tokens }

// WaitRefill sleeps until the period since the last refill is over, then
// refills. It returns immediately when tokens remain.
func (b *LeakyBucket) WaitRefill() {
	if b.tokens > 0 {
		return
	}
	if d := b.lastRefill.Add(b.period).Sub(b.now()); d > 0 {
		b.sleep(d)
	}
	b.lastRefill = b.now()
	b.tokens = b.size
}
