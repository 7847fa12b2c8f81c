package inference

import (
	"testing"
	"time"
)

type fakeClock struct {
	t     time.Time
	slept  []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func newTestBucket(size int, period time.Duration) (*LeakyBucket, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewLeakyBucket(size, period)
	b.now = clk.now
	b.sleep = clk.sleep
	b.lastRefill = clk.t
	return b, clk
}

func TestLeakyBucket_EmptiesAfterSizeFailures(t *testing.T) {
	b, clk := newTestBucket(3, 10*time.Second)
	for i := 0; i < 2; i++ {
		b.ConsumeToken()
		clk.t = clk.t.Add(time.Second)
	}
	if b.Empty() {
		t.Fatalf("empty after 2 of 3 tokens")
	}
	b.ConsumeToken()
	if !b.Empty() {
		t.Fatalf("not empty after 3 failures within the period")
	}
}

func TestLeakyBucket_RefillsOnlyAfterPeriod(t *testing.T) {
	b, clk := newTestBucket(2, 10*time.Second)
	b.ConsumeToken()
	clk.t = clk.t.Add(5 * time.Second)
	b.ConsumeToken()
	if !b.Empty() {
		t.Fatalf("expected empty")
	}

	// A failure after the period refills first, then consumes.
	clk.t = clk.t.Add(6 * time.Second)
	b.ConsumeToken()
	if b.Empty() || b.Tokens() != 1 {
		t.Fatalf("tokens = %d, want 1 after refill", b.Tokens())
	}
}

func TestLeakyBucket_WaitRefill(t *testing.T) {
	b, clk := newTestBucket(1, 10*time.Second)
	clk.t = clk.t.Add(4 * time.Second)
	b.ConsumeToken()
	if !b.Empty() {
		t.Fatalf("expected empty")
	}
	b.WaitRefill()
	if len(clk.slept) != 1 || clk.slept[0] != 6*time.Second {
		t.Fatalf("slept %v, want [6s]", clk.slept)
	}
	if b.Empty() {
		t.Fatalf("still empty after WaitRefill")
	}

	// No sleep when tokens remain.
	b.WaitRefill()
	if len(clk.slept) != 1 {
		t.Fatalf("WaitRefill slept with tokens left")
	}
}
