package conductor

import (
	"sync"
	"time"
)

// WaitGroup is a counter that can be waited on with a timeout. The zero
// value is ready to use.
type WaitGroup struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

// Add adjusts the counter. It panics if the counter goes negative.
func (wg *WaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	old := wg.n
	wg.n += delta
	if wg.n < 0 {
		panic("conductor: negative WaitGroup counter")
	}
	switch {
	case old == 0 && wg.n > 0:
		wg.zero = make(chan struct{})
	case old > 0 && wg.n == 0:
		close(wg.zero)
	}
}

func (wg *WaitGroup) Done() { wg.Add(-1) }

// Wait blocks until the counter reaches zero or timeout elapses. A negative
// timeout waits forever. It reports whether the counter reached zero.
func (wg *WaitGroup) Wait(timeout time.Duration) bool {
	wg.mu.Lock()
	if wg.n == 0 {
		wg.mu.Unlock()
		return true
	}
	ch := wg.zero
	wg.mu.Unlock()

	if timeout < 0 {
		<-ch
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
