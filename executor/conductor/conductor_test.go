package conductor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitGroup_Timeout(t *testing.T) {
	var wg WaitGroup
	if !wg.Wait(0) {
		t.Fatalf("zero counter should not block")
	}
	wg.Add(2)
	if wg.Wait(10 * time.Millisecond) {
		t.Fatalf("wait returned true with counter 2")
	}
	go func() {
		wg.Done()
		wg.Done()
	}()
	if !wg.Wait(time.Second) {
		t.Fatalf("wait timed out after counter reached zero")
	}
	// Reusable after reaching zero.
	wg.Add(1)
	wg.Done()
	if !wg.Wait(0) {
		t.Fatalf("counter should be zero again")
	}
}

func TestWaitGroup_NegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	var wg WaitGroup
	wg.Done()
}

func runWorkers(c *Conductor, n int, work *atomic.Int64) *sync.WaitGroup {
	var exited sync.WaitGroup
	for i := 0; i < n; i++ {
		exited.Add(1)
		go func() {
			defer exited.Done()
			c.Wait()
			for !c.IsTerminated() {
				if !c.IsRunning() {
					c.AckPause()
					c.Wait()
					continue
				}
				work.Add(1)
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	return &exited
}

func TestConductor_PauseResumeTerminate(t *testing.T) {
	const workers = 4
	c := New()
	var work atomic.Int64
	exited := runWorkers(c, workers, &work)

	time.Sleep(5 * time.Millisecond)
	if work.Load() != 0 {
		t.Fatalf("workers ran while paused")
	}

	for round := 0; round < 3; round++ {
		c.Resume(workers)
		if !c.IsRunning() {
			t.Fatalf("round %d: not running after Resume", round)
		}
		time.Sleep(5 * time.Millisecond)
		c.Pause()
		if !c.Join(time.Second) {
			t.Fatalf("round %d: workers did not acknowledge pause", round)
		}
		done := work.Load()
		time.Sleep(5 * time.Millisecond)
		if work.Load() != done {
			t.Fatalf("round %d: work continued after Join", round)
		}
	}
	if work.Load() == 0 {
		t.Fatalf("no work was done")
	}

	c.Terminate()
	finished := make(chan struct{})
	go func() {
		exited.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("workers did not exit after Terminate")
	}
	if c.State() != Terminated {
		t.Fatalf("state = %v", c.State())
	}
	// Terminated is final.
	c.Resume(workers)
	if c.State() != Terminated {
		t.Fatalf("Resume left terminated state")
	}
}

func TestConductor_SleepWakesOnPause(t *testing.T) {
	c := New()
	var work atomic.Int64
	runWorkers(c, 1, &work)
	c.Resume(1)

	woke := make(chan struct{})
	go func() {
		c.Sleep(time.Minute)
		close(woke)
	}()
	c.Pause()
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("Sleep did not return on pause")
	}
	c.Join(-1)
	c.Terminate()
}
