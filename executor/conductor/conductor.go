// Package conductor coordinates a controller goroutine with a fixed pool of
// workers through pause, resume and terminate phases.
//
// Workers run a loop of the form
//
//	c.Wait()
//	for !c.IsTerminated() {
//		if !c.IsRunning() {
//			c.AckPause()
//			c.Wait()
//			continue
//		}
//		// one unit of work
//	}
//
// while the controller calls Resume(n) and Pause/Join around them.
package conductor

import (
	"sync"
	"time"
)

type State int

const (
	Paused State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Paused:
		return "paused"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

type Conductor struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}

	resumeWG WaitGroup
	pauseWG  WaitGroup
}

// New returns a conductor in the paused state.
func New() *Conductor {
	return &Conductor{changed: make(chan struct{})}
}

// setState must be called with mu held.
func (c *Conductor) setState(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Conductor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conductor) IsRunning() bool    { return c.State() == Running }
func (c *Conductor) IsTerminated() bool { return c.State() == Terminated }

// Pause waits until every worker has picked up the last Resume, then moves
// to paused. Workers notice on their next IsRunning check; use Join to wait
// for them to acknowledge.
func (c *Conductor) Pause() {
	c.resumeWG.Wait(-1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Terminated {
		c.setState(Paused)
	}
}

// Resume starts n workers and blocks until all of them have left Wait.
// It is a no-op unless the conductor is paused.
func (c *Conductor) Resume(n int) {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		return
	}
	c.resumeWG.Add(n)
	c.pauseWG.Add(n)
	c.setState(Running)
	c.mu.Unlock()

	c.resumeWG.Wait(-1)
}

// Wait blocks a worker while paused. It returns once running, after
// acknowledging the start, or immediately when terminated.
func (c *Conductor) Wait() {
	for {
		c.mu.Lock()
		st, ch := c.state, c.changed
		c.mu.Unlock()
		switch st {
		case Terminated:
			return
		case Running:
			c.resumeWG.Done()
			return
		}
		<-ch
	}
}

// AckPause is called by a worker once it has stopped for a pause.
func (c *Conductor) AckPause() {
	c.pauseWG.Done()
}

// Join waits for every running worker to acknowledge the pause. A negative
// timeout waits forever.
func (c *Conductor) Join(timeout time.Duration) bool {
	return c.pauseWG.Wait(timeout)
}

// Sleep blocks for d or until the conductor stops running.
func (c *Conductor) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		c.mu.Lock()
		st, ch := c.state, c.changed
		c.mu.Unlock()
		if st != Running {
			return
		}
		select {
		case <-ch:
		case <-t.C:
			return
		}
	}
}

// Terminate pauses, waits for the workers and then moves to terminated.
func (c *Conductor) Terminate() {
	c.Pause()
	c.Join(-1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(Terminated)
}
