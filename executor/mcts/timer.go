package mcts

import (
	"sync"
	"time"

	"github.com/brensch/gozero/game"
)

// ByoYomiTimer tracks the main time left to each player. Times are seconds.
type ByoYomiTimer struct {
	mu          sync.Mutex
	enabled     bool
	remain      [2]float64
	byoYomiTime float64
	current     game.Color
	started     time.Time

	now func() time.Time
}

func NewByoYomiTimer() *ByoYomiTimer {
	t := &ByoYomiTimer{now: time.Now}
	t.Reset()
	return t
}

func colorIndex(c game.Color) int {
	if c == game.White {
		return 1
	}
	return 0
}

// Set enables the timer with mainTime for each player.
func (t *ByoYomiTimer) Set(mainTime, byoYomiTime float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	t.remain = [2]float64{mainTime, mainTime}
	t.byoYomiTime = byoYomiTime
	t.started = t.now()
}

func (t *ByoYomiTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.remain = [2]float64{}
	t.byoYomiTime = 0
	t.current = game.Black
}

func (t *ByoYomiTimer) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// HandOff charges the running clock to the player who just moved and starts
// the opponent's.
func (t *ByoYomiTimer) HandOff() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.remain[colorIndex(t.current)] -= now.Sub(t.started).Seconds()
	t.current = t.current.Opponent()
	t.started = now
}

// SetRemainTime overrides a player's clock, as reported by a controller.
func (t *ByoYomiTimer) SetRemainTime(c game.Color, seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remain[colorIndex(c)] = seconds
	if c == t.current {
		t.started = t.now()
	}
}

// RemainTime is the main time c has left, never negative.
func (t *ByoYomiTimer) RemainTime(c game.Color) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.remain[colorIndex(c)]
	if c == t.current {
		r -= t.now().Sub(t.started).Seconds()
	}
	return max(r, 0)
}

func (t *ByoYomiTimer) ByoYomiTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byoYomiTime
}
