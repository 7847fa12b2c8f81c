package mcts

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/game"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestByoYomiTimer_HandOff(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	timer := NewByoYomiTimer()
	timer.now = clock.now
	timer.Set(60, 30)

	clock.advance(10 * time.Second)
	if got := timer.RemainTime(game.Black); got != 50 {
		t.Fatalf("black remain while thinking = %f, want 50", got)
	}
	if got := timer.RemainTime(game.White); got != 60 {
		t.Fatalf("white remain = %f, want 60", got)
	}
	timer.HandOff()
	clock.advance(70 * time.Second)
	if got := timer.RemainTime(game.White); got != 0 {
		t.Fatalf("white remain after overrun = %f, want 0", got)
	}
	if got := timer.RemainTime(game.Black); got != 50 {
		t.Fatalf("black remain on white's turn = %f, want 50", got)
	}
	timer.SetRemainTime(game.White, 5)
	if got := timer.RemainTime(game.White); got != 5 {
		t.Fatalf("white remain after override = %f", got)
	}

	timer.Reset()
	if timer.IsEnabled() || timer.ByoYomiTime() != 0 {
		t.Fatalf("reset timer still enabled")
	}
}

// timedEngine is an engine without search goroutines, enough for the time
// control methods.
func timedEngine(cfg config.Config, clock *fakeClock) *Engine {
	e := &Engine{
		cfg:   cfg,
		board: game.NewState(false),
		timer: NewByoYomiTimer(),
		tree:  NewTree(zerolog.Nop()),
		log:   zerolog.Nop(),
	}
	e.timer.now = clock.now
	return e
}

func approx(t *testing.T, name string, got, want time.Duration) {
	t.Helper()
	if d := got - want; d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestSearchTimeout_MainTime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := config.Default()
	e := timedEngine(cfg, clock)
	defer e.tree.Close()

	if got := e.searchTimeout(); got != 30*time.Second {
		t.Fatalf("no clock: timeout = %v, want the per-step limit", got)
	}
	e.cfg.TimeoutMsPerStep = 0
	if got := e.searchTimeout(); got != noTimeout {
		t.Fatalf("no limits: timeout = %v", got)
	}

	e.timer.Set(100, 0)
	// 100s over c_denom 20 + c_maxply 40 moves.
	approx(t, "main time", e.searchTimeout(), seconds(100.0/60))

	// The reserve and the overtime factor cap the plan.
	e.cfg.TimeControl.CDenom, e.cfg.TimeControl.CMaxply = 1, 0
	e.timer.SetRemainTime(game.Black, 2)
	approx(t, "reserved", e.searchTimeout(), seconds((2-1)/1.3))

	e.timer.Set(0, 10)
	approx(t, "byo-yomi", e.searchTimeout(), seconds((10-1)/1.3))

	e.cfg.TimeoutMsPerStep = 500
	approx(t, "capped", e.searchTimeout(), 500*time.Millisecond)
}

func TestSearchTimeout_ByoYomiAfterMoves(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := config.Default()
	cfg.TimeoutMsPerStep = 0
	cfg.TimeControl.ByoYomiAfter = 10
	cfg.UnstableOvertime.Enable = false
	cfg.BehindOvertime.Enable = false
	e := timedEngine(cfg, clock)
	defer e.tree.Close()
	e.timer.Set(20, 30)

	// Before byo_yomi_after only main time counts: 20/60.
	approx(t, "early", e.searchTimeout(), seconds(20.0/60))
	e.moves = make([]int, 10)
	// 20/(20+30), then raised to the byo-yomi period minus reserve.
	approx(t, "late", e.searchTimeout(), seconds(29))
}

// seedRoot expands the root of e over an empty board and sets the visit
// count and total action of the given children.
func seedRoot(e *Engine, stats map[int][2]float64) *Node {
	root := e.tree.Root()
	root.tryExpand()
	Expand(root, e.board, uniformPolicy(), ExpandOptions{})
	var n int32
	var w float64
	for move, s := range stats {
		c := FindChild(root, move)
		c.visits.Store(int32(s[0]))
		c.action.Store(int64(s[1] * ActionValueBase))
		n += int32(s[0])
		w -= s[1]
	}
	root.visits.Store(n + 1)
	root.action.Store(int64(w * ActionValueBase))
	return root
}

func TestCheckEarlyStop(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := timedEngine(config.Default(), clock)
	defer e.tree.Close()
	e.cfg.EarlyStop.SimsThreshold = 100
	seedRoot(e, map[int][2]float64{
		game.CoordToID(3, 3):   {100, 10},
		game.CoordToID(15, 15): {10, 1},
	})
	e.sims.Store(1000)
	e.searchStart = time.Now().Add(-time.Second)

	// 1000 sims/s: 0.2s more is 200 sims, enough for a gap of 90.
	if e.checkEarlyStop(1200 * time.Millisecond) {
		t.Fatalf("stopped although the runner-up can still catch up")
	}
	// 0.05s more is at most 50 sims.
	if !e.checkEarlyStop(1050 * time.Millisecond) {
		t.Fatalf("did not stop with an unreachable lead")
	}

	e.sims.Store(50)
	if e.checkEarlyStop(1050 * time.Millisecond) {
		t.Fatalf("stopped below the simulation threshold")
	}
}

func TestCheckUnstableAndBehind(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := timedEngine(config.Default(), clock)
	defer e.tree.Close()
	e.cfg.BehindOvertime.ActThreshold = 0
	a, b := game.CoordToID(3, 3), game.CoordToID(15, 15)

	seedRoot(e, map[int][2]float64{
		a: {100, -20},
		b: {50, 10},
	})
	if !e.checkUnstable() {
		t.Fatalf("most visited %s differs from best mean %s", game.IDToString(a), game.IDToString(b))
	}
	if !e.checkBehind() {
		t.Fatalf("best move has Q=-0.2, below threshold 0")
	}
	approx(t, "overtime", e.searchOvertime(10*time.Second), 3*time.Second)

	FindChild(e.tree.Root(), a).action.Store(int64(30 * ActionValueBase))
	if e.checkUnstable() {
		t.Fatalf("stable root reported unstable")
	}
	if e.checkBehind() {
		t.Fatalf("winning root reported behind")
	}
	if over := e.searchOvertime(10 * time.Second); over != 0 {
		t.Fatalf("overtime = %v, want none", over)
	}
}

func TestCheckUnstable_UnvisitedChildrenScoreZero(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := timedEngine(config.Default(), clock)
	defer e.tree.Close()
	a := game.CoordToID(3, 3)

	// The only visited child is losing, so any unvisited child at 0 beats it.
	seedRoot(e, map[int][2]float64{a: {100, -20}})
	if !e.checkUnstable() {
		t.Fatalf("losing most visited child reported stable")
	}

	FindChild(e.tree.Root(), a).action.Store(int64(20 * ActionValueBase))
	if e.checkUnstable() {
		t.Fatalf("winning most visited child reported unstable")
	}
}

func TestBestMove_ModesAndResign(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := timedEngine(config.Default(), clock)
	defer e.tree.Close()
	a, b := game.CoordToID(3, 3), game.CoordToID(15, 15)
	seedRoot(e, map[int][2]float64{
		a:         {100, 20},
		b:         {50, 40},
		game.Pass: {200, 100},
	})

	if move, _ := e.bestMove(); move != game.Pass {
		t.Fatalf("mode 0 = %s, want pass", game.IDToString(move))
	}
	e.cfg.DisablePass = true
	if move, _ := e.bestMove(); move != a {
		t.Fatalf("mode 0 with pass disabled = %s", game.IDToString(move))
	}
	e.cfg.GetBestMoveMode = 2
	move, vResign := e.bestMove()
	if move != b {
		t.Fatalf("mode 2 = %s", game.IDToString(move))
	}
	if math.Abs(float64(vResign)-0.8) > 1e-5 {
		t.Fatalf("v_resign = %f, want Q of %s", vResign, game.IDToString(b))
	}

	e.cfg.DisablePass = false
	e.cfg.GetBestMoveMode = 0
	e.cfg.VResign = 0.9
	if move, _ := e.bestMove(); move != game.Resign {
		t.Fatalf("expected resign below v_resign 0.9, got %s", game.IDToString(move))
	}
	e.cfg.EnableResign = false
	if move, _ := e.bestMove(); move != game.Pass {
		t.Fatalf("resign disabled: %s", game.IDToString(move))
	}
}

func TestSamplingMove_OnlyVisitedChildren(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := timedEngine(config.Default(), clock)
	defer e.tree.Close()
	a, b := game.CoordToID(3, 3), game.CoordToID(15, 15)
	seedRoot(e, map[int][2]float64{
		a:         {10, 0},
		b:         {10, 0},
		game.Pass: {1000, 0},
	})
	e.cfg.DisablePass = true
	for range 50 {
		if m := e.samplingMove(1); m != a && m != b {
			t.Fatalf("sampled %s", game.IDToString(m))
		}
	}
	e.cfg.DisablePass = false
	e.cfg.MaxGenPasses = 1
	e.genPasses = 1
	if !e.isPassDisabled() {
		t.Fatalf("pass should be disabled after max_gen_passes")
	}
}

func TestMonitor_SnapshotAndReset(t *testing.T) {
	m := NewMonitor(0, false, zerolog.Nop())
	defer m.Close()
	a, b := m.NewLocal(), m.NewLocal()
	a.TreeHeight(4)
	b.TreeHeight(8)
	a.EvalBatchSize(2)
	b.EvalBatchSize(4)
	a.SelectSameNode()
	b.EvalTimeout()

	s := m.Snapshot()
	if s.MaxTreeHeight != 8 || s.AvgTreeHeight != 6 {
		t.Fatalf("height max %d avg %f", s.MaxTreeHeight, s.AvgTreeHeight)
	}
	if s.AvgBatchSize != 3 || s.SelectSameNode != 1 || s.EvalTimeouts != 1 {
		t.Fatalf("snapshot = %+v", s)
	}

	m.Resume()
	m.Pause()
	m.Reset()
	if s := m.Snapshot(); s.MaxTreeHeight != 0 || s.SelectSameNode != 0 {
		t.Fatalf("reset left %+v", s)
	}
}
