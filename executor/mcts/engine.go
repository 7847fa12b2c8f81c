package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/conductor"
	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/executor/inference"
	"github.com/brensch/gozero/game"
)

// ErrEngineClosed is reported for evaluations submitted after Close.
var ErrEngineClosed = errors.New("mcts: engine closed")

// Decision is the outcome of GenMove.
type Decision struct {
	Move int
	// Visits holds the root child visit counts in policy order, pass last.
	Visits []int32
	// VResign is the value compared against the resign threshold.
	VResign float32
	// Q is the mean action of the chosen child from the mover's side,
	// NaN when the move was not searched.
	Q           float32
	Simulations int64
	Elapsed     time.Duration
}

// Engine plays one game. Moves, GenMove and Reset are not safe for
// concurrent use; the search goroutines they drive are.
type Engine struct {
	cfg     config.Config
	pending atomic.Pointer[config.Config]

	board     *game.State
	moves     []int
	genPasses int

	tree     *Tree
	pipeline *inference.Pipeline
	monitor  *Monitor
	timer    *ByoYomiTimer
	debugger *Debugger

	// rootLocal records root evaluations made outside the workers.
	rootLocal *LocalMonitor

	cond       *conductor.Conductor
	numWorkers int
	workers    sync.WaitGroup
	evalTasks  conductor.WaitGroup
	async      bool

	searching   bool
	searchStart time.Time
	sims        atomic.Int64
	globalStep  int64

	closeOnce sync.Once
	log       zerolog.Logger
}

// New starts the evaluation pipeline over backends and the search
// goroutines, which stay paused until the first search.
func New(ctx context.Context, cfg config.Config, backends []inference.Backend, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcts: %w", err)
	}
	pcfg := inference.PipelineConfigFrom(&cfg)
	if cfg.NumEvalThreads == 0 {
		pcfg.BatchSize = 1
	}

	e := &Engine{
		cfg:        cfg,
		board:      game.NewState(!cfg.DisablePositionalSuperko),
		tree:       NewTree(log),
		timer:      NewByoYomiTimer(),
		cond:       conductor.New(),
		numWorkers: cfg.NumSearchThreads,
		async:      pcfg.Async,
		log:        log.With().Str("component", "mcts").Logger(),
	}
	e.monitor = NewMonitor(cfg.MonitorLogEvery(), e.async, log)
	e.pipeline = inference.NewPipeline(pcfg, backends, e.monitor.NewLocal(), log)
	e.rootLocal = e.monitor.NewLocal()
	e.debugger = newDebugger(e)

	step, err := e.pipeline.Start(ctx, cfg.ModelConfig)
	if err != nil {
		e.tree.Close()
		e.monitor.Close()
		return nil, errors.Join(fmt.Errorf("mcts: start pipeline: %w", err), e.pipeline.Close())
	}
	e.globalStep = step

	e.workers.Add(e.numWorkers)
	for range e.numWorkers {
		go e.searchRoutine()
	}
	e.log.Info().
		Int("search_threads", e.numWorkers).
		Int("eval_backends", len(backends)).
		Bool("async", e.async).
		Int64("global_step", step).
		Msg("engine started")
	return e, nil
}

// Close stops searching and releases the pipeline and its backends.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.SearchPause()
		e.cond.Terminate()
		e.workers.Wait()
		e.evalTasks.Wait(-1)
		err = e.pipeline.Close()
		e.tree.Close()
		e.monitor.Close()
		e.log.Info().Msg("engine closed")
	})
	return err
}

func (e *Engine) Board() *game.State            { return e.board.Clone() }
func (e *Engine) Config() config.Config         { return e.cfg }
func (e *Engine) GlobalStep() int64             { return e.globalStep }
func (e *Engine) Monitor() *Monitor             { return e.monitor }
func (e *Engine) Debugger() *Debugger           { return e.debugger }
func (e *Engine) Timer() *ByoYomiTimer          { return e.timer }
func (e *Engine) NumMoves() int                 { return len(e.moves) }
func (e *Engine) Moves() string                 { return game.FormatMoves(e.moves) }
func (e *Engine) Simulations() int64            { return e.sims.Load() }
func (e *Engine) Root() *Node                   { return e.tree.Root() }
func (e *Engine) Stats() inference.RuntimeStats { return e.pipeline.Stats() }

// SetPendingConfig replaces the configuration after the next move. Thread
// counts and batching are fixed at construction and keep their old values.
func (e *Engine) SetPendingConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.pending.Store(cfg.Clone())
	return nil
}

func (e *Engine) applyPendingConfig() {
	cfg := e.pending.Swap(nil)
	if cfg == nil {
		return
	}
	cfg.NumSearchThreads = e.cfg.NumSearchThreads
	cfg.NumEvalThreads = e.cfg.NumEvalThreads
	cfg.EvalBatchSize = e.cfg.EvalBatchSize
	cfg.EnableDist, cfg.EnableAsync = e.cfg.EnableDist, e.cfg.EnableAsync
	e.cfg = *cfg
	e.log.Info().Msg("pending config applied")
}

func (e *Engine) ensureTimer() {
	tc := e.cfg.TimeControl
	if !e.timer.IsEnabled() && (tc.MainTime > 0 || tc.ByoYomiTime > 0) {
		e.timer.Set(tc.MainTime, tc.ByoYomiTime)
	}
}

// Move plays id for the side to move and keeps the searched subtree below
// it. Resign only stops the search.
func (e *Engine) Move(id int) error {
	e.ensureTimer()
	if id == game.Resign {
		e.SearchPause()
		e.log.Info().Int("move_number", len(e.moves)+1).Msg("resign")
		return nil
	}
	if !e.board.IsLegal(id) {
		return fmt.Errorf("mcts: move %s: %w", game.IDToString(id), game.ErrIllegalMove)
	}

	e.SearchPause()
	if err := e.board.Move(id); err != nil {
		panic(fmt.Sprintf("mcts: board rejected checked move %s: %v", game.IDToString(id), err))
	}
	e.moves = append(e.moves, id)
	e.log.Info().Str("moves", e.Moves()).Msg("move")

	root := e.tree.ChangeRoot(FindChild(e.tree.Root(), id))
	root.move.Store(int32(id))

	e.debugger.UpdateLastMoveDebugStr()
	e.log.Info().Msg(e.debugger.LastMoveDebugStr())
	e.debugger.PrintTree(1, 10, game.IDToString(id)+",")

	e.timer.HandOff()
	e.applyPendingConfig()

	if !e.cfg.DisableDoublePassScoring && e.board.IsDoublePass() {
		e.log.Info().Msg("double pass, game over")
		return nil
	}
	if e.cfg.EnableBackgroundSearch {
		e.SearchResume()
	} else {
		e.sims.Store(0)
	}
	return nil
}

// GenMove searches the current position and picks a move without playing
// it.
func (e *Engine) GenMove() Decision {
	e.ensureTimer()
	if e.cfg.EnablePassPass && e.board.LastMove() == game.Pass && !e.isPassDisabled() {
		e.genPasses++
		e.log.Info().Msg("opponent passed, pass")
		return Decision{
			Move:    game.Pass,
			Visits:  VisitCounts(e.tree.Root()),
			VResign: 1,
			Q:       e.childQ(game.Pass),
		}
	}

	start := time.Now()
	e.search()
	d := Decision{
		Visits:      VisitCounts(e.tree.Root()),
		Simulations: e.sims.Load(),
		Elapsed:     time.Since(start),
	}
	if e.cfg.GenmoveTemperature == 0 {
		d.Move, d.VResign = e.bestMove()
	} else {
		d.Move, d.VResign = e.samplingMove(e.cfg.GenmoveTemperature), 1
	}
	d.Q = e.childQ(d.Move)
	if d.Move == game.Pass {
		e.genPasses++
	}
	e.log.Info().
		Str("move", game.IDToString(d.Move)).
		Float32("v_resign", d.VResign).
		Int64("sims", d.Simulations).
		Dur("elapsed", d.Elapsed).
		Msg("genmove")
	return d
}

func (e *Engine) childQ(move int) float32 {
	ch := FindChild(e.tree.Root(), move)
	if ch == nil {
		return float32(math.NaN())
	}
	return ch.MeanAction(float32(math.NaN()))
}

// Reset replays moves, a comma separated list of two-letter points, from an
// empty board. The tree is discarded.
func (e *Engine) Reset(moves string) error {
	ids, err := game.ParseMoves(moves)
	if err != nil {
		return fmt.Errorf("mcts: reset: %w", err)
	}
	return e.reset(ids)
}

func (e *Engine) reset(ids []int) error {
	board := game.NewState(!e.cfg.DisablePositionalSuperko)
	for i, id := range ids {
		if err := board.Move(id); err != nil {
			return fmt.Errorf("mcts: reset at move %d: %w", i+1, err)
		}
	}

	e.SearchPause()
	e.board = board
	e.moves = slices.Clone(ids)
	e.genPasses = 0
	root := e.tree.ChangeRoot(nil)
	if len(ids) > 0 {
		root.move.Store(int32(ids[len(ids)-1]))
	}
	e.timer.Reset()
	e.sims.Store(0)
	e.log.Info().Str("moves", e.Moves()).Msg("reset")

	if e.cfg.EnableBackgroundSearch && !(e.board.IsDoublePass() && !e.cfg.DisableDoublePassScoring) {
		e.SearchResume()
	}
	return nil
}

// Undo takes back the last move. It reports false when there is none.
func (e *Engine) Undo() bool {
	if len(e.moves) == 0 {
		return false
	}
	if err := e.reset(e.moves[:len(e.moves)-1]); err != nil {
		e.log.Error().Err(err).Msg("undo")
		return false
	}
	return true
}

// PlaceFreeHandicap puts n black stones on the star points, answering each
// with a white pass, and returns the points used.
func (e *Engine) PlaceFreeHandicap(n int) ([]int, error) {
	moves, err := game.HandicapMoves(n)
	if err != nil {
		return nil, err
	}
	if err := e.reset(append(slices.Clone(e.moves), moves...)); err != nil {
		return nil, err
	}
	stones := make([]int, 0, n)
	for _, id := range moves {
		if id != game.Pass {
			stones = append(stones, id)
		}
	}
	return stones, nil
}

// SearchResume starts the search goroutines on the current position if
// they are not already running.
func (e *Engine) SearchResume() {
	if e.searching {
		return
	}
	e.sims.Store(0)
	e.searchStart = time.Now()
	if e.cfg.ClearSearchTreePerMove {
		root := e.tree.ChangeRoot(nil)
		root.move.Store(int32(e.board.LastMove()))
	}
	e.initRoot()
	e.monitor.Reset()
	e.monitor.Resume()
	e.cond.Resume(e.numWorkers)
	e.searching = true
}

// SearchPause stops the search goroutines and waits until every
// outstanding evaluation has landed in the tree.
func (e *Engine) SearchPause() {
	if !e.searching {
		return
	}
	e.cond.Pause()
	e.cond.Join(-1)
	e.evalTasks.Wait(-1)
	e.monitor.Pause()
	e.monitor.Log()
	e.debugger.Debug()
	e.searching = false
}

func (e *Engine) elapsed() time.Duration { return time.Since(e.searchStart) }
