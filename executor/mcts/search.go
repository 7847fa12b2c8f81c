package mcts

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distuv"
	"lukechampine.com/frand"

	"github.com/brensch/gozero/executor/inference"
	"github.com/brensch/gozero/game"
)

func (e *Engine) expandOptions() ExpandOptions {
	return ExpandOptions{
		MaxChildren:       e.cfg.MaxChildrenPerNode,
		DoublePassScoring: !e.cfg.DisableDoublePassScoring,
	}
}

func (e *Engine) searchRoutine() {
	defer e.workers.Done()
	local := e.monitor.NewLocal()
	c := e.cond
	c.Wait()
	if c.IsTerminated() {
		return
	}
	for {
		if !c.IsRunning() {
			c.AckPause()
			c.Wait()
			if c.IsTerminated() {
				return
			}
		}
		e.simulate(local)
	}
}

// simulate runs one selection and, if it reaches an unclaimed leaf,
// evaluates, expands and backs it up.
func (e *Engine) simulate(local *LocalMonitor) {
	start := time.Now()
	board := e.board.Clone()
	node := e.selectLeaf(board, local)
	local.SelectCost(time.Since(start))

	if !node.tryExpand() {
		UndoVirtualLoss(node)
		local.SelectSameNode()
		return
	}
	e.eval(board, local, func(r inference.Result) {
		defer func() { local.SimulationCost(time.Since(start)) }()
		if r.Err != nil {
			node.state.Store(int32(Unexpanded))
			UndoVirtualLoss(node)
			return
		}
		t := time.Now()
		n := Expand(node, board, r.Policy, e.expandOptions())
		local.ExpandCost(time.Since(t))
		t = time.Now()
		Backup(node, r.Value, n)
		local.BackupCost(time.Since(t))

		sims := e.sims.Add(1)
		if limit := e.cfg.MaxSimulationsPerStep; limit > 0 && sims > limit {
			e.cond.Pause()
		}
		if limit := e.cfg.MaxSearchTreeSize; limit > 0 && e.tree.Root().Size() > limit && e.cond.IsRunning() {
			e.cond.Pause()
			e.log.Error().Int64("size", e.tree.Root().Size()).Msg("search tree full, search paused")
		}
	})
}

// selectLeaf descends from the root to a leaf, playing the chosen moves on
// board and adding a virtual loss to every node on the way.
func (e *Engine) selectLeaf(board *game.State, local *LocalMonitor) *Node {
	node := e.tree.Root()
	node.vloss.Add(1)
	height := 0
	for node.IsExpanded() {
		node = e.selectChild(node)
		node.vloss.Add(1)
		if err := board.Move(node.Move()); err != nil {
			panic(fmt.Sprintf("mcts: selected illegal move %s: %v", game.IDToString(node.Move()), err))
		}
		height++
	}
	local.TreeHeight(height)
	return node
}

// selectChild picks the child maximising the PUCT score. Virtual losses
// count as lost visits; VirtualLossMode bit 0 keeps them out of the
// exploration term and bit 1 keeps them out of the action value.
func (e *Engine) selectChild(node *Node) *Node {
	ch := node.children
	mode := e.cfg.VirtualLossMode
	vlUnit := e.cfg.VirtualLoss

	var total float32
	for i := range ch {
		total += float32(ch[i].VisitCount())
		if mode&1 == 0 {
			total += float32(ch[i].VirtualLoss()) * vlUnit
		}
	}
	sqrtTotal := max(float32(math.Sqrt(float64(total))), 1)

	defaultAct := e.cfg.DefaultAct
	if e.cfg.InheritDefaultAct {
		if visits := node.VisitCount(); visits > 0 {
			defaultAct = -node.TotalAction() / float32(visits)
			if f := e.cfg.InheritDefaultActFactor; f > 0 {
				defaultAct *= f
			}
		}
	}

	best, bestScore := 0, float32(math.Inf(-1))
	for i := range ch {
		c := &ch[i]
		visits := float32(c.VisitCount())
		vl := float32(c.VirtualLoss()) * vlUnit
		act := defaultAct
		switch {
		case visits == 0 && vl == 0:
		case mode&2 == 0:
			act = (c.TotalAction() - vl) / (visits + vl)
		case visits > 0:
			act = c.TotalAction() / visits
		}
		var ucb float32
		if mode&1 == 0 {
			ucb = e.cfg.CPuct * c.PriorProb() * sqrtTotal / (1 + visits + vl)
		} else {
			ucb = e.cfg.CPuct * c.PriorProb() * sqrtTotal / (1 + visits)
		}
		if s := act + ucb; s > bestScore {
			best, bestScore = i, s
		}
	}
	return &ch[best]
}

// eval evaluates board and calls done with a policy in board orientation.
// In async mode done runs on a pipeline goroutine; otherwise eval blocks
// until done has returned.
func (e *Engine) eval(board *game.State, local *LocalMonitor, done func(inference.Result)) {
	scoring := !e.cfg.DisableDoublePassScoring
	if scoring && board.IsDoublePass() {
		policy := make([]float32, game.PolicySize)
		policy[game.NumPoints] = 1
		value := float32(1)
		if board.Winner() == board.CurrentPlayer() {
			value = -1
		}
		done(inference.Result{Policy: policy, Value: value})
		return
	}

	start := time.Now()
	mode := 0
	if !e.cfg.DisableTransform {
		mode = frand.Intn(game.NumSymmetries)
	}
	features := game.Transform(board.Features(), mode, false)
	dumbPass := board.Winner() != board.CurrentPlayer()

	finish := func(r inference.Result) {
		if r.Err == nil {
			if len(r.Policy) != game.PolicySize {
				panic(fmt.Sprintf("mcts: policy size %d, want %d", len(r.Policy), game.PolicySize))
			}
			if dumbPass && r.Value < 0.5 && scoring {
				r.Policy[game.NumPoints] = min(r.Policy[game.NumPoints], 1e-5)
			}
			if e.cfg.EnablePolicyTemperature {
				applyTemperature(r.Policy, e.cfg.PolicyTemperature)
			}
			r.Policy = game.Transform(r.Policy, mode, true)
		}
		local.EvalCost(time.Since(start))
		done(r)
	}

	if e.async {
		e.evalTasks.Add(1)
		task := &inference.Task{Features: features, Done: func(r inference.Result) {
			defer e.evalTasks.Done()
			finish(r)
		}}
		if !e.pipeline.Submit(task) {
			task.Done(inference.Result{Err: ErrEngineClosed})
		}
		local.TaskQueueSize(e.pipeline.QueueSize())
		return
	}

	results := make(chan inference.Result, 1)
	task := &inference.Task{Features: features, Done: func(r inference.Result) { results <- r }}
	if !e.pipeline.Submit(task) {
		finish(inference.Result{Err: ErrEngineClosed})
		return
	}
	local.TaskQueueSize(e.pipeline.QueueSize())
	finish(<-results)
}

// applyTemperature raises p to 1/t and renormalises in place.
func applyTemperature(p []float32, t float32) {
	var sum float64
	for i, v := range p {
		w := math.Pow(float64(v), float64(1/t))
		p[i] = float32(w)
		sum += w
	}
	if sum <= 0 {
		return
	}
	for i := range p {
		p[i] = float32(float64(p[i]) / sum)
	}
}

// initRoot makes sure the root is expanded before workers start, then
// mixes Dirichlet noise into its priors when configured. With noise on, a
// pass that loses the scored game gets a negligible prior.
func (e *Engine) initRoot() {
	root := e.tree.Root()
	if !e.cfg.DisableDoublePassScoring && e.board.IsDoublePass() {
		return
	}
	for !root.IsExpanded() {
		if !root.tryExpand() {
			continue
		}
		root.vloss.Add(1)
		var err error
		e.eval(e.board.Clone(), e.rootLocal, func(r inference.Result) {
			if r.Err != nil {
				err = r.Err
				root.state.Store(int32(Unexpanded))
				UndoVirtualLoss(root)
				return
			}
			Backup(root, r.Value, Expand(root, e.board, r.Policy, e.expandOptions()))
		})
		e.evalTasks.Wait(-1)
		if errors.Is(err, ErrEngineClosed) {
			e.log.Warn().Msg("root evaluation skipped, engine closed")
			return
		}
		if err != nil {
			e.log.Warn().Err(err).Msg("root evaluation failed, retrying")
		}
	}

	ch := root.Children()
	if e.cfg.EnableDirichletNoise && len(ch) > 0 {
		// Dirichlet(alpha) as normalised Gamma(alpha, 1) draws.
		gamma := distuv.Gamma{Alpha: e.cfg.DirichletNoiseAlpha, Beta: 1, Src: frand.NewSource()}
		noise := make([]float64, len(ch))
		var sum float64
		for i := range noise {
			noise[i] = gamma.Rand()
			sum += noise[i]
		}
		r := e.cfg.DirichletNoiseRatio
		for i := range ch {
			if sum <= 0 {
				break
			}
			p := (1-r)*ch[i].PriorProb() + r*float32(noise[i]/sum)
			ch[i].prior.Store(p)
		}

		// Noise must not lift a pass that would lose on the spot.
		dumbPass := e.board.Winner() != e.board.CurrentPlayer()
		if dumbPass && root.Value() < 0.5 && !e.cfg.DisableDoublePassScoring {
			if pass := FindChild(root, game.Pass); pass != nil {
				pass.prior.Store(1e-5)
			}
		}
	}
	if debugEnabled(e.log) && len(ch) > 0 {
		top := lo.MaxBy(lo.Range(len(ch)), func(a, b int) bool {
			return ch[a].PriorProb() > ch[b].PriorProb()
		})
		e.log.Debug().Int("children", len(ch)).
			Float32("value", root.Value()).
			Str("top_prior", game.IDToString(ch[top].Move())).
			Msg("root ready")
	}
}
