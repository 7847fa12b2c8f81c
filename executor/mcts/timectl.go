package mcts

import (
	"time"

	"github.com/samber/lo"

	"github.com/brensch/gozero/game"
)

// noTimeout means search until paused by the simulation limit.
const noTimeout time.Duration = -1

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// search runs the workers for one move: the planned think time, then any
// overtime granted for an unstable or losing position.
func (e *Engine) search() {
	e.SearchResume()
	timeout := e.searchTimeout()
	e.log.Debug().Dur("timeout", timeout).Msg("search")
	e.searchWait(timeout, false)
	if over := e.searchOvertime(timeout); over > 0 {
		e.log.Info().Dur("overtime", over).Msg("search overtime")
		e.searchWait(over, true)
	}
	e.SearchPause()
}

// searchTimeout plans the think time for the side to move from the clock,
// capped by the per-step limit. It returns noTimeout when neither applies.
func (e *Engine) searchTimeout() time.Duration {
	timeout := noTimeout
	tc := e.cfg.TimeControl
	if e.timer.IsEnabled() && tc.Enable {
		factor := 1.0
		if e.cfg.UnstableOvertime.Enable {
			factor = max(factor, 1+e.cfg.UnstableOvertime.TimeFactor)
		}
		if e.cfg.BehindOvertime.Enable {
			factor = max(factor, 1+e.cfg.BehindOvertime.TimeFactor)
		}

		remain := e.timer.RemainTime(e.board.CurrentPlayer())
		byo := e.timer.ByoYomiTime()
		var think float64
		if remain > 0 {
			think = remain / float64(tc.CDenom+max(tc.CMaxply-len(e.moves), 0))
			think = min(think, (remain-tc.ReservedTime)/factor)
			if len(e.moves) >= tc.ByoYomiAfter {
				think = max(think, (byo-tc.ReservedTime)/factor)
			}
		} else {
			think = (byo - tc.ReservedTime) / factor
		}
		think = max(think, tc.MinTime)
		timeout = seconds(think)
	}
	if ms := e.cfg.TimeoutMsPerStep; ms > 0 {
		step := time.Duration(ms) * time.Millisecond
		if timeout < 0 || step < timeout {
			timeout = step
		}
	}
	return timeout
}

// searchOvertime is the extra time granted after timeout has elapsed.
func (e *Engine) searchOvertime(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	switch {
	case e.cfg.UnstableOvertime.Enable && e.checkUnstable():
		return time.Duration(float64(timeout) * e.cfg.UnstableOvertime.TimeFactor)
	case e.cfg.BehindOvertime.Enable && e.checkBehind():
		return time.Duration(float64(timeout) * e.cfg.BehindOvertime.TimeFactor)
	}
	return 0
}

// searchWait blocks while the workers search, for at most timeout. With
// early stop enabled it polls the root and returns as soon as the runner-up
// move can no longer catch the leader within timeout.
func (e *Engine) searchWait(timeout time.Duration, overtime bool) {
	switch {
	case timeout == 0:
		return
	case timeout < 0:
		e.cond.Join(-1)
		return
	case !e.cfg.EarlyStop.Enable:
		e.cond.Join(timeout)
		return
	}

	deadline := e.elapsed() + timeout
	every := max(time.Duration(e.cfg.EarlyStop.CheckEveryMs)*time.Millisecond, time.Millisecond)
	for e.elapsed()+every < deadline {
		if e.cond.Join(every) {
			return
		}
		if !e.checkEarlyStop(deadline) {
			continue
		}
		if !overtime {
			over := e.searchOvertime(deadline)
			if over > 0 && !e.checkEarlyStop(deadline+over) {
				e.log.Debug().Dur("overtime", over).Msg("early stop vetoed by overtime")
				break
			}
		}
		return
	}
	if remain := deadline - e.elapsed(); remain > 0 {
		e.cond.Join(remain)
	}
}

// checkEarlyStop reports whether the second most visited move cannot pass
// the most visited one before timeout at the current simulation rate.
func (e *Engine) checkEarlyStop(timeout time.Duration) bool {
	es := e.cfg.EarlyStop
	sims := e.sims.Load()
	if !es.Enable || sims < es.SimsThreshold {
		return false
	}
	var first, second int32
	for i := range e.tree.Root().Children() {
		v := e.tree.Root().children[i].VisitCount()
		switch {
		case v > first:
			first, second = v, first
		case v > second:
			second = v
		}
	}
	elapsed := e.elapsed()
	if elapsed <= 0 {
		return false
	}
	remain := float64(sims) * float64(timeout-elapsed) / float64(elapsed)
	if es.SimsFactor > 0 {
		remain *= es.SimsFactor
	}
	if float64(first-second) > remain {
		e.log.Info().
			Int32("first", first).
			Int32("second", second).
			Float64("remain_sims", remain).
			Msg("early stop")
		return true
	}
	return false
}

// checkUnstable reports whether the most visited root child differs from
// the one with the best mean action.
func (e *Engine) checkUnstable() bool {
	ch := e.tree.Root().Children()
	if len(ch) == 0 {
		return false
	}
	idx := lo.Range(len(ch))
	mostVisited := lo.MaxBy(idx, func(a, b int) bool { return ch[a].VisitCount() > ch[b].VisitCount() })
	bestMean := lo.MaxBy(idx, func(a, b int) bool { return ch[a].MeanAction(0) > ch[b].MeanAction(0) })
	return mostVisited != bestMean
}

// checkBehind reports whether the best move resigns or scores below the
// configured threshold.
func (e *Engine) checkBehind() bool {
	move, _ := e.bestMove()
	if move == game.Resign {
		return true
	}
	ch := FindChild(e.tree.Root(), move)
	return ch != nil && ch.MeanAction(0) < e.cfg.BehindOvertime.ActThreshold
}
