package mcts

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distuv"
	"lukechampine.com/frand"

	"github.com/brensch/gozero/game"
)

// childStats is the view of one root child used for move choice. A
// disabled pass reads as never visited and lost.
type childStats struct {
	move   int
	visits float32
	total  float32
	mean   float32
	prior  float32
	value  float32
}

func (e *Engine) rootStats() []childStats {
	ch := e.tree.Root().Children()
	disablePass := e.isPassDisabled()
	out := make([]childStats, len(ch))
	for i := range ch {
		c := &ch[i]
		s := childStats{move: c.Move(), value: -1}
		if !(disablePass && s.move == game.Pass) {
			s.visits = float32(c.VisitCount())
			s.total = c.TotalAction()
			s.mean = c.MeanAction(-1)
			s.prior = c.PriorProb()
			s.value = c.Value()
		}
		out[i] = s
	}
	return out
}

func argmax(stats []childStats, key func(childStats) float32) int {
	return lo.MaxBy(lo.Range(len(stats)), func(a, b int) bool {
		return key(stats[a]) > key(stats[b])
	})
}

// bestMove picks the root child by GetBestMoveMode and returns Resign
// instead when resignation is enabled and the position looks lost.
// vResign is the value compared against the threshold.
func (e *Engine) bestMove() (move int, vResign float32) {
	stats := e.rootStats()
	if len(stats) == 0 {
		return game.Pass, 1
	}

	var key func(childStats) float32
	switch e.cfg.GetBestMoveMode {
	case 1:
		key = func(s childStats) float32 { return s.total }
	case 2:
		key = func(s childStats) float32 { return s.mean }
	case 3:
		key = func(s childStats) float32 { return s.prior }
	case 4:
		key = func(s childStats) float32 { return s.value }
	default:
		key = func(s childStats) float32 { return s.visits }
	}
	choice := argmax(stats, key)

	root := e.tree.Root()
	rootAction := -root.TotalAction() / float32(root.VisitCount())
	rootValue := -root.Value()
	byMean := func(s childStats) float32 { return s.mean }
	byValue := func(s childStats) float32 { return s.value }
	switch e.cfg.ResignMode {
	case 1:
		vResign = max(rootValue, stats[choice].value)
	case 2:
		vResign = max(rootAction, stats[argmax(stats, byMean)].mean)
	case 3:
		vResign = max(rootValue, stats[argmax(stats, byValue)].value)
	default:
		vResign = max(rootAction, stats[choice].mean)
	}

	if e.cfg.EnableResign && vResign < e.cfg.VResign {
		e.log.Warn().Float32("v_resign", vResign).Msg("resign")
		return game.Resign, vResign
	}
	e.log.Debug().Float32("v_resign", vResign).Msg("not resign")
	return stats[choice].move, vResign
}

// samplingMove draws a root child with probability proportional to
// visits^(1/temperature).
func (e *Engine) samplingMove(temperature float32) int {
	stats := e.rootStats()
	weights := make([]float64, len(stats))
	var sum float64
	for i, s := range stats {
		weights[i] = math.Pow(float64(s.visits), 1/float64(temperature))
		sum += weights[i]
	}
	if sum <= 0 {
		move, _ := e.bestMove()
		return move
	}
	c := distuv.NewCategorical(weights, frand.NewSource())
	return stats[int(c.Rand())].move
}

func (e *Engine) isPassDisabled() bool {
	return e.cfg.DisablePass || (e.cfg.MaxGenPasses > 0 && e.genPasses >= e.cfg.MaxGenPasses)
}
