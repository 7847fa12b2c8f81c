package mcts

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/game"
)

// Debugger renders the search tree of an engine. It must only be used while
// search is paused.
type Debugger struct {
	e            *Engine
	lastMoveInfo string
	log          zerolog.Logger
}

func newDebugger(e *Engine) *Debugger {
	return &Debugger{e: e, log: e.log.With().Str("component", "debugger").Logger()}
}

func debugEnabled(l zerolog.Logger) bool {
	return l.GetLevel() <= zerolog.DebugLevel && zerolog.GlobalLevel() <= zerolog.DebugLevel
}

func moveLabel(n int) string {
	return fmt.Sprintf("%dth move(%c)", n, "wb"[n&1])
}

// Debug logs the principal variations and the top of the tree at debug
// level.
func (d *Debugger) Debug() {
	if !debugEnabled(d.log) {
		return
	}
	label := moveLabel(d.e.NumMoves() + 1)
	d.log.Debug().Msgf("========== debug info for %s begin ==========", label)
	d.log.Debug().Msgf("main move path: %s", d.MainMovePath(0))
	d.log.Debug().Msgf("second move path: %s", d.MainMovePath(1))
	d.log.Debug().Msgf("third move path: %s", d.MainMovePath(2))
	depth, width := d.e.cfg.Debugger.PrintTreeDepth, d.e.cfg.Debugger.PrintTreeWidth
	if depth == 0 {
		depth = 1
	}
	if width == 0 {
		width = 10
	}
	d.PrintTree(depth, width, "")
	d.log.Debug().Int64("global_step", d.e.globalStep).Msg("model")
	d.log.Debug().Msgf("========== debug info for %s end   ==========", label)
}

// DebugStr summarises the root: the move that led to it and its statistics
// from the side that played it.
func (d *Debugger) DebugStr() string {
	root := d.e.tree.Root()
	q := root.TotalAction() / float32(root.VisitCount())
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s, winrate=%f%%, N=%d, Q=%f, p=%f, v=%f",
		moveLabel(d.e.NumMoves()), game.IDToString(root.Move()),
		(q+1)*50, root.VisitCount(), q, root.PriorProb(), root.Value())
	if sims := d.e.sims.Load(); sims > 0 {
		s := d.e.monitor.Snapshot()
		fmt.Fprintf(&sb, ", cost %dms, sims=%d, height=%d, avg_height=%f",
			d.e.elapsed().Milliseconds(), sims, s.MaxTreeHeight, s.AvgTreeHeight)
	}
	fmt.Fprintf(&sb, ", global_step=%d", d.e.globalStep)
	return sb.String()
}

func (d *Debugger) UpdateLastMoveDebugStr()  { d.lastMoveInfo = d.DebugStr() }
func (d *Debugger) LastMoveDebugStr() string { return d.lastMoveInfo }

// byVisits orders child indexes by visit count, most visited first.
func byVisits(ch []Node) []int {
	idx := make([]int, len(ch))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return int(ch[b].VisitCount()) - int(ch[a].VisitCount())
	})
	return idx
}

// MainMovePath follows the rank-th most visited root child and then the
// most visited child at every ply, formatting each step as
// move(N,Q,p,v).
func (d *Debugger) MainMovePath(rank int) string {
	var parts []string
	node := d.e.tree.Root()
	for {
		ch := node.Children()
		if len(ch) <= rank {
			break
		}
		best := &ch[byVisits(ch)[rank]]
		parts = append(parts, fmt.Sprintf("%s(%d,%.2f,%.2f,%.2f)",
			game.IDToString(best.Move()), best.VisitCount(),
			best.TotalAction()/float32(best.VisitCount()), best.PriorProb(), best.Value()))
		node = best
		rank = 0
	}
	return strings.Join(parts, ",")
}

// TreeLines walks the tree breadth first down to depth, listing the topk
// most visited children of each node. Unvisited children are skipped.
func (d *Debugger) TreeLines(depth, topk int) []string {
	type item struct {
		node  *Node
		depth int
	}
	root := d.e.tree.Root()
	var lines []string
	queue := []item{{root, 1}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		ch := it.node.Children()
		idx := byVisits(ch)
		if topk < len(idx) {
			idx = idx[:topk]
		}
		for _, i := range idx {
			c := &ch[i]
			if c.VisitCount() == 0 {
				break
			}
			var path []string
			for t := c; t != root && t != nil; t = t.Parent() {
				path = append(path, game.IDToString(t.Move()))
			}
			slices.Reverse(path)
			w := c.TotalAction()
			lines = append(lines, fmt.Sprintf("%s: N=%d, W=%g, Q=%g, p=%g, v=%g",
				strings.Join(path, ","), c.VisitCount(), w, w/float32(c.VisitCount()), c.PriorProb(), c.Value()))
			if it.depth < depth {
				queue = append(queue, item{c, it.depth + 1})
			}
		}
	}
	return lines
}

// PrintTree logs TreeLines at debug level, each line prefixed.
func (d *Debugger) PrintTree(depth, topk int, prefix string) {
	if !debugEnabled(d.log) {
		return
	}
	for _, line := range d.TreeLines(depth, topk) {
		d.log.Debug().Msg(prefix + line)
	}
}
