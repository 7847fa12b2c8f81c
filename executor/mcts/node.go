// Package mcts is the concurrent Monte-Carlo tree search engine.
//
// Search goroutines share one tree without a global lock. A node's children
// are allocated once, as a single slice, by the goroutine that wins the
// Unexpanded to Expanding transition; every other statistic is an
// independent atomic. Readers may observe a node mid-update (a visit counted
// before its action value lands), which selection tolerates.
package mcts

import (
	"math"
	"sync/atomic"

	"github.com/brensch/gozero/game"
)

// ActionValueBase is the fixed-point scale of accumulated action values.
const ActionValueBase = 1 << 16

type ExpandState int32

const (
	Unexpanded ExpandState = iota
	Expanding
	Expanded
)

type atomicFloat32 struct{ bits atomic.Uint32 }

func (f *atomicFloat32) Load() float32   { return math.Float32frombits(f.bits.Load()) }
func (f *atomicFloat32) Store(v float32) { f.bits.Store(math.Float32bits(v)) }

// Node is one position of the search tree. parent is a back-reference used
// for backup and path printing; a node owns its children slice.
type Node struct {
	parent   *Node
	children []Node

	state  atomic.Int32
	move   atomic.Int32
	size   atomic.Int64
	visits atomic.Int32
	vloss  atomic.Int32
	action atomic.Int64
	prior  atomicFloat32
	value  atomicFloat32
}

// InitNode resets n as an unexpanded leaf.
func InitNode(n *Node, parent *Node, move int, prior float32) *Node {
	n.parent = parent
	n.children = nil
	n.state.Store(int32(Unexpanded))
	n.move.Store(int32(move))
	n.size.Store(1)
	n.visits.Store(0)
	n.vloss.Store(0)
	n.action.Store(0)
	n.prior.Store(prior)
	n.value.Store(float32(math.NaN()))
	return n
}

func (n *Node) Parent() *Node        { return n.parent }
func (n *Node) State() ExpandState   { return ExpandState(n.state.Load()) }
func (n *Node) Move() int            { return int(n.move.Load()) }
func (n *Node) Size() int64          { return n.size.Load() }
func (n *Node) VisitCount() int32    { return n.visits.Load() }
func (n *Node) VirtualLoss() int32   { return n.vloss.Load() }
func (n *Node) TotalAction() float32 { return float32(n.action.Load()) / ActionValueBase }
func (n *Node) PriorProb() float32   { return n.prior.Load() }
func (n *Node) Value() float32       { return n.value.Load() }
func (n *Node) IsExpanded() bool     { return n.State() == Expanded }

// Children returns the child slice. It is empty until the node is expanded.
func (n *Node) Children() []Node {
	if n.State() != Expanded {
		return nil
	}
	return n.children
}

// MeanAction is the average backed-up value, or def for an unvisited node.
func (n *Node) MeanAction(def float32) float32 {
	v := n.visits.Load()
	if v == 0 {
		return def
	}
	return float32(n.action.Load()) / ActionValueBase / float32(v)
}

// FindChild returns the child reached by move, or nil.
func FindChild(n *Node, move int) *Node {
	ch := n.Children()
	for i := range ch {
		if ch[i].Move() == move {
			return &ch[i]
		}
	}
	return nil
}

// tryExpand claims the exclusive right to expand n.
func (n *Node) tryExpand() bool {
	return n.state.CompareAndSwap(int32(Unexpanded), int32(Expanding))
}

// Backup records value at node and walks to the root, flipping the sign at
// every ply. Each node on the path gains a visit and childCount to its
// subtree size, and loses the virtual loss added by selection.
func Backup(node *Node, value float32, childCount int) {
	node.value.Store(value)
	v := int64(value * ActionValueBase)
	for ; node != nil; node = node.parent {
		node.size.Add(int64(childCount))
		node.visits.Add(1)
		node.vloss.Add(-1)
		node.action.Add(v)
		v = -v
	}
}

// UndoVirtualLoss removes the virtual loss added along the path to node.
func UndoVirtualLoss(node *Node) {
	for ; node != nil; node = node.parent {
		node.vloss.Add(-1)
	}
}

// VisitCounts lays out the child visit counts of n in policy order, pass last.
func VisitCounts(n *Node) []int32 {
	out := make([]int32, game.PolicySize)
	for i := range n.Children() {
		ch := &n.children[i]
		if m := ch.Move(); m == game.Pass {
			out[game.NumPoints] = ch.VisitCount()
		} else {
			out[m] = ch.VisitCount()
		}
	}
	return out
}
