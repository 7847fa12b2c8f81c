package mcts

import (
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/queue"
	"github.com/brensch/gozero/game"
)

// Tree holds the search root and retires detached subtrees on a background
// goroutine.
type Tree struct {
	root   *Node
	retire *queue.TaskQueue[*Node]
	done   chan struct{}
	log    zerolog.Logger
}

func NewTree(log zerolog.Logger) *Tree {
	t := &Tree{
		retire: queue.New[*Node](0),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "tree").Logger(),
	}
	t.root = InitNode(&Node{}, nil, game.Unset, 0)
	go t.deleteRoutine()
	return t
}

func (t *Tree) Root() *Node { return t.root }

// ChangeRoot makes node the new root, or a fresh root when node is nil. The
// new root is a copy of node that takes over its children, so goroutines
// still holding the old root see a consistent, childless node. The old root
// and everything still under it are retired. Search must be paused.
func (t *Tree) ChangeRoot(node *Node) *Node {
	root := &Node{}
	if node == nil {
		InitNode(root, nil, game.Unset, 0)
	} else {
		root.state.Store(node.state.Load())
		root.move.Store(node.move.Load())
		root.size.Store(node.size.Load())
		root.visits.Store(node.visits.Load())
		root.vloss.Store(node.vloss.Load())
		root.action.Store(node.action.Load())
		root.prior.Store(node.prior.Load())
		root.value.Store(node.value.Load())
		root.children = node.children
		for i := range root.children {
			root.children[i].parent = root
		}
		node.children = nil
	}
	if t.root != nil {
		t.retire.Push(t.root)
	}
	t.root = root
	return root
}

// Close retires the current root and waits for the delete goroutine.
func (t *Tree) Close() {
	if t.root != nil {
		t.retire.Push(t.root)
		t.root = nil
	}
	t.retire.Close()
	<-t.done
}

func (t *Tree) deleteRoutine() {
	defer close(t.done)
	for {
		node, ok := t.retire.Pop(-1)
		if !ok {
			return
		}
		start := time.Now()
		n := DeleteTree(node)
		t.log.Debug().Int("nodes", n+1).Dur("cost", time.Since(start)).Msg("subtree deleted")
	}
}

// DeleteTree detaches every child slice below node, deepest first, and
// returns the number of nodes released.
func DeleteTree(node *Node) int {
	ch := node.children
	n := len(ch)
	for i := range ch {
		n += DeleteTree(&ch[i])
		ch[i].parent = nil
	}
	node.children = nil
	return n
}

// ExpandOptions controls child generation.
type ExpandOptions struct {
	// MaxChildren keeps only the highest-prior moves when positive.
	MaxChildren int
	// DoublePassScoring leaves double-pass positions as leaves.
	DoublePassScoring bool
}

// Expand creates one child per legal move plus pass, with priors taken from
// policy and renormalised over all legal moves. The caller must
// own the Expanding state of node. It returns the number of children; a
// terminal position gets none and goes back to Unexpanded.
func Expand(node *Node, board *game.State, policy []float32, opts ExpandOptions) int {
	if opts.DoublePassScoring && board.IsDoublePass() {
		node.state.Store(int32(Unexpanded))
		return 0
	}

	// Policy indices; NumPoints is pass.
	moves := make([]int, 0, game.PolicySize)
	var sum float32
	for i := range game.NumPoints {
		if board.IsLegal(i) {
			moves = append(moves, i)
			sum += policy[i]
		}
	}
	moves = append(moves, game.NumPoints)
	sum += policy[game.NumPoints]

	if opts.MaxChildren > 0 && len(moves) > opts.MaxChildren {
		slices.SortFunc(moves, func(a, b int) int {
			switch {
			case policy[a] > policy[b]:
				return -1
			case policy[a] < policy[b]:
				return 1
			}
			return 0
		})
		moves = moves[:opts.MaxChildren]
	}

	children := make([]Node, len(moves))
	for i, m := range moves {
		move := m
		if m == game.NumPoints {
			move = game.Pass
		}
		prior := 1 / float32(len(moves))
		if sum > 0 {
			prior = policy[m] / sum
		}
		InitNode(&children[i], node, move, prior)
	}
	node.children = children
	node.state.Store(int32(Expanded))
	return len(children)
}
