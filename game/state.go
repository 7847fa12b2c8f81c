// Package game implements the 19x19 Go rules engine used by the search.
//
// State is updated incrementally: groups of stones ("blocks") are tracked with
// a union-find over stones plus per-block liberty bitsets, the Zobrist hash is
// XOR-updated on every change, and the legality of every empty point is
// recomputed after each move. State is a plain value type so that Clone is a
// struct copy, which the search does once per simulation.
package game

import (
	"errors"
	"fmt"
	"slices"
)

var ErrIllegalMove = errors.New("illegal move")

// maxBlocks bounds the block pool. One extra slot is needed for the scratch
// block used by legality probing.
const maxBlocks = NumPoints + 1

type stone struct {
	block  int
	parent int
}

type block struct {
	color      Color
	tail       int
	stoneCount int
	inUse      bool

	libs   bitset // empty neighbours
	vlibs  bitset // all neighbours, own stones excluded
	stones bitset
}

func (b *block) reset() {
	*b = block{}
}

func (b *block) liberties() int { return b.libs.count() }

func (b *block) tryMerge(a *block) {
	b.stoneCount += a.stoneCount
	for i := range b.stones {
		b.stones[i] |= a.stones[i]
		b.vlibs[i] |= a.vlibs[i]
		b.vlibs[i] &^= b.stones[i]
		b.libs[i] |= a.libs[i]
		b.libs[i] &= b.vlibs[i]
	}
}

// State is a full board position.
type State struct {
	board     [NumPoints]Color
	stones    [NumPoints]stone
	liberties [NumPoints]int
	moveCount [NumPoints]int
	legal     [NumPoints]bool

	blocks      [maxBlocks]block
	blocksInUse int
	recycled    [maxBlocks]int
	numRecycled int
	visited     [maxBlocks]int
	timestamp   int

	current    Color
	last       int
	ko         int
	doublePass bool
	hash       uint64

	superko bool
	seen    []uint64

	history    [HistoryPlanes][NumPoints]bool
	historyLen int
}

// NewState returns an empty board with black to move. When superko is set,
// moves recreating an earlier whole-board position are illegal.
func NewState(superko bool) *State {
	s := &State{
		current: Black,
		last:    Unset,
		ko:      Unset,
		superko: superko,
	}
	for i := range s.legal {
		s.legal[i] = true
	}
	return s
}

// Clone copies the position. The seen-hash list shares its backing array
// but is capped, so appends on either copy never affect the other.
func (s *State) Clone() *State {
	c := *s
	c.seen = s.seen[:len(s.seen):len(s.seen)]
	return &c
}

func (s *State) CurrentPlayer() Color { return s.current }
func (s *State) LastMove() int        { return s.last }
func (s *State) Ko() int              { return s.ko }
func (s *State) IsDoublePass() bool   { return s.doublePass }
func (s *State) Hash() uint64         { return s.hash }
func (s *State) Superko() bool        { return s.superko }

// At returns the colour at a point, Wall for anything off the board.
func (s *State) At(id int) Color {
	if !OnBoard(id) {
		return Wall
	}
	return s.board[id]
}

// Liberties returns the liberty count of the block at id, 0 when empty.
func (s *State) Liberties(id int) int {
	if !OnBoard(id) {
		return 0
	}
	return s.liberties[id]
}

// MoveCount returns how many times a stone has been placed at id.
func (s *State) MoveCount(id int) int { return s.moveCount[id] }

// Board returns a copy of the stone grid.
func (s *State) Board() [NumPoints]Color { return s.board }

// SpeculativeHash returns the hash the position would have after the side
// to move plays id, captures included, without playing it. Off-board ids
// are treated as a pass.
func (s *State) SpeculativeHash(id int) uint64 {
	if !OnBoard(id) {
		return s.hash ^ playerWeights[Black] ^ playerWeights[White]
	}
	tmp := s.newBlock()
	var nbBuf, deadBuf [4]int
	_, dead, _ := s.tryMove(&s.blocks[tmp], id, nbBuf[:0], deadBuf[:0], NumPoints)
	h := s.moveHash(id, dead)
	s.recycle(tmp)
	return h
}

func (s *State) IsLegal(id int) bool {
	if id == Pass {
		return true
	}
	return OnBoard(id) && s.legal[id]
}

// LegalMoves returns all legal board points. Pass is always legal and not
// included.
func (s *State) LegalMoves() []int {
	out := make([]int, 0, NumPoints)
	for i, ok := range s.legal {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Move plays id (a point or Pass) for the side to move.
func (s *State) Move(id int) error {
	if !s.IsLegal(id) {
		return fmt.Errorf("%w: %s for %v", ErrIllegalMove, IDToString(id), s.current)
	}

	cur, opp := s.current, s.current.Opponent()
	s.timestamp++
	s.doublePass = s.last == Pass && id == Pass
	s.last = id
	s.ko = Unset
	s.hash ^= playerWeights[cur] ^ playerWeights[opp]

	if id == Pass {
		s.finishMove()
		return nil
	}
	s.hash ^= boardWeights[cur][id]

	var nbBuf, deadBuf [4]int
	bid := s.newBlock()
	blk := &s.blocks[bid]
	nb, dead, _ := s.tryMove(blk, id, nbBuf[:0], deadBuf[:0], NumPoints)
	s.stones[id] = stone{block: bid, parent: id}
	blk.inUse = true
	blk.tail = id

	for _, nid := range nb {
		s.visited[nid] = s.timestamp
		n := &s.blocks[nid]
		n.libs.clear(id)
		if n.color == cur {
			s.mergeBlocks(blk, n)
			s.recycle(nid)
		}
	}
	s.visited[bid] = s.timestamp

	for _, did := range dead {
		d := &s.blocks[did]
		if d.stoneCount == 1 && blk.stoneCount == 1 && blk.liberties() == 1 {
			s.ko = d.stones.lowest()
		}
		for p := range NumPoints {
			if !d.stones.has(p) {
				continue
			}
			for _, n := range neighbours[p] {
				if s.board[n] == cur {
					owner := s.blockID(n)
					s.visited[owner] = s.timestamp
					s.blocks[owner].libs.set(p)
				}
			}
			s.board[p] = Empty
			s.liberties[p] = 0
			s.hash ^= boardWeights[opp][p]
		}
		s.recycle(did)
	}

	for i := 0; i < s.blocksInUse; i++ {
		b := &s.blocks[i]
		if !b.inUse || s.visited[i] != s.timestamp {
			continue
		}
		n := b.liberties()
		for p := range NumPoints {
			if b.stones.has(p) {
				s.liberties[p] = n
			}
		}
	}

	s.moveCount[id]++
	s.board[id] = cur
	s.finishMove()
	return nil
}

func (s *State) finishMove() {
	s.current = s.current.Opponent()
	s.refreshLegal()
	if s.superko {
		s.seen = append(s.seen, s.hash)
	}
}

// tryMove computes the block that placing a stone at to would form,
// without touching the board. It returns the distinct neighbouring blocks,
// the opponent blocks that would be captured and the number of captured
// stones, or -1 if the point is not playable. Captured stones are only
// counted as liberties when the block has fewer than libNeed otherwise.
func (s *State) tryMove(blk *block, to int, nb, dead []int, libNeed int) ([]int, []int, int) {
	if !s.legal[to] {
		return nb, dead, -1
	}
	blk.reset()
	blk.stoneCount = 1
	blk.color = s.current
	nb = s.neighbourBlocks(blk, to, nb)

	captured := 0
	for _, id := range nb {
		b := &s.blocks[id]
		if b.color != s.current {
			if b.liberties() == 1 {
				dead = append(dead, id)
				captured += b.stoneCount
			}
			continue
		}
		blk.tryMerge(b)
	}
	blk.libs.clear(to)
	if blk.liberties() >= libNeed {
		return nb, dead, captured
	}
	for _, id := range dead {
		d := &s.blocks[id]
		for i := range blk.libs {
			blk.libs[i] = (blk.libs[i] | d.stones[i]) & blk.vlibs[i]
		}
	}
	return nb, dead, captured
}

func (s *State) neighbourBlocks(blk *block, to int, nb []int) []int {
	blk.stones.set(to)
	for _, n := range neighbours[to] {
		blk.vlibs.set(n)
		if s.board[n] == Empty {
			blk.libs.set(n)
			continue
		}
		if id := s.blockID(n); !slices.Contains(nb, id) {
			nb = append(nb, id)
		}
	}
	return nb
}

// blockID resolves the block owning a stone, compressing the parent path.
func (s *State) blockID(id int) int {
	root := id
	for s.stones[root].parent != root {
		root = s.stones[root].parent
	}
	for id != root {
		next := s.stones[id].parent
		s.stones[id].parent = root
		id = next
	}
	return s.stones[root].block
}

// mergeBlocks links a's stones under b's root. Stone and liberty sets were
// already merged by tryMove.
func (s *State) mergeBlocks(b, a *block) {
	s.stones[a.tail].parent = b.tail
}

func (s *State) newBlock() int {
	var id int
	switch {
	case s.numRecycled > 0:
		s.numRecycled--
		id = s.recycled[s.numRecycled]
	case s.blocksInUse < maxBlocks:
		id = s.blocksInUse
		s.blocksInUse++
	default:
		panic("game: block pool exhausted")
	}
	s.blocks[id].reset()
	return id
}

func (s *State) recycle(id int) {
	s.blocks[id].inUse = false
	s.recycled[s.numRecycled] = id
	s.numRecycled++
}

// refreshLegal records the history planes and recomputes legality of every
// point for the side now to move.
func (s *State) refreshLegal() {
	s.pushHistory(Black)
	s.pushHistory(White)

	clear(s.legal[:])
	tmp := s.newBlock()
	blk := &s.blocks[tmp]
	var nbBuf, deadBuf [4]int
	for i := range NumPoints {
		if s.board[i] != Empty || i == s.ko {
			continue
		}
		s.legal[i] = true
		if s.hasEmptyNeighbour(i) {
			continue
		}
		_, dead, _ := s.tryMove(blk, i, nbBuf[:0], deadBuf[:0], 1)
		if blk.liberties() <= 0 {
			s.legal[i] = false
			continue
		}
		if s.superko && s.seenHash(s.moveHash(i, dead)) {
			s.legal[i] = false
		}
	}
	s.recycle(tmp)
}

func (s *State) hasEmptyNeighbour(id int) bool {
	for _, n := range neighbours[id] {
		if s.board[n] == Empty {
			return true
		}
	}
	return false
}

// moveHash is the hash after the side to move plays id capturing dead.
func (s *State) moveHash(id int, dead []int) uint64 {
	cur, opp := s.current, s.current.Opponent()
	h := s.hash ^ playerWeights[cur] ^ playerWeights[opp] ^ boardWeights[cur][id]
	for _, did := range dead {
		d := &s.blocks[did]
		for p := range NumPoints {
			if d.stones.has(p) {
				h ^= boardWeights[opp][p]
			}
		}
	}
	return h
}

func (s *State) seenHash(h uint64) bool {
	return slices.Contains(s.seen, h)
}

func (s *State) pushHistory(c Color) {
	if s.historyLen == HistoryPlanes {
		copy(s.history[:], s.history[1:])
		s.historyLen--
	}
	plane := &s.history[s.historyLen]
	for i, v := range s.board {
		plane[i] = v == c
	}
	s.historyLen++
}
