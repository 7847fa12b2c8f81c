package game

import (
	"fmt"
	"strings"
)

const (
	BoardSize  = 19
	NumPoints  = BoardSize * BoardSize
	PolicySize = NumPoints + 1

	// HistoryPlanes is the number of stone planes kept for the feature tensor
	// (eight plies, black and white plane per ply).
	HistoryPlanes = 16
	FeaturePlanes = HistoryPlanes + 1
	FeatureSize   = NumPoints * FeaturePlanes

	Komi = 7.5
)

// Special move ids. Board points are 0..NumPoints-1, id = x*BoardSize + y.
const (
	Pass   = -1
	Unset  = -2
	Resign = -3
)

// Color of a board point.
type Color uint8

const (
	Empty Color = iota
	Black
	White
	Wall
)

func (c Color) Opponent() Color {
	return Black + White - c
}

func (c Color) String() string {
	switch c {
	case Empty:
		return "Empty"
	case Black:
		return "Black"
	case White:
		return "White"
	case Wall:
		return "Wall"
	}
	return fmt.Sprintf("Color(%d)", uint8(c))
}

var deltaX = [4]int{0, 1, 0, -1}
var deltaY = [4]int{-1, 0, 1, 0}

// neighbours lists the on-board neighbours of every point in delta order.
var neighbours = buildNeighbours()

func buildNeighbours() [NumPoints][]int {
	var out [NumPoints][]int
	for x := 0; x < BoardSize; x++ {
		for y := 0; y < BoardSize; y++ {
			id := CoordToID(x, y)
			for i := range deltaX {
				nx, ny := x+deltaX[i], y+deltaY[i]
				if InBoard(nx, ny) {
					out[id] = append(out[id], CoordToID(nx, ny))
				}
			}
		}
	}
	return out
}

func InBoard(x, y int) bool {
	return 0 <= x && x < BoardSize && 0 <= y && y < BoardSize
}

func OnBoard(id int) bool {
	return 0 <= id && id < NumPoints
}

// CoordToID maps (x,y) to a move id. (Pass,Pass) and (Resign,Resign) map to
// the special ids; anything else off the board is Unset.
func CoordToID(x, y int) int {
	if x == Pass && y == Pass {
		return Pass
	}
	if x == Resign && y == Resign {
		return Resign
	}
	if !InBoard(x, y) {
		return Unset
	}
	return x*BoardSize + y
}

func IDToCoord(id int) (x, y int) {
	switch {
	case id == Pass:
		return Pass, Pass
	case id == Resign:
		return Resign, Resign
	case !OnBoard(id):
		return Unset, Unset
	}
	return id / BoardSize, id % BoardSize
}

// CoordToString encodes a point as two letters, 'a'+x then 'a'+y. Anything
// off the board (pass included) encodes as "zz".
func CoordToString(x, y int) string {
	if !InBoard(x, y) {
		return "zz"
	}
	return string([]byte{byte('a' + x), byte('a' + y)})
}

func IDToString(id int) string {
	x, y := IDToCoord(id)
	return CoordToString(x, y)
}

// StringToCoord is the inverse of CoordToString. "zz" is a pass and any other
// off-board pair decodes to Unset.
func StringToCoord(s string) (x, y int, err error) {
	if len(s) != 2 {
		return Unset, Unset, fmt.Errorf("move %q: want 2 letters", s)
	}
	if s == "zz" {
		return Pass, Pass, nil
	}
	x, y = int(s[0])-'a', int(s[1])-'a'
	if !InBoard(x, y) {
		return Unset, Unset, nil
	}
	return x, y, nil
}

func StringToID(s string) (int, error) {
	x, y, err := StringToCoord(s)
	if err != nil {
		return Unset, err
	}
	return CoordToID(x, y), nil
}

// ParseMoves decodes a comma separated move history such as "dd,pp,zz".
func ParseMoves(moves string) ([]int, error) {
	if moves == "" {
		return nil, nil
	}
	parts := strings.Split(moves, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := StringToID(p)
		if err != nil {
			return nil, err
		}
		if id == Unset {
			return nil, fmt.Errorf("move %q is off the board", p)
		}
		out = append(out, id)
	}
	return out, nil
}

func FormatMoves(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = IDToString(id)
	}
	return strings.Join(parts, ",")
}

// HandicapPoints are the free handicap placements in placement order.
var HandicapPoints = [][2]int{{3, 3}, {15, 15}, {15, 3}, {3, 15}, {9, 9}}

// HandicapMoves returns the move sequence placing n handicap stones: black
// stones alternating with white passes, no trailing pass.
func HandicapMoves(n int) ([]int, error) {
	if n < 0 || n > len(HandicapPoints) {
		return nil, fmt.Errorf("handicap %d out of range [0,%d]", n, len(HandicapPoints))
	}
	moves := make([]int, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			moves = append(moves, Pass)
		}
		moves = append(moves, CoordToID(HandicapPoints[i][0], HandicapPoints[i][1]))
	}
	return moves, nil
}
