package game

import (
	"strings"

	"github.com/muesli/termenv"
)

// Render draws the board with column letters on top and row numbers on the
// left. The last move is highlighted when the profile supports colour;
// termenv.Ascii yields plain text.
func (s *State) Render(p termenv.Profile) string {
	var sb strings.Builder
	sb.WriteString("   ")
	for x := 0; x < BoardSize; x++ {
		sb.WriteByte(byte('a' + x))
		sb.WriteByte(' ')
	}
	sb.WriteByte('\n')

	for y := 0; y < BoardSize; y++ {
		sb.WriteByte(byte('a' + y))
		sb.WriteString("  ")
		for x := 0; x < BoardSize; x++ {
			id := CoordToID(x, y)
			var cell termenv.Style
			switch s.board[id] {
			case Black:
				cell = p.String("X").Bold()
			case White:
				cell = p.String("O")
			default:
				cell = p.String(".").Faint()
			}
			if id == s.last {
				cell = cell.Foreground(p.Color("#ff5f5f"))
			}
			if id == s.ko {
				cell = p.String("#").Foreground(p.Color("#5f87ff"))
			}
			sb.WriteString(cell.String())
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(s.current.String())
	sb.WriteString(" to move, last ")
	sb.WriteString(IDToString(s.last))
	sb.WriteByte('\n')
	return sb.String()
}
