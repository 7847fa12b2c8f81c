package game

// Score is an area count for both colours.
type Score struct {
	Black int
	White int
	Empty int
}

// Diff is black minus white, komi not applied.
func (sc Score) Diff() int { return sc.Black - sc.White }

// Winner applies komi to the area difference.
func (sc Score) Winner() Color {
	if float64(sc.Diff()) > Komi {
		return Black
	}
	return White
}

// CalcScore counts stones plus empty regions bordered by a single colour.
func (s *State) CalcScore() Score {
	b := s.scoreFor(Black)
	w := s.scoreFor(White)
	return Score{Black: b, White: w, Empty: NumPoints - b - w}
}

func (s *State) Winner() Color { return s.CalcScore().Winner() }

func (s *State) scoreFor(c Color) int {
	var vis [NumPoints]bool
	n := 0
	for i := range NumPoints {
		if vis[i] {
			continue
		}
		switch s.board[i] {
		case c:
			n++
		case Empty:
			n += s.regionScore(i, c, &vis)
		}
	}
	return n
}

// regionScore flood fills the empty region at start and returns its size if
// every bordering stone is c, 0 otherwise.
func (s *State) regionScore(start int, c Color, vis *[NumPoints]bool) int {
	var border Color
	stack := make([]int, 0, 64)
	vis[start] = true
	stack = append(stack, start)
	n := 1
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, q := range neighbours[p] {
			if vis[q] {
				continue
			}
			border |= s.board[q]
			if s.board[q] == Empty {
				vis[q] = true
				stack = append(stack, q)
				n++
			}
		}
	}
	if border != c {
		return 0
	}
	return n
}
