package game

import (
	"slices"
	"strings"
	"testing"

	"github.com/muesli/termenv"
)

func mustPlay(t *testing.T, s *State, moves ...int) {
	t.Helper()
	for _, m := range moves {
		if err := s.Move(m); err != nil {
			t.Fatalf("move %s: %v\n%s", IDToString(m), err, s.Render(termenv.Ascii))
		}
	}
}

// floodLiberties counts the liberties of the group at id from scratch.
func floodLiberties(s *State, id int) int {
	board := s.Board()
	c := board[id]
	seen := map[int]bool{id: true}
	libs := map[int]bool{}
	stack := []int{id}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range neighbours[p] {
			switch {
			case board[n] == Empty:
				libs[n] = true
			case board[n] == c && !seen[n]:
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return len(libs)
}

func checkConsistent(t *testing.T, s *State) {
	t.Helper()
	board := s.Board()
	if got, want := s.Hash(), ComputeHash(&board, s.CurrentPlayer()); got != want {
		t.Fatalf("hash %x, recomputed %x", got, want)
	}
	for id, c := range board {
		if c == Empty {
			continue
		}
		want := floodLiberties(s, id)
		if want == 0 {
			t.Fatalf("group at %s has no liberties", IDToString(id))
		}
		if got := s.Liberties(id); got != want {
			t.Fatalf("liberties at %s = %d, want %d\n%s", IDToString(id), got, want, s.Render(termenv.Ascii))
		}
	}
}

func TestMove_CornerCapture(t *testing.T) {
	s := NewState(false)
	aa, ba, ab := CoordToID(0, 0), CoordToID(1, 0), CoordToID(0, 1)
	mustPlay(t, s, ba, aa, ab)

	if s.At(aa) != Empty {
		t.Fatalf("white stone at aa not captured\n%s", s.Render(termenv.Ascii))
	}
	if s.Ko() != Unset {
		t.Errorf("ko = %s, want unset", IDToString(s.Ko()))
	}
	if got := s.Liberties(ab); got != 3 {
		t.Errorf("liberties(ab) = %d, want 3", got)
	}
	if got := s.Liberties(ba); got != 3 {
		t.Errorf("liberties(ba) = %d, want 3", got)
	}
	if s.IsLegal(aa) {
		t.Errorf("white aa is suicide but reported legal")
	}
	checkConsistent(t, s)
}

func TestMove_Suicide(t *testing.T) {
	s := NewState(false)
	// Black surrounds ba; white may not fill it.
	mustPlay(t, s,
		CoordToID(0, 0), CoordToID(10, 10),
		CoordToID(2, 0), CoordToID(10, 12),
		CoordToID(1, 1),
	)
	if s.IsLegal(CoordToID(1, 0)) {
		t.Fatalf("suicide point reported legal")
	}
	if err := s.Move(CoordToID(1, 0)); err == nil {
		t.Fatalf("expected error for suicide")
	}
}

func TestMove_Ko(t *testing.T) {
	s := NewState(false)
	mustPlay(t, s,
		CoordToID(2, 1), CoordToID(2, 2),
		CoordToID(1, 2), CoordToID(3, 1),
		CoordToID(2, 3), CoordToID(4, 2),
		CoordToID(10, 10), CoordToID(3, 3),
		CoordToID(3, 2),
	)
	koPoint := CoordToID(2, 2)
	if s.At(koPoint) != Empty {
		t.Fatalf("expected capture at cc")
	}
	if s.Ko() != koPoint {
		t.Fatalf("ko = %s, want cc", IDToString(s.Ko()))
	}
	if s.IsLegal(koPoint) {
		t.Fatalf("immediate recapture reported legal")
	}
	checkConsistent(t, s)

	// A ko threat exchange lifts the ban.
	mustPlay(t, s, CoordToID(15, 15), CoordToID(15, 16))
	if !s.IsLegal(koPoint) {
		t.Fatalf("recapture after exchange reported illegal")
	}
	mustPlay(t, s, koPoint)
	if s.At(CoordToID(3, 2)) != Empty {
		t.Fatalf("recapture did not remove black stone")
	}
	checkConsistent(t, s)
}

func TestMove_PositionalSuperko(t *testing.T) {
	for _, superko := range []bool{false, true} {
		s := NewState(superko)
		mustPlay(t, s,
			CoordToID(2, 1), CoordToID(2, 2),
			CoordToID(1, 2), CoordToID(3, 1),
			CoordToID(2, 3), CoordToID(4, 2),
			CoordToID(10, 10), CoordToID(3, 3),
		)
		beforeCapture := s.Hash()
		koPoint := CoordToID(2, 2)
		mustPlay(t, s, CoordToID(3, 2))

		// Two passes lift the simple ko ban, but recapturing now recreates
		// the position before black's capture with black to move.
		mustPlay(t, s, Pass, Pass)
		if s.Ko() != Unset {
			t.Fatalf("superko=%v: ko point survived passes", superko)
		}
		if s.SpeculativeHash(koPoint) != beforeCapture {
			t.Fatalf("superko=%v: recapture does not repeat the earlier position", superko)
		}
		if got := s.IsLegal(koPoint); got == superko {
			t.Fatalf("superko=%v: recapture legal = %v", superko, got)
		}
		if !superko {
			mustPlay(t, s, koPoint)
			if s.Hash() != beforeCapture {
				t.Fatalf("recapture hash %x, want %x", s.Hash(), beforeCapture)
			}
			checkConsistent(t, s)
		}
	}
}

func TestMove_PassAndDoublePass(t *testing.T) {
	s := NewState(false)
	before := s.Hash()
	mustPlay(t, s, Pass)
	if s.IsDoublePass() {
		t.Fatalf("single pass reported as double pass")
	}
	if s.Hash() == before {
		t.Fatalf("pass did not change hash")
	}
	if s.Hash() != NewState(false).SpeculativeHash(Pass) {
		t.Fatalf("speculative pass hash mismatch")
	}
	mustPlay(t, s, Pass)
	if !s.IsDoublePass() {
		t.Fatalf("expected double pass")
	}
	if s.Hash() != before {
		t.Fatalf("two passes should restore the hash")
	}
}

func TestMove_RandomGameStaysConsistent(t *testing.T) {
	for _, superko := range []bool{false, true} {
		s := NewState(superko)
		for i := 0; i < 250; i++ {
			legal := s.LegalMoves()
			move := Pass
			if len(legal) > 0 && i%37 != 36 {
				move = legal[(i*7919+13)%len(legal)]
			}
			mustPlay(t, s, move)
			checkConsistent(t, s)
		}
	}
}

func TestSpeculativeHash_MatchesMove(t *testing.T) {
	check := func(s *State) (captures int) {
		t.Helper()
		stones := countStones(s)
		for _, m := range append(s.LegalMoves(), Pass) {
			want := s.SpeculativeHash(m)
			c := s.Clone()
			mustPlay(t, c, m)
			if c.Hash() != want {
				t.Fatalf("speculative hash of %s = %x, after move %x", IDToString(m), want, c.Hash())
			}
			if m != Pass && countStones(c) <= stones {
				captures++
			}
		}
		return captures
	}

	// Black cc is in atari; white dc captures it.
	s := NewState(false)
	mustPlay(t, s,
		CoordToID(2, 2), CoordToID(1, 2),
		CoordToID(10, 10), CoordToID(2, 1),
		CoordToID(10, 12), CoordToID(2, 3),
	)
	if check(s) != 0 {
		t.Fatalf("black has no capture here")
	}
	mustPlay(t, s, CoordToID(12, 12))
	if check(s) == 0 {
		t.Fatalf("white capture at dc not covered")
	}

	captures := 0
	s = NewState(true)
	for i := 0; i < 240; i++ {
		if i%8 == 0 {
			captures += check(s)
		}
		legal := s.LegalMoves()
		move := Pass
		if len(legal) > 0 && i%37 != 36 {
			move = legal[(i*7919+13)%len(legal)]
		}
		mustPlay(t, s, move)
	}
	t.Logf("checked %d capturing moves in the random game", captures)
}

func countStones(s *State) int {
	n := 0
	for _, c := range s.Board() {
		if c != Empty {
			n++
		}
	}
	return n
}

func TestState_CloneIsIndependent(t *testing.T) {
	s := NewState(true)
	mustPlay(t, s, CoordToID(3, 3), CoordToID(15, 15))
	c := s.Clone()
	mustPlay(t, c, CoordToID(9, 9))

	if s.At(CoordToID(9, 9)) != Empty {
		t.Fatalf("move on clone leaked into original")
	}
	if s.CurrentPlayer() != Black || c.CurrentPlayer() != White {
		t.Fatalf("players: original %v clone %v", s.CurrentPlayer(), c.CurrentPlayer())
	}
	mustPlay(t, s, CoordToID(10, 10))
	if slices.Contains(c.seen, s.Hash()) {
		t.Fatalf("seen hashes shared between clones")
	}
}

func TestScore_HandicapDoublePass(t *testing.T) {
	moves, err := HandicapMoves(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(moves) != 7 {
		t.Fatalf("handicap moves = %d, want 7", len(moves))
	}
	s := NewState(false)
	mustPlay(t, s, moves...)
	if s.CurrentPlayer() != White {
		t.Fatalf("white should move after handicap placement")
	}
	mustPlay(t, s, Pass, Pass)
	if !s.IsDoublePass() {
		t.Fatalf("expected double pass")
	}
	sc := s.CalcScore()
	if sc.Black != NumPoints || sc.White != 0 || sc.Empty != 0 {
		t.Fatalf("score = %+v", sc)
	}
	if s.Winner() != Black {
		t.Fatalf("winner = %v, want Black", s.Winner())
	}
}

func TestScore_EmptyBoardGoesToWhite(t *testing.T) {
	s := NewState(false)
	sc := s.CalcScore()
	if sc.Black != 0 || sc.White != 0 || sc.Empty != NumPoints {
		t.Fatalf("score = %+v", sc)
	}
	if sc.Winner() != White {
		t.Fatalf("komi should give white the empty board")
	}
}

func TestScore_SharedRegionIsNeutral(t *testing.T) {
	s := NewState(false)
	mustPlay(t, s, CoordToID(3, 3), CoordToID(15, 15))
	sc := s.CalcScore()
	if sc.Black != 1 || sc.White != 1 {
		t.Fatalf("score = %+v, want one stone each", sc)
	}
}

func TestFeatures_Layout(t *testing.T) {
	s := NewState(false)
	f := s.Features()
	if len(f) != FeatureSize {
		t.Fatalf("len = %d", len(f))
	}
	for i := 0; i < NumPoints; i++ {
		if !f[i*FeaturePlanes+HistoryPlanes] {
			t.Fatalf("to-move plane unset at %d with black to move", i)
		}
	}

	b, w := CoordToID(3, 3), CoordToID(15, 15)
	mustPlay(t, s, b)
	f = s.Features()
	if f[b*FeaturePlanes+0] || !f[b*FeaturePlanes+1] {
		t.Errorf("white to move: plane 0 is own stones, plane 1 opponent")
	}
	if f[b*FeaturePlanes+HistoryPlanes] {
		t.Errorf("to-move plane set with white to move")
	}

	mustPlay(t, s, w)
	f = s.Features()
	cases := []struct {
		id, plane int
		want      bool
	}{
		{b, 0, true},
		{w, 1, true},
		{b, 2, true},
		{w, 3, false},
		{b, 4, false},
		{b, HistoryPlanes, true},
	}
	for _, c := range cases {
		if got := f[c.id*FeaturePlanes+c.plane]; got != c.want {
			t.Errorf("point %s plane %d = %v, want %v", IDToString(c.id), c.plane, got, c.want)
		}
	}
}

func TestTransform_RoundTrip(t *testing.T) {
	v := make([]int, NumPoints*2+1)
	for i := range v {
		v[i] = i
	}
	for mode := 0; mode < NumSymmetries; mode++ {
		got := Transform(Transform(v, mode, false), mode, true)
		if !slices.Equal(got, v) {
			t.Fatalf("mode %d: round trip mismatch", mode)
		}
	}
	// Swap axes moves (x,y) data to (y,x).
	out := Transform(v, 4, false)
	if out[CoordToID(1, 2)*2] != v[CoordToID(2, 1)*2] {
		t.Fatalf("swap mode did not transpose")
	}
	if out[len(out)-1] != v[len(v)-1] {
		t.Fatalf("trailing pass slot changed")
	}
}

func TestMoves_ParseFormat(t *testing.T) {
	ids, err := ParseMoves("dd,zz,pp")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{CoordToID(3, 3), Pass, CoordToID(15, 15)}
	if !slices.Equal(ids, want) {
		t.Fatalf("ParseMoves = %v, want %v", ids, want)
	}
	if got := FormatMoves(ids); got != "dd,zz,pp" {
		t.Fatalf("FormatMoves = %q", got)
	}
	if _, err := ParseMoves("dd,z"); err == nil {
		t.Fatalf("expected error for short move")
	}
	if _, err := HandicapMoves(6); err == nil {
		t.Fatalf("expected error for 6 handicap stones")
	}
}

func TestRender_Ascii(t *testing.T) {
	s := NewState(false)
	mustPlay(t, s, CoordToID(3, 3), CoordToID(15, 15))
	out := s.Render(termenv.Ascii)
	if strings.Count(out, "X") != 1 || strings.Count(out, "O") != 1 {
		t.Fatalf("unexpected render:\n%s", out)
	}
	if !strings.Contains(out, "Black to move") {
		t.Fatalf("missing side to move:\n%s", out)
	}
}
