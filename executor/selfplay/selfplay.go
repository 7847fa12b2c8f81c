// Package selfplay drives an engine through complete games against itself
// and turns every generated move into a training record.
package selfplay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"lukechampine.com/frand"

	"github.com/brensch/gozero/executor/mcts"
	"github.com/brensch/gozero/game"
	"github.com/brensch/gozero/store"
)

// DefaultMaxMoves ends a game that neither resigns nor double passes.
const DefaultMaxMoves = 2 * game.NumPoints

type Options struct {
	MaxMoves int
	Handicap int
	// OnMove, if set, is called after each committed move.
	OnMove func(ply int, d mcts.Decision)
}

type Game struct {
	ID       string
	Moves    []int
	Records  []store.MoveRecord
	Winner   game.Color
	Result   string
	Resigned bool
	Final    *game.State
}

// PlayedMoves summarises the records for the game index.
func (g *Game) PlayedMoves() []store.PlayedMove {
	out := make([]store.PlayedMove, len(g.Records))
	for i, r := range g.Records {
		out[i] = store.PlayedMove{Ply: int(r.Ply), Move: r.Move, Q: r.Q, VResign: r.VResign, Sims: r.Sims}
	}
	return out
}

// Summary is the game index row of g.
func (g *Game) Summary() store.GameSummary {
	s := store.GameSummary{
		ID:       g.ID,
		Moves:    game.FormatMoves(g.Moves),
		NumMoves: len(g.Moves),
		Winner:   colorLetter(g.Winner),
		Result:   g.Result,
	}
	if len(g.Records) > 0 {
		s.GlobalStep = g.Records[0].GlobalStep
	}
	return s
}

func colorLetter(c game.Color) string {
	if c == game.Black {
		return "b"
	}
	return "w"
}

// NewGameID returns a random, sortable game identifier.
func NewGameID() string {
	return fmt.Sprintf("sp_%d_%x", time.Now().UnixNano(), frand.Uint64n(math.MaxUint32))
}

// PlayGame resets e and plays one game to completion. The context is checked
// between moves; a cancelled game returns the context error and no game.
func PlayGame(ctx context.Context, e *mcts.Engine, opts Options, log zerolog.Logger) (*Game, error) {
	maxMoves := opts.MaxMoves
	if maxMoves <= 0 {
		maxMoves = DefaultMaxMoves
	}
	if err := e.Reset(""); err != nil {
		return nil, err
	}
	if opts.Handicap > 0 {
		if _, err := e.PlaceFreeHandicap(opts.Handicap); err != nil {
			return nil, err
		}
	}

	g := &Game{ID: NewGameID()}
	log = log.With().Str("game_id", g.ID).Logger()
	modelPath := e.Config().ModelConfig.ModelPath
	setup := e.Moves()

	for ply := 0; ply < maxMoves; ply++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		board := e.Board()
		if board.IsDoublePass() {
			break
		}
		mover := board.CurrentPlayer()
		features := board.Features()

		d := e.GenMove()
		g.Records = append(g.Records, store.MoveRecord{
			GameID:     g.ID,
			Setup:      setup,
			Ply:        int32(ply),
			Color:      colorLetter(mover),
			Move:       moveString(d.Move),
			Features:   store.PackFeatures(features),
			Policy:     visitPolicy(d),
			Q:          d.Q,
			VResign:    d.VResign,
			Sims:       d.Simulations,
			ElapsedMs:  d.Elapsed.Milliseconds(),
			GlobalStep: e.GlobalStep(),
			ModelPath:  modelPath,
		})

		if d.Move == game.Resign {
			g.Winner = mover.Opponent()
			g.Resigned = true
			break
		}
		if err := e.Move(d.Move); err != nil {
			return nil, fmt.Errorf("ply %d: %w", ply, err)
		}
		g.Moves = append(g.Moves, d.Move)
		if opts.OnMove != nil {
			opts.OnMove(ply, d)
		}
	}

	g.Final = e.Board()
	if g.Resigned {
		g.Result = fmt.Sprintf("%s+R", colorLetter(g.Winner))
	} else {
		score := g.Final.CalcScore()
		g.Winner = score.Winner()
		g.Result = fmt.Sprintf("%s+%.1f", colorLetter(g.Winner), math.Abs(float64(score.Diff())-game.Komi))
	}
	for i := range g.Records {
		r := &g.Records[i]
		r.Winner = colorLetter(g.Winner)
		r.Outcome = -1
		if r.Color == r.Winner {
			r.Outcome = 1
		}
	}

	log.Info().
		Int("moves", len(g.Moves)).
		Str("result", g.Result).
		Msg("game finished")
	return g, nil
}

// ResignMove marks a resignation in a trace.
const ResignMove = "resign"

func moveString(id int) string {
	if id == game.Resign {
		return ResignMove
	}
	return game.IDToString(id)
}

// visitPolicy normalises the root visit counts. A move chosen without search
// gets all the mass.
func visitPolicy(d mcts.Decision) []float32 {
	policy := make([]float32, game.PolicySize)
	var sum float32
	for _, v := range d.Visits {
		sum += float32(v)
	}
	if sum == 0 {
		switch {
		case d.Move == game.Pass:
			policy[game.NumPoints] = 1
		case game.OnBoard(d.Move):
			policy[d.Move] = 1
		}
		return policy
	}
	for i, v := range d.Visits {
		policy[i] = float32(v) / sum
	}
	return policy
}
