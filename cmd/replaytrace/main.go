// Command replaytrace replays one game of a parquet move trace on the
// terminal, printing the search summary of every move.
package main

import (
	"cmp"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/muesli/termenv"

	"github.com/brensch/gozero/executor/selfplay"
	"github.com/brensch/gozero/game"
	"github.com/brensch/gozero/logging"
	"github.com/brensch/gozero/store"
)

func main() {
	tracePath := flag.String("trace", "", "Parquet trace file")
	gameID := flag.String("game", "", "Game to replay; the first game of the trace when empty")
	upTo := flag.Int("ply", -1, "Stop after this ply; the whole game when negative")
	every := flag.Bool("every", false, "Print the board after every move instead of only at the end")
	topK := flag.Int("top", 3, "Policy entries listed per move")
	planesFlag := flag.String("planes", "", "Comma separated input planes to print before every move, e.g. 0,1,16")
	flag.Parse()

	log, err := logging.New(logging.Options{Format: logging.FormatConsole})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *tracePath == "" {
		log.Fatal().Msg("-trace is required")
	}

	rows, err := store.ReadTrace(*tracePath)
	if err != nil {
		log.Fatal().Err(err).Msg("read trace")
	}
	if len(rows) == 0 {
		log.Fatal().Str("trace", *tracePath).Msg("empty trace")
	}
	if *gameID == "" {
		*gameID = rows[0].GameID
	}
	rows = slices.DeleteFunc(rows, func(r store.MoveRecord) bool { return r.GameID != *gameID })
	if len(rows) == 0 {
		log.Fatal().Str("game", *gameID).Msg("game not in trace")
	}
	slices.SortFunc(rows, func(a, b store.MoveRecord) int { return cmp.Compare(a.Ply, b.Ply) })

	var planes []int
	for _, p := range strings.Split(*planesFlag, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			log.Fatal().Err(err).Msg("-planes")
		}
		planes = append(planes, n)
	}

	profile := termenv.ColorProfile()
	board := game.NewState(true)
	setup, err := game.ParseMoves(rows[0].Setup)
	if err != nil {
		log.Fatal().Err(err).Msg("decode setup")
	}
	for _, id := range setup {
		if err := board.Move(id); err != nil {
			log.Fatal().Err(err).Str("setup", rows[0].Setup).Msg("replay setup")
		}
	}
	log.Info().
		Str("game", *gameID).
		Int("moves", len(rows)).
		Str("winner", rows[0].Winner).
		Int64("global_step", rows[0].GlobalStep).
		Msg("replaying")

	for _, r := range rows {
		if *upTo >= 0 && int(r.Ply) > *upTo {
			break
		}
		fmt.Printf("%3d %s %-6s Q=%+.3f v_resign=%+.3f sims=%-6d %4dms  top: %s\n",
			r.Ply, r.Color, r.Move, r.Q, r.VResign, r.Sims, r.ElapsedMs, topMoves(r.Policy, *topK))
		if len(planes) > 0 {
			fmt.Print(selfplay.FormatPlanes(store.UnpackFeatures(r.Features, game.FeatureSize), planes...))
		}
		if r.Move == selfplay.ResignMove {
			break
		}
		id, err := game.StringToID(r.Move)
		if err != nil {
			log.Fatal().Err(err).Int32("ply", r.Ply).Msg("decode move")
		}
		if err := board.Move(id); err != nil {
			log.Fatal().Err(err).Int32("ply", r.Ply).Str("move", r.Move).Msg("replay diverged")
		}
		if *every {
			fmt.Println(board.Render(profile))
		}
	}

	if !*every {
		fmt.Println(board.Render(profile))
	}
	score := board.CalcScore()
	fmt.Printf("area: black %d white %d, komi %.1f, recorded winner %s\n", score.Black, score.White, game.Komi, rows[0].Winner)
}

// topMoves formats the k most likely entries of a policy as move:p.
func topMoves(policy []float32, k int) string {
	idx := make([]int, len(policy))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(policy[b], policy[a]) })
	out := ""
	for _, i := range idx[:min(k, len(idx))] {
		if policy[i] == 0 {
			break
		}
		move := game.Pass
		if i < game.NumPoints {
			move = i
		}
		out += fmt.Sprintf("%s:%.2f ", game.IDToString(move), policy[i])
	}
	return out
}
