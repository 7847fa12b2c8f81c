// Command tracestats summarises self-play parquet traces with DuckDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brensch/gozero/logging"
)

var errNoRoots = errors.New("no trace directories given")

func main() {
	roots := flag.String("roots", "data/selfplay", "Comma separated trace directories")
	openings := flag.Int("openings", 10, "Most common first moves to list")
	flag.Parse()

	log, err := logging.New(logging.Options{Format: logging.FormatConsole})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	db, err := openTraces(strings.Split(*roots, ","))
	if err != nil {
		log.Fatal().Err(err).Msg("open traces")
	}
	defer db.Close()

	s, err := querySummary(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("summary")
	}
	fmt.Printf("games %d, moves %d, avg length %.1f\n", s.Games, s.Moves, s.AvgGameLen)
	if s.Games > 0 {
		fmt.Printf("black wins %d (%.1f%%), resignations %d\n",
			s.BlackWins, 100*float64(s.BlackWins)/float64(s.Games), s.Resignations)
	}
	fmt.Printf("avg sims/move %.0f, avg think %.0fms\n", s.AvgSims, s.AvgElapsedMs)

	steps, err := queryByStep(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("by step")
	}
	for _, st := range steps {
		fmt.Printf("  step %-8d games %-6d black wins %-6d avg sims %.0f\n", st.GlobalStep, st.Games, st.BlackWins, st.AvgSims)
	}

	first, err := queryOpenings(ctx, db, *openings)
	if err != nil {
		log.Fatal().Err(err).Msg("openings")
	}
	for _, o := range first {
		fmt.Printf("  opening %s: %d\n", o.Move, o.Count)
	}
	log.Debug().Dur("took", time.Since(start)).Msg("done")
}
