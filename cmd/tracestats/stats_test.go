package main

import (
	"context"
	"errors"
	"testing"

	"github.com/brensch/gozero/store"
)

func traceGame(id, winner string, step int64, moves ...string) []store.MoveRecord {
	rows := make([]store.MoveRecord, len(moves))
	for i, m := range moves {
		rows[i] = store.MoveRecord{
			GameID:     id,
			Ply:        int32(i),
			Color:      "bw"[i%2 : i%2+1],
			Move:       m,
			Policy:     []float32{1},
			Sims:       100,
			ElapsedMs:  10,
			GlobalStep: step,
			Winner:     winner,
		}
	}
	return rows
}

func TestTraceQueries(t *testing.T) {
	dir := t.TempDir()
	if _, err := store.WriteTraceParquetAtomic(dir, traceGame("a", "b", 1, "dd", "pp", "resign")); err != nil {
		t.Fatal(err)
	}
	rows := append(traceGame("b", "w", 2, "dd", "zz", "zz"), traceGame("c", "w", 2, "pd", "zz")...)
	if _, err := store.WriteTraceParquetAtomic(dir, rows); err != nil {
		t.Fatal(err)
	}

	db, err := openTraces([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	s, err := querySummary(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if s.Games != 3 || s.Moves != 8 || s.BlackWins != 1 || s.Resignations != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.AvgSims != 100 {
		t.Fatalf("avg sims = %f", s.AvgSims)
	}

	steps, err := queryByStep(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].GlobalStep != 1 || steps[1].Games != 2 || steps[1].BlackWins != 0 {
		t.Fatalf("by step = %+v", steps)
	}

	first, err := queryOpenings(ctx, db, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0] != (opening{"dd", 2}) || first[1] != (opening{"pd", 1}) {
		t.Fatalf("openings = %v", first)
	}
}

func TestOpenTraces_NoRoots(t *testing.T) {
	if _, err := openTraces([]string{" "}); !errors.Is(err, errNoRoots) {
		t.Fatalf("err = %v", err)
	}
}
