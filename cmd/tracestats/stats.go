package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// openTraces opens an in-memory DuckDB with a moves view over every trace
// file below roots. Files still being written sit directly in a tmp
// directory and are skipped.
func openTraces(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		glob := filepath.Join(root, "**", "*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}
	if len(globs) == 0 {
		_ = db.Close()
		return nil, errNoRoots
	}

	sqlText := `CREATE OR REPLACE VIEW moves AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
		WHERE NOT regexp_matches(filename, '/tmp/[^/]*$')`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

type summary struct {
	Games        int64
	Moves        int64
	AvgGameLen   float64
	BlackWins    int64
	Resignations int64
	AvgSims      float64
	AvgElapsedMs float64
}

func querySummary(ctx context.Context, db *sql.DB) (summary, error) {
	var s summary
	err := db.QueryRowContext(ctx, `
		WITH games AS (
			SELECT game_id,
				COUNT(*) AS plies,
				any_value(winner) AS winner,
				bool_or(move = 'resign') AS resigned
			FROM moves GROUP BY game_id
		)
		SELECT COUNT(*),
			COALESCE(SUM(plies), 0)::BIGINT,
			COALESCE(AVG(plies), 0),
			COUNT(*) FILTER (WHERE winner = 'b'),
			COUNT(*) FILTER (WHERE resigned)
		FROM games`).Scan(&s.Games, &s.Moves, &s.AvgGameLen, &s.BlackWins, &s.Resignations)
	if err != nil {
		return s, err
	}
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(sims), 0), COALESCE(AVG(elapsed_ms), 0) FROM moves`,
	).Scan(&s.AvgSims, &s.AvgElapsedMs)
	return s, err
}

type stepStats struct {
	GlobalStep int64
	Games      int64
	BlackWins  int64
	AvgSims    float64
}

// queryByStep groups the games by the model version that played them.
func queryByStep(ctx context.Context, db *sql.DB) ([]stepStats, error) {
	rows, err := db.QueryContext(ctx, `
		WITH games AS (
			SELECT game_id, any_value(global_step) AS global_step, any_value(winner) AS winner, AVG(sims) AS sims
			FROM moves GROUP BY game_id
		)
		SELECT global_step, COUNT(*), COUNT(*) FILTER (WHERE winner = 'b'), AVG(sims)
		FROM games GROUP BY global_step ORDER BY global_step`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stepStats
	for rows.Next() {
		var s stepStats
		if err := rows.Scan(&s.GlobalStep, &s.Games, &s.BlackWins, &s.AvgSims); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type opening struct {
	Move  string
	Count int64
}

// queryOpenings lists the most common first moves, most played first.
func queryOpenings(ctx context.Context, db *sql.DB, limit int) ([]opening, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT move, COUNT(*) AS n FROM moves WHERE ply = 0
		GROUP BY move ORDER BY n DESC, move LIMIT %d`, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []opening
	for rows.Next() {
		var o opening
		if err := rows.Scan(&o.Move, &o.Count); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
