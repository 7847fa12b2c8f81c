package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// GameDB indexes finished self-play games in sqlite.
type GameDB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// GameSummary is one row of the games table.
type GameSummary struct {
	ID         string
	Moves      string
	NumMoves   int
	Winner     string
	Result     string
	GlobalStep int64
	TracePath  string
	CreatedAt  time.Time
}

// PlayedMove is the search summary of one move of a game.
type PlayedMove struct {
	Ply     int
	Move    string
	Q       float32
	VResign float32
	Sims    int64
}

func OpenGameDB(path string) (*GameDB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &GameDB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *GameDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		moves TEXT NOT NULL,
		num_moves INTEGER NOT NULL,
		winner TEXT NOT NULL,
		result TEXT NOT NULL,          -- e.g. "B+R", "W+7.5"
		global_step INTEGER NOT NULL,
		trace_path TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS moves (
		game_id TEXT,
		ply INTEGER,
		move TEXT NOT NULL,
		q REAL,
		v_resign REAL,
		sims INTEGER,
		PRIMARY KEY (game_id, ply),
		FOREIGN KEY(game_id) REFERENCES games(id)
	);

	CREATE INDEX IF NOT EXISTS idx_games_global_step ON games(global_step);
	`

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (db *GameDB) Close() error { return db.conn.Close() }

// InsertGame stores a game and its moves in one transaction. Inserting the
// same game id twice is a no-op.
func (db *GameDB) InsertGame(g GameSummary, moves []PlayedMove) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT OR IGNORE INTO games (id, moves, num_moves, winner, result, global_step, trace_path) VALUES (?, ?, ?, ?, ?, ?, ?)",
		g.ID, g.Moves, g.NumMoves, g.Winner, g.Result, g.GlobalStep, g.TracePath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO moves (game_id, ply, move, q, v_resign, sims) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare move statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range moves {
		if _, err := stmt.Exec(g.ID, m.Ply, m.Move, nullableFloat(m.Q), m.VResign, m.Sims); err != nil {
			return fmt.Errorf("failed to insert move %d: %w", m.Ply, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetTracePath records where the moves of the given games were written.
func (db *GameDB) SetTracePath(path string, ids ...string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec("UPDATE games SET trace_path = ? WHERE id = ?", path, id); err != nil {
			return fmt.Errorf("failed to update game %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (db *GameDB) GameExists(id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var exists int
	err := db.conn.QueryRow("SELECT 1 FROM games WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentGames returns up to limit games, newest first.
func (db *GameDB) RecentGames(limit int) ([]GameSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		"SELECT id, moves, num_moves, winner, result, global_step, COALESCE(trace_path, ''), created_at FROM games ORDER BY created_at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []GameSummary
	for rows.Next() {
		var g GameSummary
		if err := rows.Scan(&g.ID, &g.Moves, &g.NumMoves, &g.Winner, &g.Result, &g.GlobalStep, &g.TracePath, &g.CreatedAt); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// GameMoves returns the moves of a game in play order.
func (db *GameDB) GameMoves(id string) ([]PlayedMove, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		"SELECT ply, move, q, v_resign, sims FROM moves WHERE game_id = ? ORDER BY ply",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []PlayedMove
	for rows.Next() {
		var m PlayedMove
		var q sql.NullFloat64
		if err := rows.Scan(&m.Ply, &m.Move, &q, &m.VResign, &m.Sims); err != nil {
			return nil, err
		}
		m.Q = float32(math.NaN())
		if q.Valid {
			m.Q = float32(q.Float64)
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// WinCounts returns how many stored games each colour won.
func (db *GameDB) WinCounts() (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query("SELECT winner, COUNT(*) FROM games GROUP BY winner")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var winner string
		var n int
		if err := rows.Scan(&winner, &n); err != nil {
			return nil, err
		}
		out[winner] = n
	}
	return out, rows.Err()
}

// nullableFloat stores NaN, the Q of a move the search never visited, as
// NULL. GameMoves turns NULL back into NaN.
func nullableFloat(f float32) any {
	if math.IsNaN(float64(f)) {
		return nil
	}
	return f
}
