// Command executor plays self-play games with the search engine and writes
// every generated move to parquet traces indexed in sqlite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/executor/inference"
	"github.com/brensch/gozero/executor/mcts"
	"github.com/brensch/gozero/executor/selfplay"
	"github.com/brensch/gozero/logging"
	"github.com/brensch/gozero/store"
)

type counters struct {
	games atomic.Int64
	moves atomic.Int64
	sims  atomic.Int64
}

func main() {
	configPath := flag.String("config", getEnvOrDefault("CONFIG", ""), "JSON engine config; defaults are used when empty")
	outDir := flag.String("out-dir", getEnvOrDefault("OUT_DIR", "data/selfplay"), "Directory for parquet move traces")
	dbPath := flag.String("db", getEnvOrDefault("GAME_DB", "data/games.db"), "sqlite game index; empty disables it")
	workers := flag.Int("workers", getEnvIntOrDefault("WORKERS", 1), "Concurrent games, each with its own engine")
	maxGames := flag.Int64("max-games", int64(getEnvIntOrDefault("MAX_GAMES", 0)), "If > 0, stop after this many games across all workers")
	gamesPerFlush := flag.Int("games-per-flush", getEnvIntOrDefault("GAMES_PER_FLUSH", 50), "Games per parquet file")
	maxMoves := flag.Int("max-moves", getEnvIntOrDefault("MAX_MOVES", selfplay.DefaultMaxMoves), "Moves before a game is scored")
	handicap := flag.Int("handicap", getEnvIntOrDefault("HANDICAP", 0), "Free handicap stones for black")
	logLevel := flag.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level")
	logFormat := flag.String("log-format", getEnvOrDefault("LOG_FORMAT", "console"), "json, console or pretty")
	tui := flag.Bool("tui", getEnvBoolOrDefault("TUI", false), "Show a live terminal dashboard; logs go to executor.log")
	flag.Parse()

	var logOut io.Writer = os.Stderr
	if *tui {
		f, err := os.OpenFile("executor.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log, err := logging.New(logging.Options{Level: *logLevel, Format: logging.Format(*logFormat), Out: logOut})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
	}
	// Self-play drives every move itself.
	cfg.EnableBackgroundSearch = false

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var db *store.GameDB
	if *dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			log.Fatal().Err(err).Msg("create db dir")
		}
		if db, err = store.OpenGameDB(*dbPath); err != nil {
			log.Fatal().Err(err).Msg("open game db")
		}
		defer db.Close()
	}

	c := &counters{}
	finished := make(chan *selfplay.Game, *workers*2)
	updates := make(chan GameUpdate, *workers)
	profile := boardProfile(*tui)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		traceWriterLoop(*outDir, *gamesPerFlush, db, finished, log)
	}()

	log.Info().
		Int("workers", *workers).
		Int("search_threads", cfg.NumSearchThreads).
		Int("eval_threads", cfg.NumEvalThreads).
		Bool("dist", cfg.EnableDist).
		Str("out_dir", *outDir).
		Msg("starting self-play")

	g, gctx := errgroup.WithContext(ctx)
	for i := range *workers {
		g.Go(func() error {
			wlog := log.With().Int("worker", i).Logger()
			backends, err := inference.NewBackends(&cfg, wlog)
			if err != nil {
				return err
			}
			e, err := mcts.New(gctx, cfg, backends, wlog)
			if err != nil {
				return err
			}
			defer e.Close()

			opts := selfplay.Options{
				MaxMoves: *maxMoves,
				Handicap: *handicap,
				OnMove: func(_ int, d mcts.Decision) {
					c.moves.Add(1)
					c.sims.Add(d.Simulations)
				},
			}
			for {
				game, err := selfplay.PlayGame(gctx, e, opts, wlog)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("worker %d: %w", i, err)
				}
				finished <- game
				select {
				case updates <- GameUpdate{WorkerID: i, GameID: game.ID, Result: game.Result, Moves: len(game.Moves), Board: game.Final.Render(profile)}:
				default:
				}
				if total := c.games.Add(1); *maxGames > 0 && total >= *maxGames {
					cancel()
					return nil
				}
			}
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- g.Wait()
		close(finished)
		close(updates)
		cancel()
	}()

	if *tui {
		p := tea.NewProgram(initialModel(c, updates), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error().Err(err).Msg("tui")
		}
		cancel()
	} else {
		go func() {
			for range updates {
			}
		}()
		statsLoop(ctx, c, log)
	}

	err = <-workersDone
	<-writerDone
	if err != nil {
		log.Fatal().Err(err).Msg("self-play failed")
	}
	log.Info().Int64("games", c.games.Load()).Msg("shutdown complete")
}

func statsLoop(ctx context.Context, c *counters, log zerolog.Logger) {
	start := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			secs := time.Since(start).Seconds()
			log.Info().
				Int64("games", c.games.Load()).
				Float64("moves_per_sec", float64(c.moves.Load())/secs).
				Float64("sims_per_sec", float64(c.sims.Load())/secs).
				Msg("stats")
		}
	}
}

// traceWriterLoop writes finished games into parquet traces of
// gamesPerFlush games each and indexes them in db.
func traceWriterLoop(outDir string, gamesPerFlush int, db *store.GameDB, in <-chan *selfplay.Game, log zerolog.Logger) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}
	var w *store.TraceWriter
	var ids []string

	flush := func(reason string) {
		if w == nil {
			return
		}
		path, rows, games, err := w.Finalize()
		w = nil
		flushed := ids
		ids = nil
		if err != nil {
			log.Error().Err(err).Str("reason", reason).Msg("trace flush failed")
			return
		}
		if db != nil && path != "" {
			if err := db.SetTracePath(path, flushed...); err != nil {
				log.Warn().Err(err).Msg("index trace path")
			}
		}
		log.Info().Str("path", path).Int("rows", rows).Int("games", games).Str("reason", reason).Msg("trace flushed")
	}

	for game := range in {
		if db != nil {
			if err := db.InsertGame(game.Summary(), game.PlayedMoves()); err != nil {
				log.Warn().Err(err).Str("game_id", game.ID).Msg("index game")
			}
		}
		if w == nil {
			var err error
			if w, err = store.NewTraceWriter(outDir); err != nil {
				log.Error().Err(err).Msg("open trace writer")
				continue
			}
		}
		if err := w.WriteGame(game.Records); err != nil {
			log.Error().Err(err).Str("game_id", game.ID).Msg("write trace")
			continue
		}
		ids = append(ids, game.ID)
		if w.Games() >= gamesPerFlush {
			flush("count")
		}
	}
	flush("shutdown")
}
