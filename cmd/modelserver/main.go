// Command modelserver serves a local ONNX model to remote search engines
// over gRPC, with a small HTTP side for status and a websocket stats feed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/executor/inference"
	"github.com/brensch/gozero/logging"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP listen address")
	grpcAddr := flag.String("grpc-addr", ":8091", "gRPC listen address")
	statsInterval := flag.Duration("stats-interval", time.Second, "Interval between /ws/stats updates")
	modelPath := flag.String("model", "models/zero.onnx", "ONNX model served when a client does not initialise one")
	cuda := flag.Bool("cuda", false, "Run the model on CUDA")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log, err := logging.New(logging.Options{Level: *logLevel, Format: logging.FormatConsole})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := inference.NewOnnxBackend(log)
	defer backend.Close()
	if *modelPath != "" {
		if err := backend.Init(ctx, config.ModelConfig{ModelPath: *modelPath, UseCUDA: *cuda}); err != nil {
			log.Fatal().Err(err).Str("model", *modelPath).Msg("load model")
		}
	}
	srv := inference.NewServer(backend, log)
	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *grpcAddr).Msg("listen")
	}
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		step, err := backend.GlobalStep(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"model":       *modelPath,
			"global_step": step,
			"server":      srv.Stats(),
		})
	})
	r.Get("/ws/stats", srv.StatsFeed(*statsInterval))

	httpSrv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		srv.Stop()
	}()

	log.Info().Str("addr", *addr).Str("grpc_addr", *grpcAddr).Str("model", *modelPath).Msg("model server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
	log.Info().Msg("model server stopped")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
