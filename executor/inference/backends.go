package inference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/config"
)

// NewBackends builds one backend per evaluation goroutine. In distributed
// mode backend i talks to the gRPC server at DistSvrAddrs[i % len]; an async
// entry may list several comma separated host:port addresses that share the
// backend. Otherwise every
// backend is a local ONNX session.
func NewBackends(cfg *config.Config, log zerolog.Logger) ([]Backend, error) {
	n := max(cfg.NumEvalThreads, 1)
	backends := make([]Backend, 0, n)
	fail := func(err error) ([]Backend, error) {
		errs := []error{err}
		for _, b := range backends {
			errs = append(errs, b.Close())
		}
		return nil, errors.Join(errs...)
	}

	for i := range n {
		if !cfg.EnableDist {
			backends = append(backends, NewOnnxBackend(log))
			continue
		}
		addr := cfg.DistSvrAddrs[i%len(cfg.DistSvrAddrs)]
		if cfg.EnableAsync {
			addrs := strings.Split(addr, ",")
			b, err := NewAsyncRemoteBackend(addrs, cfg.DistConfig, log)
			if err != nil {
				return fail(fmt.Errorf("backend %d: %w", i, err))
			}
			backends = append(backends, b)
			continue
		}
		backends = append(backends, NewRemoteBackend(addr, cfg.DistConfig, log))
	}
	log.Info().
		Int("count", len(backends)).
		Bool("dist", cfg.EnableDist).
		Bool("async", cfg.EnableDist && cfg.EnableAsync).
		Msg("backends created")
	return backends, nil
}
