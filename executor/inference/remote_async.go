package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/gozero/executor/config"
)

type asyncStub struct {
	*remoteStub

	bucketMu sync.Mutex
	bucket   *LeakyBucket
}

// AsyncRemoteBackend spreads batches over one stub per server address. Each
// stub carries one call at a time; a stub whose leaky bucket runs dry is
// withheld until the bucket refills.
type AsyncRemoteBackend struct {
	stubs []*asyncStub
	log   zerolog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	available []*asyncStub
	closed    bool

	outstanding atomic.Int64
}

func NewAsyncRemoteBackend(addrs []string, cfg config.DistConfig, log zerolog.Logger) (*AsyncRemoteBackend, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("inference: no server addresses")
	}
	b := &AsyncRemoteBackend{
		log: log.With().Str("component", "remote_async").Logger(),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, addr := range addrs {
		st := &asyncStub{remoteStub: newRemoteStub(addr, cfg.Timeout())}
		if cfg.EnableLeakyBucket {
			st.bucket = NewLeakyBucket(cfg.LeakyBucketSize, cfg.RefillPeriod())
		}
		b.stubs = append(b.stubs, st)
		b.available = append(b.available, st)
	}
	return b, nil
}

// Init initialises every server concurrently. The servers may report
// different steps here; GlobalStep is where they must agree.
func (b *AsyncRemoteBackend) Init(ctx context.Context, cfg config.ModelConfig) error {
	_, err := b.fanOut(ctx, methodInit, &request{Model: cfg})
	return err
}

// GlobalStep asks every server for its step and fails with
// ErrGlobalStepConflict unless they agree.
func (b *AsyncRemoteBackend) GlobalStep(ctx context.Context) (int64, error) {
	steps, err := b.fanOut(ctx, methodGlobalStep, &request{})
	if err != nil {
		return 0, err
	}
	for i, s := range steps {
		if s != steps[0] {
			return 0, fmt.Errorf("%s serves step %d, %s serves %d: %w",
				b.stubs[i].addr, s, b.stubs[0].addr, steps[0], ErrGlobalStepConflict)
		}
	}
	return steps[0], nil
}

func (b *AsyncRemoteBackend) fanOut(ctx context.Context, m method, req *request) ([]int64, error) {
	steps := make([]int64, len(b.stubs))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range b.stubs {
		g.Go(func() error {
			resp, err := st.call(gctx, m, req)
			if err != nil {
				st.reset()
				return fmt.Errorf("%s: %w", st.addr, err)
			}
			steps[i] = resp.GlobalStep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return steps, nil
}

// ForwardAsync blocks until a stub is free, then evaluates inputs on
// it in the background.
func (b *AsyncRemoteBackend) ForwardAsync(inputs [][]bool, done ForwardFunc) {
	req, err := forwardRequest(inputs)
	if err != nil {
		done(nil, nil, err)
		return
	}
	st := b.getStub()
	if st == nil {
		done(nil, nil, Errorf(CodeUnavailable, "backend closed"))
		return
	}
	b.outstanding.Add(1)
	go func() {
		policy, value, err := b.forward(st, req, len(inputs))
		b.outstanding.Add(-1)
		done(policy, value, err)
	}()
}

// forward runs one call on st. A failed call resets the stub and consumes
// a bucket token; the stub goes back to the pool unless that emptied it.
func (b *AsyncRemoteBackend) forward(st *asyncStub, req *request, n int) ([][]float32, []float32, error) {
	resp, err := st.call(context.Background(), methodForward, req)
	if err != nil {
		b.log.Warn().Err(err).Str("addr", st.addr).Msg("rpc failed")
		st.reset()
		release := true
		if st.bucket != nil {
			st.bucketMu.Lock()
			st.bucket.ConsumeToken()
			release = !st.bucket.Empty()
			st.bucketMu.Unlock()
		}
		if release {
			b.releaseStub(st)
		} else {
			b.disable(st)
		}
		return nil, nil, err
	}
	b.releaseStub(st)
	if err := checkResponse(resp, n); err != nil {
		return nil, nil, err
	}
	return resp.Policy, resp.Value, nil
}

// Forward is the blocking form of ForwardAsync.
func (b *AsyncRemoteBackend) Forward(_ context.Context, inputs [][]bool) ([][]float32, []float32, error) {
	type result struct {
		policy [][]float32
		value  []float32
		err    error
	}
	ch := make(chan result, 1)
	b.ForwardAsync(inputs, func(p [][]float32, v []float32, err error) {
		ch <- result{p, v, err}
	})
	r := <-ch
	return r.policy, r.value, r.err
}

func (b *AsyncRemoteBackend) disable(st *asyncStub) {
	b.log.Warn().Str("addr", st.addr).Msg("too many failures, disabling server until the bucket refills")
	go func() {
		st.bucketMu.Lock()
		st.bucket.WaitRefill()
		st.bucketMu.Unlock()
		b.releaseStub(st)
		b.log.Info().Str("addr", st.addr).Msg("server reenabled")
	}()
}

func (b *AsyncRemoteBackend) getStub() *asyncStub {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.available) == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return nil
	}
	st := b.available[len(b.available)-1]
	b.available = b.available[:len(b.available)-1]
	return st
}

func (b *AsyncRemoteBackend) releaseStub(st *asyncStub) {
	b.mu.Lock()
	b.available = append(b.available, st)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Wait blocks until a stub is free.
func (b *AsyncRemoteBackend) Wait(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.available) == 0 && !b.closed {
		b.cond.Wait()
	}
}

// RPCQueueSize is the number of batches in flight.
func (b *AsyncRemoteBackend) RPCQueueSize() int { return int(b.outstanding.Load()) }

func (b *AsyncRemoteBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	for _, st := range b.stubs {
		st.reset()
	}
	return nil
}

var _ AsyncBackend = (*AsyncRemoteBackend)(nil)
