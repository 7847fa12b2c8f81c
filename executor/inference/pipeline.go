package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/executor/queue"
)

// Result is the evaluation of one position.
type Result struct {
	Policy []float32
	Value  float32
	Err    error
}

// Task is one queued evaluation. Done is called exactly once, from a
// pipeline goroutine.
type Task struct {
	Features []bool
	Done     func(Result)
}

// Observer receives pipeline measurements.
type Observer interface {
	EvalBatchSize(n int)
	EvalBatchCost(d time.Duration)
	EvalTimeout()
	RPCQueueSize(n int)
}

type nopObserver struct{}

func (nopObserver) EvalBatchSize(int)           {}
func (nopObserver) EvalBatchCost(time.Duration) {}
func (nopObserver) EvalTimeout()                {}
func (nopObserver) RPCQueueSize(int)            {}

type PipelineConfig struct {
	BatchSize int
	// BatchWait is how long to wait for each further task once the first
	// task of a batch has arrived.
	BatchWait time.Duration
	QueueSize int
	// Async uses ForwardAsync on backends that implement AsyncBackend.
	Async bool
}

// PipelineConfigFrom reads the batching settings of cfg.
func PipelineConfigFrom(cfg *config.Config) PipelineConfig {
	return PipelineConfig{
		BatchSize: cfg.EvalBatchSize,
		BatchWait: cfg.EvalWaitBatchTimeout(),
		QueueSize: cfg.EvalTaskQueueSize,
		Async:     cfg.EnableDist && cfg.EnableAsync,
	}
}

// Pipeline batches evaluation tasks onto its backends, one goroutine per
// backend.
type Pipeline struct {
	cfg      PipelineConfig
	backends []Backend
	queue    *queue.TaskQueue[*Task]
	obs      Observer
	log      zerolog.Logger
	stats    []*workerStats

	workers  sync.WaitGroup
	inflight sync.WaitGroup

	mu         sync.Mutex
	started    bool
	globalStep int64
}

func NewPipeline(cfg PipelineConfig, backends []Backend, obs Observer, log zerolog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if obs == nil {
		obs = nopObserver{}
	}
	p := &Pipeline{
		cfg:      cfg,
		backends: backends,
		queue:    queue.New[*Task](cfg.QueueSize),
		obs:      obs,
		log:      log.With().Str("component", "eval").Logger(),
		stats:    make([]*workerStats, len(backends)),
	}
	for i := range p.stats {
		p.stats[i] = &workerStats{}
	}
	return p
}

// Start initialises every backend, checks that they all serve the same
// global step and starts the batching goroutines. ctx bounds every backend
// call made by the pipeline.
func (p *Pipeline) Start(ctx context.Context, modelCfg config.ModelConfig) (int64, error) {
	if len(p.backends) == 0 {
		return 0, errors.New("inference: pipeline has no backends")
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return 0, errors.New("inference: pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	steps := make([]int64, len(p.backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range p.backends {
		g.Go(func() error {
			if err := b.Init(gctx, modelCfg); err != nil {
				return fmt.Errorf("backend %d init: %w", i, err)
			}
			step, err := b.GlobalStep(gctx)
			if err != nil {
				return fmt.Errorf("backend %d global step: %w", i, err)
			}
			steps[i] = step
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for i, step := range steps {
		if step != steps[0] {
			return 0, fmt.Errorf("backend %d serves step %d, backend 0 serves %d: %w", i, step, steps[0], ErrGlobalStepConflict)
		}
	}
	p.mu.Lock()
	p.globalStep = steps[0]
	p.mu.Unlock()
	p.log.Info().Int64("global_step", steps[0]).Int("backends", len(p.backends)).Msg("model ready")

	for i, b := range p.backends {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			p.run(ctx, b, p.stats[i])
		}()
	}
	return steps[0], nil
}

func (p *Pipeline) GlobalStep() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalStep
}

// Submit queues t, blocking while the queue is full. It returns false once
// the pipeline is closed; t.Done is not called in that case.
func (p *Pipeline) Submit(t *Task) bool {
	return p.queue.Push(t)
}

func (p *Pipeline) QueueSize() int { return p.queue.Size() }

// Close stops accepting tasks, evaluates what is already queued, waits for
// outstanding asynchronous batches and closes the backends.
func (p *Pipeline) Close() error {
	p.queue.Close()
	p.workers.Wait()
	p.inflight.Wait()
	var errs []error
	for _, b := range p.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) run(ctx context.Context, b Backend, st *workerStats) {
	async, _ := b.(AsyncBackend)
	if !p.cfg.Async {
		async = nil
	}
	for {
		b.Wait(ctx)
		batch := p.nextBatch()
		if len(batch) == 0 {
			return
		}
		p.obs.EvalBatchSize(len(batch))

		inputs := make([][]bool, len(batch))
		for i, t := range batch {
			inputs[i] = t.Features
		}
		start := time.Now()
		if async != nil {
			p.inflight.Add(1)
			async.ForwardAsync(inputs, func(policy [][]float32, value []float32, err error) {
				defer p.inflight.Done()
				p.complete(batch, policy, value, err, start, st)
			})
			p.obs.RPCQueueSize(b.RPCQueueSize())
			continue
		}
		policy, value, err := b.Forward(ctx, inputs)
		p.complete(batch, policy, value, err, start, st)
	}
}

// nextBatch blocks for the first task, then collects up to BatchSize tasks
// waiting at most BatchWait for each. It returns nothing once the queue is
// closed and drained.
func (p *Pipeline) nextBatch() []*Task {
	first, ok := p.queue.Pop(-1)
	if !ok {
		return nil
	}
	batch := make([]*Task, 1, p.cfg.BatchSize)
	batch[0] = first
	for len(batch) < p.cfg.BatchSize {
		t, ok := p.queue.Pop(p.cfg.BatchWait)
		if !ok {
			break
		}
		batch = append(batch, t)
	}
	return batch
}

func (p *Pipeline) complete(batch []*Task, policy [][]float32, value []float32, err error, start time.Time, st *workerStats) {
	p.obs.EvalBatchCost(time.Since(start))
	switch {
	case errors.Is(err, ErrForwardTimeout):
		st.timeouts.Add(1)
		p.obs.EvalTimeout()
		p.log.Warn().Int("batch", len(batch)).Msg("forward timeout, requeueing batch")
		for i := len(batch) - 1; i >= 0; i-- {
			if !p.queue.PushFront(batch[i]) {
				batch[i].Done(Result{Err: err})
			}
		}
	case err != nil:
		st.failures.Add(1)
		p.log.Error().Err(err).Int("batch", len(batch)).Msg("forward failed")
		for _, t := range batch {
			t.Done(Result{Err: err})
		}
	default:
		if len(policy) != len(batch) || len(value) != len(batch) {
			panic(fmt.Sprintf("inference: backend returned %d policies and %d values for %d inputs", len(policy), len(value), len(batch)))
		}
		st.observe(len(batch), time.Since(start).Nanoseconds())
		for i, t := range batch {
			t.Done(Result{Policy: policy[i], Value: value[i]})
		}
	}
}
