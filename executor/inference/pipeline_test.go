package inference

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/config"
)

// fakeBackend scores an input by the index of its first set feature. The
// first failFirst Forward calls return failErr; every call takes delay.
type fakeBackend struct {
	step      int64
	failFirst int32
	failErr   error
	delay     time.Duration

	calls   atomic.Int32
	batches []int
	mu      sync.Mutex
	closed  bool
}

func (f *fakeBackend) Init(context.Context, config.ModelConfig) error { return nil }
func (f *fakeBackend) GlobalStep(context.Context) (int64, error)      { return f.step, nil }
func (f *fakeBackend) Wait(context.Context)                           {}
func (f *fakeBackend) RPCQueueSize() int                              { return 0 }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Forward(_ context.Context, inputs [][]bool) ([][]float32, []float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, len(inputs))
	f.mu.Unlock()
	time.Sleep(f.delay)
	if f.calls.Add(1) <= f.failFirst {
		return nil, nil, f.failErr
	}
	policy := make([][]float32, len(inputs))
	value := make([]float32, len(inputs))
	for i, in := range inputs {
		policy[i] = make([]float32, OutputDim)
		value[i] = float32(slices.Index(in, true))
	}
	return policy, value, nil
}

// fakeAsync runs Forward on a fresh goroutine.
type fakeAsync struct {
	fakeBackend
	pending sync.WaitGroup
}

func (f *fakeAsync) ForwardAsync(inputs [][]bool, done ForwardFunc) {
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		time.Sleep(time.Millisecond)
		done(f.Forward(context.Background(), inputs))
	}()
}

func markedInput(i int) []bool {
	in := make([]bool, InputDim)
	in[i] = true
	return in
}

type collector struct {
	mu      sync.Mutex
	results map[int]Result
	wg      sync.WaitGroup
}

func newCollector() *collector { return &collector{results: map[int]Result{}} }

func (c *collector) task(i int) *Task {
	c.wg.Add(1)
	return &Task{
		Features: markedInput(i),
		Done: func(r Result) {
			c.mu.Lock()
			if _, dup := c.results[i]; dup {
				panic("task completed twice")
			}
			c.results[i] = r
			c.mu.Unlock()
			c.wg.Done()
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("tasks did not complete")
	}
}

func testPipeline(cfg PipelineConfig, backends ...Backend) *Pipeline {
	return NewPipeline(cfg, backends, nil, zerolog.Nop())
}

func TestPipeline_TimeoutRequeuesWithoutLoss(t *testing.T) {
	be := &fakeBackend{step: 7, failFirst: 1, failErr: Errorf(CodeForwardTimeout, "deadline")}
	p := testPipeline(PipelineConfig{BatchSize: 4, BatchWait: 5 * time.Millisecond}, be)
	c := newCollector()
	for i := 0; i < 3; i++ {
		p.Submit(c.task(i))
	}

	step, err := p.Start(context.Background(), config.ModelConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if step != 7 {
		t.Fatalf("step = %d", step)
	}
	c.wait(t)

	for i := 0; i < 3; i++ {
		r := c.results[i]
		if r.Err != nil {
			t.Fatalf("task %d: %v", i, r.Err)
		}
		if r.Value != float32(i) {
			t.Fatalf("task %d got value %v, results mixed up", i, r.Value)
		}
	}
	if st := p.Stats(); st.Timeouts != 1 || st.TotalItems != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !be.closed {
		t.Fatalf("backend not closed")
	}
}

func TestPipeline_ErrorReachesEveryTask(t *testing.T) {
	be := &fakeBackend{failFirst: 1 << 20, failErr: Errorf(CodeSessionRun, "boom")}
	p := testPipeline(PipelineConfig{BatchSize: 2, BatchWait: time.Millisecond}, be)
	if _, err := p.Start(context.Background(), config.ModelConfig{}); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	for i := 0; i < 5; i++ {
		p.Submit(c.task(i))
	}
	c.wait(t)
	for i, r := range c.results {
		if CodeOf(r.Err) != CodeSessionRun {
			t.Fatalf("task %d err = %v", i, r.Err)
		}
	}
	p.Close()
}

func TestPipeline_GlobalStepConflict(t *testing.T) {
	p := testPipeline(PipelineConfig{BatchSize: 1}, &fakeBackend{step: 1}, &fakeBackend{step: 2})
	_, err := p.Start(context.Background(), config.ModelConfig{})
	if !errors.Is(err, ErrGlobalStepConflict) {
		t.Fatalf("err = %v, want global step conflict", err)
	}
}

func TestPipeline_AsyncCloseWaitsForInflight(t *testing.T) {
	be := &fakeAsync{}
	p := testPipeline(PipelineConfig{BatchSize: 3, BatchWait: time.Millisecond, Async: true}, be)
	if _, err := p.Start(context.Background(), config.ModelConfig{}); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	for i := 0; i < 10; i++ {
		p.Submit(c.task(i))
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	n := len(c.results)
	c.mu.Unlock()
	if n != 10 {
		t.Fatalf("%d of 10 tasks done after Close", n)
	}
	if p.Submit(c.task(99)) {
		t.Fatalf("submit accepted after Close")
	}
}
