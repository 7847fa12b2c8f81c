package mcts

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/gozero/executor/conductor"
)

// meter accumulates a sum, a count and a maximum.
type meter struct {
	sum   atomic.Int64
	count atomic.Int64
	max   atomic.Int64
}

func (m *meter) observe(v int64) {
	m.sum.Add(v)
	m.count.Add(1)
	for {
		cur := m.max.Load()
		if v <= cur || m.max.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (m *meter) reset() {
	m.sum.Store(0)
	m.count.Store(0)
	m.max.Store(0)
}

type meterTotal struct {
	sum, count, max int64
}

func (t *meterTotal) add(m *meter) {
	t.sum += m.sum.Load()
	t.count += m.count.Load()
	t.max = max(t.max, m.max.Load())
}

func (t meterTotal) avg() float64 {
	if t.count == 0 {
		return 0
	}
	return float64(t.sum) / float64(t.count)
}

func (t meterTotal) avgDur() time.Duration { return time.Duration(t.avg()) }

// LocalMonitor collects the measurements of one goroutine. Its methods are
// safe to call concurrently, but each search worker gets its own so that
// counters are not contended.
type LocalMonitor struct {
	evalCost      meter
	evalBatchCost meter
	simCost       meter
	selectCost    meter
	expandCost    meter
	backupCost    meter
	batchSize     meter
	treeHeight    meter
	taskQueue     meter
	rpcQueue      meter

	evalTimeouts   atomic.Int64
	selectSameNode atomic.Int64
}

func (l *LocalMonitor) EvalCost(d time.Duration)       { l.evalCost.observe(int64(d)) }
func (l *LocalMonitor) EvalBatchCost(d time.Duration)  { l.evalBatchCost.observe(int64(d)) }
func (l *LocalMonitor) SimulationCost(d time.Duration) { l.simCost.observe(int64(d)) }
func (l *LocalMonitor) SelectCost(d time.Duration)     { l.selectCost.observe(int64(d)) }
func (l *LocalMonitor) ExpandCost(d time.Duration)     { l.expandCost.observe(int64(d)) }
func (l *LocalMonitor) BackupCost(d time.Duration)     { l.backupCost.observe(int64(d)) }
func (l *LocalMonitor) EvalBatchSize(n int)            { l.batchSize.observe(int64(n)) }
func (l *LocalMonitor) TreeHeight(h int)               { l.treeHeight.observe(int64(h)) }
func (l *LocalMonitor) TaskQueueSize(n int)            { l.taskQueue.observe(int64(n)) }
func (l *LocalMonitor) RPCQueueSize(n int)             { l.rpcQueue.observe(int64(n)) }
func (l *LocalMonitor) EvalTimeout()                   { l.evalTimeouts.Add(1) }
func (l *LocalMonitor) SelectSameNode()                { l.selectSameNode.Add(1) }

func (l *LocalMonitor) reset() {
	for _, m := range []*meter{
		&l.evalCost, &l.evalBatchCost, &l.simCost, &l.selectCost, &l.expandCost,
		&l.backupCost, &l.batchSize, &l.treeHeight, &l.taskQueue, &l.rpcQueue,
	} {
		m.reset()
	}
	l.evalTimeouts.Store(0)
	l.selectSameNode.Store(0)
}

// Snapshot is the merged view over every LocalMonitor.
type Snapshot struct {
	AvgEvalCost       time.Duration
	MaxEvalCost       time.Duration
	AvgEvalBatchCost  time.Duration
	MaxEvalBatchCost  time.Duration
	AvgBatchSize      float64
	EvalTimeouts      int64
	AvgSimulationCost time.Duration
	MaxSimulationCost time.Duration
	AvgSelectCost     time.Duration
	MaxSelectCost     time.Duration
	AvgExpandCost     time.Duration
	MaxExpandCost     time.Duration
	AvgBackupCost     time.Duration
	MaxBackupCost     time.Duration
	SelectSameNode    int64
	MaxTreeHeight     int64
	AvgTreeHeight     float64
	AvgTaskQueueSize  float64
	AvgRPCQueueSize   float64
}

// Monitor owns the LocalMonitors of one engine and logs their merged view
// every interval while search runs.
type Monitor struct {
	mu     sync.Mutex
	locals []*LocalMonitor

	every time.Duration
	async bool
	cond  *conductor.Conductor
	once  sync.Once
	done  chan struct{}
	log   zerolog.Logger
}

// NewMonitor returns a monitor. A non-positive every disables periodic
// logging.
func NewMonitor(every time.Duration, async bool, log zerolog.Logger) *Monitor {
	return &Monitor{
		every: every,
		async: async,
		cond:  conductor.New(),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "monitor").Logger(),
	}
}

// NewLocal registers a new accumulator.
func (m *Monitor) NewLocal() *LocalMonitor {
	l := &LocalMonitor{}
	m.mu.Lock()
	m.locals = append(m.locals, l)
	m.mu.Unlock()
	return l
}

func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locals {
		l.reset()
	}
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evalCost, evalBatch, sim, sel, exp, back, batch, height, task, rpc meterTotal
	var s Snapshot
	for _, l := range m.locals {
		evalCost.add(&l.evalCost)
		evalBatch.add(&l.evalBatchCost)
		sim.add(&l.simCost)
		sel.add(&l.selectCost)
		exp.add(&l.expandCost)
		back.add(&l.backupCost)
		batch.add(&l.batchSize)
		height.add(&l.treeHeight)
		task.add(&l.taskQueue)
		rpc.add(&l.rpcQueue)
		s.EvalTimeouts += l.evalTimeouts.Load()
		s.SelectSameNode += l.selectSameNode.Load()
	}
	s.AvgEvalCost, s.MaxEvalCost = evalCost.avgDur(), time.Duration(evalCost.max)
	s.AvgEvalBatchCost, s.MaxEvalBatchCost = evalBatch.avgDur(), time.Duration(evalBatch.max)
	s.AvgBatchSize = batch.avg()
	s.AvgSimulationCost, s.MaxSimulationCost = sim.avgDur(), time.Duration(sim.max)
	s.AvgSelectCost, s.MaxSelectCost = sel.avgDur(), time.Duration(sel.max)
	s.AvgExpandCost, s.MaxExpandCost = exp.avgDur(), time.Duration(exp.max)
	s.AvgBackupCost, s.MaxBackupCost = back.avgDur(), time.Duration(back.max)
	s.MaxTreeHeight, s.AvgTreeHeight = height.max, height.avg()
	s.AvgTaskQueueSize = task.avg()
	s.AvgRPCQueueSize = rpc.avg()
	return s
}

func (m *Monitor) Log() {
	s := m.Snapshot()
	ev := m.log.Info().
		Dur("avg_eval_cost", s.AvgEvalCost).
		Dur("max_eval_cost", s.MaxEvalCost).
		Dur("avg_eval_batch_cost", s.AvgEvalBatchCost).
		Dur("max_eval_batch_cost", s.MaxEvalBatchCost).
		Float64("avg_batch_size", s.AvgBatchSize).
		Int64("eval_timeouts", s.EvalTimeouts).
		Dur("avg_simulation_cost", s.AvgSimulationCost).
		Dur("max_simulation_cost", s.MaxSimulationCost).
		Dur("avg_select_cost", s.AvgSelectCost).
		Dur("max_select_cost", s.MaxSelectCost).
		Dur("avg_expand_cost", s.AvgExpandCost).
		Dur("max_expand_cost", s.MaxExpandCost).
		Dur("avg_backup_cost", s.AvgBackupCost).
		Dur("max_backup_cost", s.MaxBackupCost).
		Int64("select_same_node", s.SelectSameNode).
		Int64("tree_height", s.MaxTreeHeight).
		Float64("avg_tree_height", s.AvgTreeHeight).
		Float64("avg_task_queue_size", s.AvgTaskQueueSize)
	if m.async {
		ev = ev.Float64("avg_rpc_queue_size", s.AvgRPCQueueSize)
	}
	ev.Msg("search monitor")
}

// Resume starts periodic logging.
func (m *Monitor) Resume() {
	if m.every <= 0 {
		return
	}
	m.once.Do(func() { go m.routine() })
	m.cond.Resume(1)
}

// Pause stops periodic logging and waits for the logger to acknowledge.
func (m *Monitor) Pause() {
	m.cond.Pause()
	m.cond.Join(-1)
}

// Close stops the logging goroutine, if it was ever started.
func (m *Monitor) Close() {
	m.cond.Terminate()
	m.once.Do(func() { close(m.done) })
	<-m.done
}

func (m *Monitor) routine() {
	defer close(m.done)
	c := m.cond
	c.Wait()
	for {
		if !c.IsRunning() {
			if c.IsTerminated() {
				return
			}
			c.AckPause()
			c.Wait()
			if c.IsTerminated() {
				return
			}
		}
		c.Sleep(m.every)
		if c.IsRunning() {
			m.Log()
		}
	}
}
