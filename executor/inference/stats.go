package inference

import "sync/atomic"

// RuntimeStats is a snapshot of evaluation throughput.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	Timeouts      int64
	Failures      int64
	QueueLen      int
	RPCQueueLen   int

	AvgBatchSize float64
	AvgRunMs     float64
}

// workerStats are the counters of one evaluation goroutine.
type workerStats struct {
	batches   atomic.Int64
	items     atomic.Int64
	runNanos  atomic.Int64
	lastBatch atomic.Int64
	timeouts  atomic.Int64
	failures  atomic.Int64
}

func (w *workerStats) observe(size int, nanos int64) {
	w.batches.Add(1)
	w.items.Add(int64(size))
	w.runNanos.Add(nanos)
	w.lastBatch.Store(int64(size))
}

// Stats aggregates the counters of every worker.
func (p *Pipeline) Stats() RuntimeStats {
	var st RuntimeStats
	for i, w := range p.stats {
		st.TotalBatches += w.batches.Load()
		st.TotalItems += w.items.Load()
		st.TotalRunNanos += w.runNanos.Load()
		st.Timeouts += w.timeouts.Load()
		st.Failures += w.failures.Load()
		if last := w.lastBatch.Load(); last > st.LastBatchSize {
			st.LastBatchSize = last
		}
		st.RPCQueueLen += p.backends[i].RPCQueueSize()
	}
	st.QueueLen = p.queue.Size()
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
	return st
}
