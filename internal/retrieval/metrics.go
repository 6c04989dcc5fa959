package retrieval

import (
	"sync/atomic"
	"time"
)

// slowRetrievalThreshold triggers a warn log for retrieval passes that
// exceed it.
const slowRetrievalThreshold = 2 * time.Second

// Metrics tracks retrieval performance statistics.
type Metrics struct {
	TotalRetrievals  int64
	ShardQueries     int64
	ShardFailures    int64
	EarlyStops       int64
	DeadlineOverruns int64
	TotalLatencyNs   int64
}

func (m *Metrics) observe(result *Result, latency time.Duration) {
	atomic.AddInt64(&m.TotalRetrievals, 1)
	atomic.AddInt64(&m.TotalLatencyNs, latency.Nanoseconds())
	if result == nil {
		return
	}
	atomic.AddInt64(&m.ShardQueries, int64(result.ShardsQueried))
	atomic.AddInt64(&m.ShardFailures, int64(result.ShardFailures))
	if result.EarlyStopped {
		atomic.AddInt64(&m.EarlyStops, 1)
	}
	if result.DeadlineExceeded {
		atomic.AddInt64(&m.DeadlineOverruns, 1)
	}
}

// Stats returns the current retrieval statistics.
func (m *Metrics) Stats() map[string]any {
	total := atomic.LoadInt64(&m.TotalRetrievals)
	totalLatency := atomic.LoadInt64(&m.TotalLatencyNs)

	avgLatencyMs := float64(0)
	if total > 0 {
		avgLatencyMs = float64(totalLatency) / float64(total) / 1e6
	}

	return map[string]any{
		"total_retrievals":  total,
		"shard_queries":     atomic.LoadInt64(&m.ShardQueries),
		"shard_failures":    atomic.LoadInt64(&m.ShardFailures),
		"early_stops":       atomic.LoadInt64(&m.EarlyStops),
		"deadline_overruns": atomic.LoadInt64(&m.DeadlineOverruns),
		"avg_latency_ms":    avgLatencyMs,
	}
}
