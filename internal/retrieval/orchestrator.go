package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/askneu/askneu/pkg/models"
)

// Store is the vector store surface the orchestrator needs.
type Store interface {
	QueryCollection(ctx context.Context, collectionID string, vector []float32, k int) ([]models.Candidate, error)
	ListShards(ctx context.Context, forceRefresh bool) ([]models.Shard, error)
}

// Result is the outcome of one retrieval pass.
type Result struct {
	Candidates    []models.Candidate
	ShardsQueried int
	ShardFailures int
	EarlyStopped  bool

	// DeadlineExceeded is set when the budget fired before the
	// fan-out completed, or when every queried shard failed.
	DeadlineExceeded bool
}

// Orchestrator produces a merged, bounded candidate list for a
// question within its deadline. When a unified collection is
// configured it is queried directly; otherwise the query fans out
// across shards.
type Orchestrator struct {
	store     Store
	unifiedID string
	metrics   *Metrics
}

// New creates an orchestrator. unifiedID selects the unified path when
// non-empty.
func New(store Store, unifiedID string) *Orchestrator {
	return &Orchestrator{
		store:     store,
		unifiedID: unifiedID,
		metrics:   &Metrics{},
	}
}

// Metrics returns the orchestrator's counters for monitoring.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Retrieve runs the retrieval pass for a question. Partial shard
// failures are absorbed; only a complete store outage (no shard list
// at all) surfaces as an error.
func (o *Orchestrator) Retrieve(ctx context.Context, question models.Question, vector []float32) (*Result, error) {
	start := time.Now()
	params := ParamsFor(question.Mode)

	var result *Result
	var err error
	if o.unifiedID != "" {
		result, err = o.retrieveUnified(ctx, params, vector)
	} else {
		result, err = o.retrieveSharded(ctx, params, vector)
	}

	latency := time.Since(start)
	o.metrics.observe(result, latency)
	if latency > slowRetrievalThreshold {
		log.Warn().
			Dur("latency", latency).
			Str("mode", string(question.Mode)).
			Str("trace_id", question.TraceID).
			Msg("Slow retrieval")
	}
	return result, err
}

// retrieveUnified queries the single consolidated collection.
func (o *Orchestrator) retrieveUnified(ctx context.Context, params Params, vector []float32) (*Result, error) {
	qctx, cancel := context.WithTimeout(ctx, params.PerShardTimeout)
	defer cancel()

	candidates, err := o.store.QueryCollection(qctx, o.unifiedID, vector, params.FinalTopK)
	if err != nil {
		// Per-collection failure is non-fatal even on the unified
		// path: degrade to an empty result.
		return &Result{
			ShardsQueried:    1,
			ShardFailures:    1,
			DeadlineExceeded: true,
		}, nil
	}

	m := newMerger(params.FinalTopK)
	m.Add(candidates)
	return &Result{
		Candidates:    m.Results(),
		ShardsQueried: 1,
	}, nil
}

// retrieveSharded fans the query out across the selected shards with
// a bounded worker pool, merging completions into a bounded heap and
// cancelling outstanding work once the early-stop threshold is met.
func (o *Orchestrator) retrieveSharded(ctx context.Context, params Params, vector []float32) (*Result, error) {
	shards, err := o.store.ListShards(ctx, false)
	if err != nil {
		return nil, err
	}

	selected := selectShards(shards, params.ShardCap)
	if len(selected) == 0 {
		return &Result{}, nil
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newMerger(params.FinalTopK)
	var failures atomic.Int64
	var dropped atomic.Int64
	var earlyStopped atomic.Bool
	var stopOnce sync.Once

	g := new(errgroup.Group)
	g.SetLimit(params.Workers())

	for _, shard := range selected {
		g.Go(func() error {
			// Queued work that outlived the stop signal is dropped
			// before it dispatches.
			if fanCtx.Err() != nil {
				dropped.Add(1)
				return nil
			}

			qctx, qcancel := context.WithTimeout(fanCtx, params.PerShardTimeout)
			defer qcancel()

			candidates, qerr := o.store.QueryCollection(qctx, shard.ID, vector, params.KPerShard)
			if qerr != nil {
				// Cancellation from early stop or the deadline is not
				// a shard failure.
				if errors.Is(qerr, context.Canceled) || fanCtx.Err() != nil {
					dropped.Add(1)
					return nil
				}
				failures.Add(1)
				return nil
			}

			// Cancelled work never writes to the heap.
			if fanCtx.Err() != nil {
				dropped.Add(1)
				return nil
			}

			received := m.Add(candidates)
			if params.EarlyStop > 0 && received >= params.EarlyStop {
				stopOnce.Do(func() {
					earlyStopped.Store(true)
					cancel()
				})
			}
			return nil
		})
	}

	_ = g.Wait() // workers never return errors; failures are counted

	failed := int(failures.Load())
	queried := len(selected) - int(dropped.Load())
	result := &Result{
		Candidates:    m.Results(),
		ShardsQueried: queried,
		ShardFailures: failed,
		EarlyStopped:  earlyStopped.Load(),
	}

	// Degraded when the budget fired mid-flight, or every dispatched
	// shard failed. Early stop is a success, not an overrun.
	if !earlyStopped.Load() && ctx.Err() != nil {
		result.DeadlineExceeded = true
	}
	if queried > 0 && failed == queried {
		result.DeadlineExceeded = true
	}
	if failed > 0 {
		log.Warn().
			Int("failed", failed).
			Int("queried", queried).
			Msg("Partial shard failure during fan-out")
	}
	return result, nil
}

// selectShards picks up to limit shards deterministically: stable
// order by FNV-64a hash of the shard name, ties by name, then the
// prefix. Repeated queries therefore see a consistent shard subset.
func selectShards(shards []models.Shard, limit int) []models.Shard {
	selected := make([]models.Shard, len(shards))
	copy(selected, shards)
	sortShards(selected)
	if limit > 0 && limit < len(selected) {
		selected = selected[:limit]
	}
	return selected
}

func sortShards(shards []models.Shard) {
	sort.Slice(shards, func(i, j int) bool {
		hi, hj := shardHash(shards[i].Name), shardHash(shards[j].Name)
		if hi != hj {
			return hi < hj
		}
		return shards[i].Name < shards[j].Name
	})
}

func shardHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
