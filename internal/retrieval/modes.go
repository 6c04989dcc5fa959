// Package retrieval implements the deadline-bounded retrieval
// orchestrator: unified-collection dispatch or concurrent shard
// fan-out with early stopping and bounded-heap merging.
package retrieval

import (
	"time"

	"github.com/askneu/askneu/pkg/models"
)

// maxWorkers caps concurrent in-flight shard queries per request.
const maxWorkers = 10

// Params is the retrieval discipline for one mode.
type Params struct {
	// ShardCap limits how many shards are queried; 0 means all.
	ShardCap int

	// KPerShard is the top-k requested from each shard.
	KPerShard int

	// PerShardTimeout bounds each individual shard query.
	PerShardTimeout time.Duration

	// EarlyStop cancels remaining shards once this many candidates
	// have accumulated; 0 disables early stopping.
	EarlyStop int

	// FinalTopK bounds the merged candidate list handed to ranking.
	FinalTopK int
}

// Workers returns the fan-out worker pool size for these params.
func (p Params) Workers() int {
	if p.ShardCap > 0 && p.ShardCap < maxWorkers {
		return p.ShardCap
	}
	return maxWorkers
}

// ParamsFor returns the retrieval discipline for a mode.
func ParamsFor(mode models.Mode) Params {
	switch mode {
	case models.ModeUltraFast:
		return Params{
			ShardCap:        50,
			KPerShard:       3,
			PerShardTimeout: time.Second,
			EarlyStop:       10,
			FinalTopK:       15,
		}
	case models.ModeBalanced:
		return Params{
			ShardCap:        500,
			KPerShard:       5,
			PerShardTimeout: 1200 * time.Millisecond,
			EarlyStop:       40,
			FinalTopK:       40,
		}
	case models.ModeComprehensive:
		return Params{
			ShardCap:        0,
			KPerShard:       5,
			PerShardTimeout: 1500 * time.Millisecond,
			EarlyStop:       0,
			FinalTopK:       60,
		}
	default: // ModeFast
		return Params{
			ShardCap:        200,
			KPerShard:       3,
			PerShardTimeout: time.Second,
			EarlyStop:       20,
			FinalTopK:       30,
		}
	}
}
