package durableset

import (
	"math/bits"
	"runtime"
	"sync/atomic"
)

type metricShard struct {
	casRetries   atomic.Int64
	casSuccesses atomic.Int64
	flushes      atomic.Int64
	helps        atomic.Int64
	// Pad to cache line size to prevent false sharing.
	_ [32]byte
}

// metrics is a sharded counter set for the lock-free variants (Link-Free,
// SOFT): CAS retries/successes, flush counts, and helping-thread counts. It
// is sharded across GOMAXPROCS(0) cache-line-padded shards, selected by an
// rng, to keep concurrent increments from a single contended cache line.
type metrics struct {
	shards []metricShard
	mask   uint32
	rng    *rng
}

func newMetrics() *metrics {
	shardCount := runtime.GOMAXPROCS(0)
	if shardCount < 1 {
		shardCount = 1
	}
	shardCount = nextPowerOfTwo(shardCount)
	return &metrics{
		shards: make([]metricShard, shardCount),
		mask:   uint32(shardCount - 1),
		rng:    newRNG(),
	}
}

func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

func (m *metrics) shard() *metricShard {
	if len(m.shards) == 1 {
		return &m.shards[0]
	}
	idx := uint32(m.rng.next64()) & m.mask
	return &m.shards[idx]
}

func (m *metrics) IncCASRetry()   { m.shard().casRetries.Add(1) }
func (m *metrics) IncCASSuccess() { m.shard().casSuccesses.Add(1) }
func (m *metrics) IncFlush()      { m.shard().flushes.Add(1) }
func (m *metrics) IncHelp()       { m.shard().helps.Add(1) }

// Stats returns the aggregate CAS retry/success, flush, and help counts
// across all shards, for the prometheus decorator in cmd/durablesetctl to
// expose as gauges.
func (m *metrics) Stats() (casRetries, casSuccesses, flushes, helps int64) {
	for i := range m.shards {
		casRetries += m.shards[i].casRetries.Load()
		casSuccesses += m.shards[i].casSuccesses.Load()
		flushes += m.shards[i].flushes.Load()
		helps += m.shards[i].helps.Load()
	}
	return
}
