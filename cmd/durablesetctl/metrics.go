package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metailurini/durableset/durableset"
)

// workloadMetrics is the set of counters the CLI exposes on -metrics-addr,
// grounded on the pack's decorator idiom of wrapping a service interface
// with an instrumented one that delegates everything but the counted
// methods unchanged.
type workloadMetrics struct {
	inserts, removes, contains, hits, misses prometheus.Counter
}

func newWorkloadMetrics() *workloadMetrics {
	m := &workloadMetrics{
		inserts:  prometheus.NewCounter(prometheus.CounterOpts{Name: "durableset_inserts_total"}),
		removes:  prometheus.NewCounter(prometheus.CounterOpts{Name: "durableset_removes_total"}),
		contains: prometheus.NewCounter(prometheus.CounterOpts{Name: "durableset_contains_total"}),
		hits:     prometheus.NewCounter(prometheus.CounterOpts{Name: "durableset_operations_hit_total"}),
		misses:   prometheus.NewCounter(prometheus.CounterOpts{Name: "durableset_operations_miss_total"}),
	}
	prometheus.MustRegister(m.inserts, m.removes, m.contains, m.hits, m.misses)
	return m
}

// instrumentedSet wraps a durableset.Set[T], incrementing counters around
// each operation while delegating the actual work unchanged.
type instrumentedSet[T any] struct {
	inner   durableset.Set[T]
	metrics *workloadMetrics
}

func instrument[T any](inner durableset.Set[T], m *workloadMetrics) durableset.Set[T] {
	return &instrumentedSet[T]{inner: inner, metrics: m}
}

func (s *instrumentedSet[T]) Insert(key int64, item T, writerID int) bool {
	s.metrics.inserts.Inc()
	ok := s.inner.Insert(key, item, writerID)
	countHitMiss(s.metrics, ok)
	return ok
}

func (s *instrumentedSet[T]) Remove(key int64) bool {
	s.metrics.removes.Inc()
	ok := s.inner.Remove(key)
	countHitMiss(s.metrics, ok)
	return ok
}

func (s *instrumentedSet[T]) Contains(key int64) bool {
	s.metrics.contains.Inc()
	return s.inner.Contains(key)
}

func (s *instrumentedSet[T]) Recover(newBudget []int) durableset.RecoverReport {
	return s.inner.Recover(newBudget)
}

func (s *instrumentedSet[T]) Free() { s.inner.Free() }

func countHitMiss(m *workloadMetrics, ok bool) {
	if ok {
		m.hits.Inc()
		return
	}
	m.misses.Inc()
}

// registerLockFreeStats exposes a lock-free variant's CAS retry/success,
// flush, and help counters as gauges scraped on demand, when the set
// backing durableset.Set[T] implements durableset.StatsProvider (Link-Free,
// SOFT). Sequential, Lock, and MRLockSet have no such counters and are
// silently skipped.
func registerLockFreeStats(set interface{}) {
	sp, ok := set.(durableset.StatsProvider)
	if !ok {
		return
	}
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "durableset_cas_retries_total"},
			func() float64 { v, _, _, _ := sp.Stats(); return float64(v) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "durableset_cas_successes_total"},
			func() float64 { _, v, _, _ := sp.Stats(); return float64(v) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "durableset_flushes_total"},
			func() float64 { _, _, v, _ := sp.Stats(); return float64(v) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "durableset_helps_total"},
			func() float64 { _, _, _, v := sp.Stats(); return float64(v) },
		),
	)
}

// runMetricsServer serves /metrics on addr until the process exits. An
// empty addr disables the endpoint entirely rather than erroring, matching
// the pack's discard-on-empty-configuration idiom.
func runMetricsServer(addr string, logger log.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			level.Error(logger).Log("msg", "metrics server exited", "err", err)
		}
	}()
}
