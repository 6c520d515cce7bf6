// Command durablesetctl drives a durableset.Set variant with a randomized
// workload: the external collaborator the core durableset package leaves
// out of scope (argument validation, workload generation, elapsed-time
// measurement).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/metailurini/durableset/durable"
	"github.com/metailurini/durableset/durableset"
)

const itemRange = 10

type params struct {
	variant      string
	ops          int
	insertChance int
	removeChance int
	writers      int
	loglevel     string
	metricsAddr  string
}

func parseParams() params {
	p := params{}
	flag.StringVar(&p.variant, "variant", "linkfree", "Set variant to drive: sequential|lock|mrlock|linkfree|soft.")
	flag.IntVar(&p.ops, "ops", 10000, "Total number of operations across all writers.")
	flag.IntVar(&p.insertChance, "insert-chance", 6, "Chance out of 10 that a chosen operation is an insert.")
	flag.IntVar(&p.removeChance, "remove-chance", 3, "Chance out of 10 that a chosen operation is a remove.")
	flag.IntVar(&p.writers, "writers", 4, "Number of concurrent writer goroutines.")
	flag.StringVar(&p.loglevel, "loglevel", "info", "Logging level: debug|info|warn|error.")
	flag.StringVar(&p.metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address.")
	flag.Parse()
	return p
}

func (p params) validate() error {
	if p.ops < 5 || p.ops > 150000 {
		return errors.Errorf("ops must be in [5, 150000], got %d", p.ops)
	}
	if p.insertChance < 3 || p.insertChance > 10 {
		return errors.Errorf("insert-chance must be in [3, 10], got %d", p.insertChance)
	}
	if p.removeChance < 0 || p.removeChance > 6 {
		return errors.Errorf("remove-chance must be in [0, 6], got %d", p.removeChance)
	}
	if p.insertChance+p.removeChance > 10 {
		return errors.Errorf("insert-chance + remove-chance must be <= 10, got %d", p.insertChance+p.removeChance)
	}
	if p.writers < 1 {
		return errors.Errorf("writers must be >= 1, got %d", p.writers)
	}
	return nil
}

func buildSet(variant string, budget []int) (durableset.Set[int], error) {
	cfg := durableset.Config{NumWriters: len(budget), PerWriterBudget: budget}
	switch variant {
	case "sequential":
		return durableset.NewSequential[int](cfg, durable.NewStore[int](budget)), nil
	case "lock":
		return durableset.NewLock[int](cfg, durable.NewStore[int](budget)), nil
	case "mrlock":
		return durableset.NewMRLockSet[int](cfg, durable.NewStore[int](budget)), nil
	case "linkfree":
		return durableset.NewLinkFree[int](cfg, durable.NewStore[int](budget)), nil
	case "soft":
		return durableset.NewSOFT[int](cfg, durable.NewSoftStore[int](budget)), nil
	default:
		return nil, errors.Errorf("unknown variant %q", variant)
	}
}

func runWorkload(set durableset.Set[int], p params) {
	opsPerWriter := p.ops / p.writers
	extra := p.ops % p.writers
	var wg sync.WaitGroup
	for w := 0; w < p.writers; w++ {
		n := opsPerWriter
		if w < extra {
			n++
		}
		wg.Add(1)
		go func(writerID, n int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(writerID)))
			for i := 0; i < n; i++ {
				key := int64(r.Intn(durableset.MaxKey-durableset.MinKey-2)) + durableset.MinKey + 1
				selector := r.Intn(10) + 1
				switch {
				case selector <= p.insertChance:
					item := r.Intn(itemRange + 1)
					set.Insert(key, item, writerID)
				case selector <= p.insertChance+p.removeChance:
					set.Remove(key)
				default:
					set.Contains(key)
				}
			}
		}(w, n)
	}
	wg.Wait()
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	p := parseParams()
	logger := initLogger(p.loglevel)

	if err := p.validate(); err != nil {
		level.Error(logger).Log("msg", "invalid arguments", "err", err)
		os.Exit(1)
	}

	runMetricsServer(p.metricsAddr, logger)
	metrics := newWorkloadMetrics()

	budget := make([]int, p.writers)
	perWriter := p.ops/p.writers + 1
	for i := range budget {
		budget[i] = perWriter
	}

	rawSet, err := buildSet(p.variant, budget)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build set", "err", err)
		os.Exit(1)
	}
	if p.metricsAddr != "" {
		registerLockFreeStats(rawSet)
	}
	set := instrument[int](rawSet, metrics)

	level.Info(logger).Log("msg", "starting workload",
		"variant", p.variant, "ops", p.ops, "writers", p.writers,
		"insert_chance", p.insertChance, "remove_chance", p.removeChance,
	)

	start := time.Now()
	runWorkload(set, p)
	elapsed := time.Since(start)

	level.Info(logger).Log("msg", "workload complete", "elapsed", elapsed.String())
	fmt.Fprintf(os.Stdout, "completed %d ops across %d writers in %s\n", p.ops, p.writers, elapsed)
}
