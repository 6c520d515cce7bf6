// Package durableset implements a family of durable concurrent sorted sets
// keyed by signed 64-bit integers. Every variant records each logical
// mutation into a simulated durable store (package durable) so the set can
// be reconstructed from that store alone after a simulated crash.
package durableset

// MinKey and MaxKey bound the open interval of keys a caller may insert.
// They double as the head and tail sentinel keys. They are package-level
// constants shared by every set; Config does not carry them, so every set
// instance uses the same key range.
const (
	MinKey = -100000
	MaxKey = 100000
)

// Config is the immutable configuration shared by every set variant.
type Config struct {
	// NumWriters is the number of writer identities the set partitions its
	// volatile node pool and durable arena by.
	NumWriters int
	// PerWriterBudget upper-bounds writer w's successful inserts.
	PerWriterBudget []int
}

// TotalBudget returns the sum of every writer's budget.
func (c Config) TotalBudget() int {
	total := 0
	for _, b := range c.PerWriterBudget {
		total += b
	}
	return total
}

// Set is the common contract every durable set variant implements.
type Set[T any] interface {
	// Insert adds key/item under writerID's identity, returning true if the
	// key was not already present.
	Insert(key int64, item T, writerID int) bool
	// Remove deletes key, returning true if it was present.
	Remove(key int64) bool
	// Contains reports whether key is currently present.
	Contains(key int64) bool
	// Recover discards all volatile state and reconstructs the set from the
	// durable store alone, using newBudget as each writer's post-recovery
	// insert budget.
	Recover(newBudget []int) RecoverReport
	// Free releases the volatile pools and sentinels.
	Free()
}

// StatsProvider is implemented by the lock-free variants (Link-Free, SOFT),
// which track CAS retry/success, flush, and helping-thread counts. Sequential,
// Lock, and MRLockSet mutate under a lock or single-threaded and have no
// such counters to report.
type StatsProvider interface {
	Stats() (casRetries, casSuccesses, flushes, helps int64)
}

// RecoverReport carries the diagnostic snapshots recover takes before
// discarding volatile state: the keys that were reachable in the volatile
// list immediately before recovery, and the keys recovered from the durable
// arena. Recover's outcome never depends on this report.
type RecoverReport struct {
	VolatileKeysBefore []int64
	DurableKeys        []int64
}
