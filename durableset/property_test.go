package durableset

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type setOp struct {
	insert bool
	key    int64
}

// opsGen builds a bounded sequence of (insert/remove, key) operations drawn
// from a small key space, so collisions (duplicate inserts, removes of
// absent keys) are exercised often.
func opsGen() gopter.Gen {
	return gen.SliceOfN(40, gen.Int64Range(1, 30)).Map(func(keys []int64) []setOp {
		ops := make([]setOp, len(keys))
		for i, k := range keys {
			ops[i] = setOp{insert: k%2 == 0, key: k}
		}
		return ops
	})
}

// TestSequentialSortednessAndCorrespondenceHold checks, for randomly
// generated operation sequences, that the sortedness invariant and the
// durable/volatile correspondence invariant both hold at quiescence.
func TestSequentialSortednessAndCorrespondenceHold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sortedness and durable/volatile correspondence", prop.ForAll(
		func(ops []setOp) bool {
			s, store := newSequentialForTest(t, []int{len(ops) + 1})

			for _, op := range ops {
				if op.insert {
					s.Insert(op.key, int(op.key), 0)
				} else {
					s.Remove(op.key)
				}
			}

			keys := s.keys()
			for i := 1; i < len(keys); i++ {
				if keys[i-1] >= keys[i] {
					return false
				}
			}

			live := make(map[int64]bool)
			report := store.ReadResetMemory()
			for _, k := range report.Keys {
				live[k] = true
			}
			for _, k := range keys {
				if !live[k] {
					return false
				}
			}
			return len(live) == len(keys)
		},
		opsGen(),
	))

	properties.TestingRun(t)
}
