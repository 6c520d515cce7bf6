package durableset

import (
	"sync"
	"testing"

	"github.com/metailurini/durableset/durable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSOFTForTest(t *testing.T, budget []int) (*SOFT[int], *durable.SoftStore[int]) {
	t.Helper()
	store := durable.NewSoftStore[int](budget)
	return NewSOFT[int](Config{NumWriters: len(budget), PerWriterBudget: budget}, store), store
}

func (s *SOFT[T]) keys() []int64 {
	var out []int64
	cur, _ := s.head.loadNext()
	for cur != s.tail1 && cur != s.tail2 {
		next, state := cur.loadNext()
		if state != stateDeleted {
			out = append(out, cur.key)
		}
		cur = next
	}
	return out
}

func TestSOFTEmptySet(t *testing.T) {
	s, _ := newSOFTForTest(t, []int{10})
	assert.False(t, s.Contains(5))
	assert.False(t, s.Remove(5))
}

func TestSOFTInsertContainsRemoveRoundTrip(t *testing.T) {
	s, _ := newSOFTForTest(t, []int{10})
	require.True(t, s.Insert(1, 1, 0))
	require.True(t, s.Insert(2, 2, 0))
	assert.False(t, s.Insert(1, 99, 0))
	require.True(t, s.Remove(1))
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(2))
	assert.False(t, s.Remove(1))
}

// TestSOFTConcurrentInsertOfSameKeyOnlyOneWinnerReturnsTrue models end-to-
// end scenario: writer A begins insert(9) (state INTEND_TO_INSERT) and
// writer B concurrently calls insert(9); exactly one of the two calls must
// return true, and the key must be present once both have returned.
func TestSOFTConcurrentInsertOfSameKeyOnlyOneWinnerReturnsTrue(t *testing.T) {
	const trials = 50
	for trial := 0; trial < trials; trial++ {
		s, _ := newSOFTForTest(t, []int{2, 2})

		var wg sync.WaitGroup
		results := make([]bool, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0] = s.Insert(9, 90, 0)
		}()
		go func() {
			defer wg.Done()
			results[1] = s.Insert(9, 91, 1)
		}()
		wg.Wait()

		require.Equal(t, 1, countTrue(results), "exactly one concurrent insert of the same key must win")
		assert.True(t, s.Contains(9))
	}
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func TestSOFTRemoveRaceOnlyOneWinner(t *testing.T) {
	s, _ := newSOFTForTest(t, []int{5, 5})
	require.True(t, s.Insert(4, 40, 0))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = s.Remove(4) }()
	go func() { defer wg.Done(); results[1] = s.Remove(4) }()
	wg.Wait()

	assert.Equal(t, 1, countTrue(results))
	assert.False(t, s.Contains(4))
}

func TestSOFTRecoverReconstructsLiveCells(t *testing.T) {
	s, _ := newSOFTForTest(t, []int{5})
	s.Insert(1, 1, 0)
	s.Insert(2, 2, 0)
	s.Remove(1)

	report := s.Recover([]int{5})
	assert.ElementsMatch(t, []int64{2}, report.DurableKeys)
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(1))
}

func TestSOFTSentinelKeysStable(t *testing.T) {
	s, _ := newSOFTForTest(t, []int{5})
	assert.Equal(t, int64(MinKey), s.head.key)
	assert.Equal(t, int64(MaxKey), s.tail1.key)
	assert.Equal(t, int64(MaxKey+1), s.tail2.key)
}
