package durableset

import (
	"sync"
	"testing"

	"github.com/metailurini/durableset/durable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMRLockSetForTest(t *testing.T, budget []int) (*MRLockSet[int], *durable.Store[int]) {
	t.Helper()
	store := durable.NewStore[int](budget)
	return NewMRLockSet[int](Config{NumWriters: len(budget), PerWriterBudget: budget}, store), store
}

func (m *MRLockSet[T]) keys() []int64 {
	var out []int64
	for n := m.head.next; n != m.tail; n = n.next {
		if !n.deleted {
			out = append(out, n.key)
		}
	}
	return out
}

func TestMRLockSetEmptySet(t *testing.T) {
	m, _ := newMRLockSetForTest(t, []int{10})
	assert.False(t, m.Contains(5))
	assert.False(t, m.Remove(5))
}

func TestMRLockSetInsertContainsRemoveRoundTrip(t *testing.T) {
	m, _ := newMRLockSetForTest(t, []int{10})
	require.True(t, m.Insert(1, 1, 0))
	require.True(t, m.Insert(2, 2, 0))
	assert.False(t, m.Insert(1, 99, 0))
	require.True(t, m.Remove(1))
	assert.False(t, m.Contains(1))
	assert.True(t, m.Contains(2))
}

func TestMRLockSetConcurrentInsertsAcrossWritersConverge(t *testing.T) {
	m, _ := newMRLockSetForTest(t, []int{100, 100, 100})

	var wg sync.WaitGroup
	writers := [][]int64{
		{1, 4, 7, 10},
		{2, 5, 8, 11},
		{3, 6, 9, 12},
	}
	for w, keys := range writers {
		wg.Add(1)
		go func(w int, keys []int64) {
			defer wg.Done()
			for _, k := range keys {
				m.Insert(k, int(k), w)
			}
		}(w, keys)
	}
	wg.Wait()

	got := m.keys()
	require.Len(t, got, 12)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestMRLockSetRecover(t *testing.T) {
	m, _ := newMRLockSetForTest(t, []int{5, 5})
	m.Insert(1, 1, 0)
	m.Insert(2, 2, 1)
	m.Remove(1)

	report := m.Recover([]int{5, 5})
	assert.ElementsMatch(t, []int64{2}, report.DurableKeys)
	assert.Equal(t, []int64{2}, m.keys())
}
