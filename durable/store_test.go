package durable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRetrieveAddressDescendsThenExhausts(t *testing.T) {
	s := NewStore[int]([]int{3})

	idx, ok := s.RetrieveAddress(0)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	s.UpdateAddress(0)
	idx, ok = s.RetrieveAddress(0)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	s.UpdateAddress(0)
	s.UpdateAddress(0)
	_, ok = s.RetrieveAddress(0)
	assert.False(t, ok, "writer budget should be exhausted")
}

func TestStoreFlushAndIsLive(t *testing.T) {
	s := NewStore[int]([]int{2})

	idx, ok := s.RetrieveAddress(0)
	require.True(t, ok)

	s.FlushPrepared(42, 7, 0, 0, idx)
	assert.False(t, s.cells[0][idx].IsLive(), "insert-prepared-only cell must not be live")

	s.MarkInsertCommitted(0, idx)
	assert.True(t, s.cells[0][idx].IsLive())

	s.MarkDeleted(0, idx)
	assert.False(t, s.cells[0][idx].IsLive(), "tombstoned cell must not be live")
}

func TestStoreReadResetMemoryCollectsLiveCellsAndClearsArena(t *testing.T) {
	s := NewStore[int]([]int{2, 2})

	idx0, _ := s.RetrieveAddress(0)
	s.FlushPrepared(10, 100, 0, 0, idx0)
	s.MarkInsertCommitted(0, idx0)
	s.UpdateAddress(0)

	idx1, _ := s.RetrieveAddress(1)
	s.FlushPrepared(20, 200, 0, 1, idx1)
	s.MarkInsertCommitted(1, idx1)
	s.UpdateAddress(1)

	report := s.ReadResetMemory()
	require.Equal(t, 2, report.Total)
	assert.ElementsMatch(t, []int64{10, 20}, report.Keys)
	assert.Equal(t, []int{1, 1}, report.PerWriterCounts)

	for w := range s.cells {
		for j := range s.cells[w] {
			assert.False(t, s.cells[w][j].IsLive())
		}
	}
}

func TestStoreResizeSwitchesToAscendingIssuance(t *testing.T) {
	s := NewStore[int]([]int{1})
	s.Resize([]int{3})

	idx, ok := s.RetrieveAddress(0)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	s.UpdateAddress(0)
	idx, ok = s.RetrieveAddress(0)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	s.UpdateAddress(0)
	s.UpdateAddress(0)
	_, ok = s.RetrieveAddress(0)
	assert.False(t, ok)
}

func TestSoftStoreFlushAndIsLive(t *testing.T) {
	s := NewSoftStore[string]([]int{2})

	idx, ok := s.RetrieveAddress(0)
	require.True(t, ok)

	s.MarkValidStart(5, "five", 0, idx)
	assert.False(t, s.cells[0][idx].IsLive(), "a cell with only ValidStart must not be live")

	s.MarkValidEnd(0, idx)
	assert.True(t, s.cells[0][idx].IsLive())

	s.MarkDeleted(0, idx)
	assert.False(t, s.cells[0][idx].IsLive())
}

func TestSoftStoreReadResetMemory(t *testing.T) {
	s := NewSoftStore[string]([]int{2})

	idx, _ := s.RetrieveAddress(0)
	s.MarkValidStart(9, "nine", 0, idx)
	s.MarkValidEnd(0, idx)
	s.UpdateAddress(0)

	report := s.ReadResetMemory()
	require.Equal(t, 1, report.Total)
	assert.Equal(t, int64(9), report.Keys[0])
	assert.Equal(t, "nine", report.Items[0])
}
