package durable

import "sync/atomic"

// SoftCell is the SOFT-flavor durable record: a cell is live iff ValidStart
// and ValidEnd are both set and Deleted is clear. The pair of valid bits
// surrounds the payload write so a crash between them leaves a cell that
// will not be admitted on recovery, without requiring a cell-level CAS.
type SoftCell[T any] struct {
	Key        int64
	Item       T
	ValidStart bool
	ValidEnd   bool
	Deleted    bool
}

// IsLive reports whether the cell currently represents a present key.
func (c *SoftCell[T]) IsLive() bool {
	return c.ValidStart && c.ValidEnd && !c.Deleted
}

// SoftStore is the SOFT-flavor arena, identical in shape to Store but
// carrying the three-boolean validity encoding instead of the
// bit-mask/next-tombstone encoding.
type SoftStore[T any] struct {
	cells     [][]SoftCell[T]
	cursors   []atomic.Int64
	ascending []bool
}

// NewSoftStore allocates a SOFT arena with perWriterBudget[w] cells for
// writer w.
func NewSoftStore[T any](perWriterBudget []int) *SoftStore[T] {
	s := &SoftStore[T]{
		cells:     make([][]SoftCell[T], len(perWriterBudget)),
		cursors:   make([]atomic.Int64, len(perWriterBudget)),
		ascending: make([]bool, len(perWriterBudget)),
	}
	for w, budget := range perWriterBudget {
		s.cells[w] = make([]SoftCell[T], budget)
		s.cursors[w].Store(int64(budget) - 1)
	}
	return s
}

// NumWriters returns the number of writer partitions in the arena.
func (s *SoftStore[T]) NumWriters() int { return len(s.cells) }

// Resize reallocates the arena to newBudget[w] cells per writer and puts
// every writer into ascending issuance mode starting at index 0.
func (s *SoftStore[T]) Resize(newBudget []int) {
	s.cells = make([][]SoftCell[T], len(newBudget))
	s.cursors = make([]atomic.Int64, len(newBudget))
	s.ascending = make([]bool, len(newBudget))
	for w, budget := range newBudget {
		s.cells[w] = make([]SoftCell[T], budget)
		s.ascending[w] = true
	}
}

// RetrieveAddress returns writer's current free cursor, or ok=false once the
// writer has exhausted its budget.
func (s *SoftStore[T]) RetrieveAddress(writerID int) (index int, ok bool) {
	idx := s.cursors[writerID].Load()
	if s.ascending[writerID] {
		if idx >= int64(len(s.cells[writerID])) {
			return 0, false
		}
		return int(idx), true
	}
	if idx < 0 {
		return 0, false
	}
	return int(idx), true
}

// UpdateAddress consumes the cursor returned by the most recent
// RetrieveAddress call for writerID.
func (s *SoftStore[T]) UpdateAddress(writerID int) {
	if s.ascending[writerID] {
		s.cursors[writerID].Add(1)
		return
	}
	s.cursors[writerID].Add(-1)
}

// MarkValidStart writes the key/item payload and sets ValidStart, the first
// half of PNode.create's release-ordered publication.
func (s *SoftStore[T]) MarkValidStart(key int64, item T, writerID, cellIndex int) {
	s.cells[writerID][cellIndex] = SoftCell[T]{Key: key, Item: item, ValidStart: true}
}

// MarkValidEnd completes PNode.create's publication.
func (s *SoftStore[T]) MarkValidEnd(writerID, cellIndex int) {
	s.cells[writerID][cellIndex].ValidEnd = true
}

// MarkDeleted implements PNode.destroy: set deleted and flush.
func (s *SoftStore[T]) MarkDeleted(writerID, cellIndex int) {
	s.cells[writerID][cellIndex].Deleted = true
}

// SoftRecoverReport is the result of a full SOFT arena scan-and-reset.
type SoftRecoverReport[T any] struct {
	Keys            []int64
	Items           []T
	WriterIDs       []int
	PerWriterCounts []int
	Total           int
}

// ReadResetMemory performs a linear scan of the entire arena, collecting
// every live cell, then unconditionally clears every cell. Single-threaded
// use only. Fixes the same inner/outer loop-index bug present in the
// bit-mask store's original source.
func (s *SoftStore[T]) ReadResetMemory() SoftRecoverReport[T] {
	report := SoftRecoverReport[T]{
		PerWriterCounts: make([]int, len(s.cells)),
	}
	for w := range s.cells {
		for j := range s.cells[w] {
			cell := &s.cells[w][j]
			if cell.IsLive() {
				report.Keys = append(report.Keys, cell.Key)
				report.Items = append(report.Items, cell.Item)
				report.WriterIDs = append(report.WriterIDs, w)
				report.PerWriterCounts[w]++
				report.Total++
			}
			*cell = SoftCell[T]{}
		}
		s.cursors[w].Store(0)
	}
	return report
}
