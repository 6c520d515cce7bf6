package durableset

import "github.com/metailurini/durableset/durable"

type seqNode[T any] struct {
	key     int64
	item    T
	next    *seqNode[T]
	deleted bool

	writerID  int
	cellIndex int
}

// Sequential is the single-threaded baseline: no synchronization, no CAS,
// tombstoning a plain bool field rather than a pointer tag since mutation
// is never contended.
type Sequential[T any] struct {
	cfg   Config
	store *durable.Store[T]

	head, tail *seqNode[T]
	pool       []*seqNode[T]
	allocIndex int
}

// NewSequential constructs a Sequential set over store, pre-allocating
// TotalBudget() volatile nodes.
func NewSequential[T any](cfg Config, store *durable.Store[T]) *Sequential[T] {
	s := &Sequential[T]{cfg: cfg, store: store}
	s.resetVolatile(cfg.TotalBudget())
	return s
}

func (s *Sequential[T]) resetVolatile(poolSize int) {
	s.head = &seqNode[T]{key: MinKey}
	s.tail = &seqNode[T]{key: MaxKey}
	s.head.next = s.tail
	s.pool = make([]*seqNode[T], poolSize)
	for i := range s.pool {
		s.pool[i] = &seqNode[T]{}
	}
	s.allocIndex = poolSize - 1
}

func (s *Sequential[T]) find(key int64) (previous, current *seqNode[T]) {
	previous = s.head
	current = previous.next
	for current.key < key {
		previous = current
		current = current.next
	}
	return previous, current
}

// Insert adds key/item under writerID's identity.
func (s *Sequential[T]) Insert(key int64, item T, writerID int) bool {
	previous, current := s.find(key)
	if current.key == key && !current.deleted {
		return false
	}

	cellIndex, ok := s.store.RetrieveAddress(writerID)
	if !ok {
		return false
	}
	if s.allocIndex < 0 {
		return false
	}
	newNode := s.pool[s.allocIndex]
	s.allocIndex--

	newNode.key = key
	newNode.item = item
	newNode.next = current
	newNode.deleted = false
	newNode.writerID = writerID
	newNode.cellIndex = cellIndex

	s.store.FlushPrepared(key, item, 0, writerID, cellIndex)
	previous.next = newNode
	s.store.UpdateAddress(writerID)
	s.store.MarkInsertCommitted(writerID, cellIndex)
	return true
}

// Contains reports whether key is currently present.
func (s *Sequential[T]) Contains(key int64) bool {
	current := s.head.next
	for current.key < key {
		current = current.next
	}
	return current.key == key && !current.deleted
}

// Remove deletes key if present.
func (s *Sequential[T]) Remove(key int64) bool {
	previous, current := s.find(key)
	if current.key != key || current.deleted {
		return false
	}
	successor := current.next
	current.deleted = true
	previous.next = successor
	s.store.MarkDeleted(current.writerID, current.cellIndex)
	return true
}

// Recover discards volatile state and reconstructs the set from the
// durable store.
func (s *Sequential[T]) Recover(newBudget []int) RecoverReport {
	var before []int64
	for n := s.head.next; n != s.tail; n = n.next {
		before = append(before, n.key)
	}

	report := s.store.ReadResetMemory()
	grown := make([]int, len(newBudget))
	for w := range newBudget {
		grown[w] = newBudget[w] + report.PerWriterCounts[w]
	}
	s.store.Resize(grown)
	s.resetVolatile(sumInts(grown))

	for i := 0; i < report.Total; i++ {
		s.Insert(report.Keys[i], report.Items[i], report.WriterIDs[i])
	}

	return RecoverReport{VolatileKeysBefore: before, DurableKeys: report.Keys}
}

// Free releases the volatile pools and sentinels.
func (s *Sequential[T]) Free() {
	s.head, s.tail = nil, nil
	s.pool = nil
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
