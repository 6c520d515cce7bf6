package durableset

import (
	"sync/atomic"

	"github.com/metailurini/durableset/durable"
)

// lfLink is the immutable value swapped behind an atomic.Pointer to realize
// the source's single-word CAS over "next pointer + tombstone bit": a CAS
// of *lfLink plays the role of a CAS over a tagged std::uintptr_t, without
// resorting to unsafe pointer-bit tricks.
type lfLink[T any] struct {
	next   *lfNode[T]
	marked bool
}

// validBits flags: bit 0 = insert prepared, bit 1 = insert committed.
const (
	validInsertPrepared  = 1 << 0
	validInsertCommitted = 1 << 1
)

type lfNode[T any] struct {
	key  int64
	item T
	link atomic.Pointer[lfLink[T]]

	// validBits bit 0 = insert prepared, bit 1 = insert committed.
	validBits     atomic.Uint32
	insertFlushed atomic.Bool
	deleteFlushed atomic.Bool

	writerID  int
	cellIndex int
}

func (n *lfNode[T]) loadNext() (next *lfNode[T], marked bool) {
	l := n.link.Load()
	return l.next, l.marked
}

func (n *lfNode[T]) storeNext(next *lfNode[T], marked bool) {
	n.link.Store(&lfLink[T]{next: next, marked: marked})
}

func (n *lfNode[T]) casNext(oldNext *lfNode[T], oldMarked bool, newNext *lfNode[T], newMarked bool) bool {
	old := n.link.Load()
	if old.next != oldNext || old.marked != oldMarked {
		return false
	}
	return n.link.CompareAndSwap(old, &lfLink[T]{next: newNext, marked: newMarked})
}

// LinkFree is the lock-free sorted list: tombstoning is a marked bit CAS'd
// atomically alongside the next pointer, and a duplicate insert helps flush
// whatever a crashed inserter may have missed.
type LinkFree[T any] struct {
	cfg     Config
	store   *durable.Store[T]
	metrics *metrics

	head, tail *lfNode[T]
	pool       [][]*lfNode[T]
	allocIndex []int
}

// NewLinkFree constructs a Link-Free set over store.
func NewLinkFree[T any](cfg Config, store *durable.Store[T]) *LinkFree[T] {
	l := &LinkFree[T]{cfg: cfg, store: store, metrics: newMetrics()}
	l.resetVolatile(cfg.PerWriterBudget)
	return l
}

// Stats implements StatsProvider.
func (l *LinkFree[T]) Stats() (casRetries, casSuccesses, flushes, helps int64) {
	return l.metrics.Stats()
}

func (l *LinkFree[T]) resetVolatile(budget []int) {
	l.head = &lfNode[T]{key: MinKey}
	l.tail = &lfNode[T]{key: MaxKey}
	l.head.storeNext(l.tail, false)
	l.tail.storeNext(nil, false)

	l.pool = make([][]*lfNode[T], len(budget))
	l.allocIndex = make([]int, len(budget))
	for w, b := range budget {
		l.pool[w] = make([]*lfNode[T], b)
		for i := range l.pool[w] {
			l.pool[w][i] = &lfNode[T]{}
			l.pool[w][i].storeNext(nil, false)
		}
		l.allocIndex[w] = b - 1
	}
}

// find locates (previous, current) such that previous.key < key <=
// current.key, trimming any tombstoned nodes it encounters so later
// readers don't pay for earlier garbage.
func (l *LinkFree[T]) find(key int64) (previous, current *lfNode[T]) {
retry:
	previous = l.head
	prevNext, _ := previous.loadNext()
	current = prevNext

	for {
		currNext, marked := current.loadNext()
		for marked {
			if !previous.casNext(current, false, currNext, false) {
				goto retry
			}
			l.metrics.IncHelp()
			current = currNext
			currNext, marked = current.loadNext()
		}
		if current.key >= key {
			return previous, current
		}
		previous = current
		current = currNext
	}
}

func (l *LinkFree[T]) flushInsert(n *lfNode[T]) {
	if n.insertFlushed.CompareAndSwap(false, true) {
		l.store.FlushPrepared(n.key, n.item, 0, n.writerID, n.cellIndex)
		l.store.MarkInsertCommitted(n.writerID, n.cellIndex)
		l.metrics.IncFlush()
	}
}

func (l *LinkFree[T]) flushDelete(n *lfNode[T]) {
	if n.deleteFlushed.CompareAndSwap(false, true) {
		l.store.MarkDeleted(n.writerID, n.cellIndex)
		l.metrics.IncFlush()
	}
}

func (l *LinkFree[T]) makeValid(n *lfNode[T]) {
	for {
		old := n.validBits.Load()
		if old&validInsertCommitted != 0 {
			return
		}
		if n.validBits.CompareAndSwap(old, old|validInsertCommitted) {
			return
		}
	}
}

// Insert adds key/item under writerID's identity. A duplicate key does not
// return false silently: it helps finish publishing whatever another
// thread's node may still be missing, so the durable store converges even
// if the original inserter crashed mid-flush.
func (l *LinkFree[T]) Insert(key int64, item T, writerID int) bool {
	idx := l.allocIndex[writerID]
	if idx < 0 {
		return false
	}
	cellIndex, ok := l.store.RetrieveAddress(writerID)
	if !ok {
		return false
	}
	newNode := l.pool[writerID][idx]

	for {
		previous, current := l.find(key)
		if current.key == key {
			l.makeValid(current)
			l.flushInsert(current)
			return false
		}

		newNode.key = key
		newNode.item = item
		newNode.writerID = writerID
		newNode.cellIndex = cellIndex
		newNode.validBits.Store(validInsertPrepared)
		newNode.insertFlushed.Store(false)
		newNode.deleteFlushed.Store(false)
		newNode.storeNext(current, false)

		if previous.casNext(current, false, newNode, false) {
			l.makeValid(newNode)
			l.flushInsert(newNode)
			l.allocIndex[writerID]--
			l.store.UpdateAddress(writerID)
			l.metrics.IncCASSuccess()
			return true
		}
		l.metrics.IncCASRetry()
	}
}

// Contains reports whether key is currently present. When it finds the key
// it helps flush that node's insert (unmarked) or delete (marked); each
// flush happens at most once per node, so reads make durability progress
// too.
func (l *LinkFree[T]) Contains(key int64) bool {
	current := l.head
	curNext, _ := current.loadNext()
	current = curNext
	for current.key < key {
		n, _ := current.loadNext()
		current = n
	}
	if current.key != key {
		return false
	}
	_, marked := current.loadNext()
	if !marked {
		l.makeValid(current)
		l.flushInsert(current)
		return true
	}
	l.flushDelete(current)
	return false
}

// Remove deletes key if present.
func (l *LinkFree[T]) Remove(key int64) bool {
	for {
		previous, current := l.find(key)
		if current.key != key {
			return false
		}
		l.makeValid(current)

		successor, marked := current.loadNext()
		if marked {
			return false
		}
		if !current.casNext(successor, false, successor, true) {
			l.metrics.IncCASRetry()
			continue
		}
		l.metrics.IncCASSuccess()
		l.flushDelete(current)
		l.trim(previous, current, successor)
		return true
	}
}

// trim physically unlinks a tombstoned node. Failure is not retried here:
// whoever next traverses past it via find will trim it instead.
func (l *LinkFree[T]) trim(previous, current, successor *lfNode[T]) {
	previous.casNext(current, false, successor, false)
}

// Recover discards volatile state and reconstructs the set from the
// durable store.
func (l *LinkFree[T]) Recover(newBudget []int) RecoverReport {
	var before []int64
	cur, _ := l.head.loadNext()
	for cur != l.tail {
		next, marked := cur.loadNext()
		if !marked {
			before = append(before, cur.key)
		}
		cur = next
	}

	report := l.store.ReadResetMemory()
	grown := make([]int, len(newBudget))
	for w := range newBudget {
		grown[w] = newBudget[w] + report.PerWriterCounts[w]
	}
	l.store.Resize(grown)
	l.resetVolatile(grown)

	for i := 0; i < report.Total; i++ {
		l.Insert(report.Keys[i], report.Items[i], report.WriterIDs[i])
	}

	return RecoverReport{VolatileKeysBefore: before, DurableKeys: report.Keys}
}

// Free releases the volatile pools and sentinels.
func (l *LinkFree[T]) Free() {
	l.head, l.tail = nil, nil
	l.pool = nil
}
