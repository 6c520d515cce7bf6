package durableset

import (
	"sync"

	"github.com/metailurini/durableset/durable"
)

type lockNode[T any] struct {
	mu      sync.Mutex
	key     int64
	item    T
	next    *lockNode[T]
	deleted bool

	writerID  int
	cellIndex int
}

// Lock is the fine-grained two-node validation lock variant: insert/remove
// lock previous then current, validate previous.next==current and current
// is not tombstoned, and retry on validation failure. Predecessor-then-
// successor acquisition order along the list total-orders lock acquisition
// and so cannot deadlock.
type Lock[T any] struct {
	cfg   Config
	store *durable.Store[T]

	head, tail *lockNode[T]

	mu          sync.Mutex // guards pool/allocIndex, which are per-writer but resized together on Recover
	pool        [][]*lockNode[T]
	allocIndex  []int
}

// NewLock constructs a Lock set over store.
func NewLock[T any](cfg Config, store *durable.Store[T]) *Lock[T] {
	l := &Lock[T]{cfg: cfg, store: store}
	l.resetVolatile(cfg.PerWriterBudget)
	return l
}

func (l *Lock[T]) resetVolatile(budget []int) {
	l.head = &lockNode[T]{key: MinKey}
	l.tail = &lockNode[T]{key: MaxKey}
	l.head.next = l.tail

	l.pool = make([][]*lockNode[T], len(budget))
	l.allocIndex = make([]int, len(budget))
	for w, b := range budget {
		l.pool[w] = make([]*lockNode[T], b)
		for i := range l.pool[w] {
			l.pool[w][i] = &lockNode[T]{}
		}
		l.allocIndex[w] = b - 1
	}
}

func (l *Lock[T]) find(key int64) (previous, current *lockNode[T]) {
	previous = l.head
	current = previous.next
	for current.key < key {
		previous = current
		current = current.next
	}
	return previous, current
}

func (l *Lock[T]) allocFromArea(writerID int) *lockNode[T] {
	l.mu.Lock()
	idx := l.allocIndex[writerID]
	l.mu.Unlock()
	if idx < 0 {
		return nil
	}
	cellIndex, ok := l.store.RetrieveAddress(writerID)
	if !ok {
		return nil
	}
	n := l.pool[writerID][idx]
	n.writerID = writerID
	n.cellIndex = cellIndex
	return n
}

func (l *Lock[T]) updateAlloc(writerID int) {
	l.mu.Lock()
	l.allocIndex[writerID]--
	l.mu.Unlock()
	l.store.UpdateAddress(writerID)
}

// Insert adds key/item under writerID's identity.
func (l *Lock[T]) Insert(key int64, item T, writerID int) bool {
	for {
		previous, current := l.find(key)

		previous.mu.Lock()
		current.mu.Lock()

		if previous.next != current || current.deleted {
			current.mu.Unlock()
			previous.mu.Unlock()
			continue
		}
		if current.key == key {
			current.mu.Unlock()
			previous.mu.Unlock()
			return false
		}

		newNode := l.allocFromArea(writerID)
		if newNode == nil {
			current.mu.Unlock()
			previous.mu.Unlock()
			return false
		}

		newNode.key = key
		newNode.item = item
		newNode.next = current
		newNode.deleted = false
		previous.next = newNode

		l.store.FlushPrepared(key, item, 0, newNode.writerID, newNode.cellIndex)
		l.store.MarkInsertCommitted(newNode.writerID, newNode.cellIndex)
		l.updateAlloc(writerID)

		current.mu.Unlock()
		previous.mu.Unlock()
		return true
	}
}

// Contains reports whether key is currently present. Unlocked: it accepts
// stale reads, which is safe because nodes are never freed between
// recovers.
func (l *Lock[T]) Contains(key int64) bool {
	current := l.head.next
	for current.key < key {
		current = current.next
	}
	return current.key == key && !current.deleted
}

// Remove deletes key if present.
func (l *Lock[T]) Remove(key int64) bool {
	for {
		previous, current := l.find(key)

		previous.mu.Lock()
		current.mu.Lock()

		if previous.next != current || current.deleted {
			current.mu.Unlock()
			previous.mu.Unlock()
			continue
		}
		if current.key != key {
			current.mu.Unlock()
			previous.mu.Unlock()
			return false
		}

		successor := current.next
		current.deleted = true
		previous.next = successor
		l.store.MarkDeleted(current.writerID, current.cellIndex)

		current.mu.Unlock()
		previous.mu.Unlock()
		return true
	}
}

// Recover discards volatile state and reconstructs the set from the
// durable store.
func (l *Lock[T]) Recover(newBudget []int) RecoverReport {
	var before []int64
	for n := l.head.next; n != l.tail; n = n.next {
		before = append(before, n.key)
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
func (l *Lock[T]) Free() {
	l.head, l.tail = nil, nil
	l.pool = nil
}
