package durableset

import (
	"github.com/metailurini/durableset/durable"
	"github.com/metailurini/durableset/mrlock"
)

type mrNode[T any] struct {
	key        int64
	item       T
	next       *mrNode[T]
	deleted    bool
	resourceID uint32

	writerID  int
	cellIndex int
}

// MRLockSet is identical in list structure to Lock, but replaces the
// per-node mutex pair with one or two requests to a shared MRLock: if
// previous and current's resource IDs collided in the cycle, a single lock
// request covers both; otherwise two sequential requests are made, one for
// each resource ID, in predecessor-then-successor order.
type MRLockSet[T any] struct {
	cfg    Config
	store  *durable.Store[T]
	lock   *mrlock.MRLock
	cycler *mrlock.ResourceIDCycler

	head, tail *mrNode[T]
	pool       [][]*mrNode[T]
	allocIndex []int
}

// NewMRLockSet constructs an MRLock-protected set over store.
func NewMRLockSet[T any](cfg Config, store *durable.Store[T]) *MRLockSet[T] {
	m := &MRLockSet[T]{
		cfg:    cfg,
		store:  store,
		lock:   mrlock.New(),
		cycler: mrlock.NewResourceIDCycler(),
	}
	m.resetVolatile(cfg.PerWriterBudget)
	return m
}

func (m *MRLockSet[T]) resetVolatile(budget []int) {
	m.head = &mrNode[T]{key: MinKey, resourceID: mrlock.Head}
	m.tail = &mrNode[T]{key: MaxKey, resourceID: mrlock.Tail}
	m.head.next = m.tail

	m.pool = make([][]*mrNode[T], len(budget))
	m.allocIndex = make([]int, len(budget))
	for w, b := range budget {
		m.pool[w] = make([]*mrNode[T], b)
		for i := range m.pool[w] {
			m.pool[w][i] = &mrNode[T]{}
		}
		m.allocIndex[w] = b - 1
	}
}

func (m *MRLockSet[T]) find(key int64) (previous, current *mrNode[T]) {
	previous = m.head
	current = previous.next
	for current.key < key {
		previous = current
		current = current.next
	}
	return previous, current
}

// lockPair acquires previous and current's resource IDs. If the two
// collided in the cycle, a single lock request suffices; otherwise two
// requests are made in predecessor-then-successor order, matching
// MRLockDurableSet.h's sequential two-Lock() call when the bit patterns
// differ.
func (m *MRLockSet[T]) lockPair(previous, current *mrNode[T]) []mrlock.Handle {
	if previous.resourceID == current.resourceID {
		return []mrlock.Handle{m.lock.Lock(previous.resourceID)}
	}
	h1 := m.lock.Lock(previous.resourceID)
	h2 := m.lock.Lock(current.resourceID)
	return []mrlock.Handle{h1, h2}
}

func (m *MRLockSet[T]) unlockPair(handles []mrlock.Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		m.lock.Unlock(handles[i])
	}
}

func (m *MRLockSet[T]) allocFromArea(writerID int) *mrNode[T] {
	idx := m.allocIndex[writerID]
	if idx < 0 {
		return nil
	}
	cellIndex, ok := m.store.RetrieveAddress(writerID)
	if !ok {
		return nil
	}
	n := m.pool[writerID][idx]
	n.writerID = writerID
	n.cellIndex = cellIndex
	n.resourceID = m.cycler.Next()
	return n
}

func (m *MRLockSet[T]) updateAlloc(writerID int) {
	m.allocIndex[writerID]--
	m.store.UpdateAddress(writerID)
}

// Insert adds key/item under writerID's identity.
func (m *MRLockSet[T]) Insert(key int64, item T, writerID int) bool {
	for {
		previous, current := m.find(key)
		handles := m.lockPair(previous, current)

		if previous.next != current || current.deleted {
			m.unlockPair(handles)
			continue
		}
		if current.key == key {
			m.unlockPair(handles)
			return false
		}

		newNode := m.allocFromArea(writerID)
		if newNode == nil {
			m.unlockPair(handles)
			return false
		}

		newNode.key = key
		newNode.item = item
		newNode.next = current
		newNode.deleted = false
		previous.next = newNode

		m.store.FlushPrepared(key, item, 0, newNode.writerID, newNode.cellIndex)
		m.store.MarkInsertCommitted(newNode.writerID, newNode.cellIndex)
		m.updateAlloc(writerID)

		m.unlockPair(handles)
		return true
	}
}

// Contains reports whether key is currently present. Unlocked: safe because
// list traversal only dereferences valid pointers and nodes are never freed
// between recovers.
func (m *MRLockSet[T]) Contains(key int64) bool {
	current := m.head.next
	for current.key < key {
		current = current.next
	}
	return current.key == key && !current.deleted
}

// Remove deletes key if present.
func (m *MRLockSet[T]) Remove(key int64) bool {
	for {
		previous, current := m.find(key)
		handles := m.lockPair(previous, current)

		if previous.next != current || current.deleted {
			m.unlockPair(handles)
			continue
		}
		if current.key != key {
			m.unlockPair(handles)
			return false
		}

		successor := current.next
		current.deleted = true
		previous.next = successor
		m.store.MarkDeleted(current.writerID, current.cellIndex)

		m.unlockPair(handles)
		return true
	}
}

// Recover discards volatile state and reconstructs the set from the
// durable store.
func (m *MRLockSet[T]) Recover(newBudget []int) RecoverReport {
	var before []int64
	for n := m.head.next; n != m.tail; n = n.next {
		before = append(before, n.key)
	}

	report := m.store.ReadResetMemory()
	grown := make([]int, len(newBudget))
	for w := range newBudget {
		grown[w] = newBudget[w] + report.PerWriterCounts[w]
	}
	m.store.Resize(grown)
	m.cycler = mrlock.NewResourceIDCycler()
	m.resetVolatile(grown)

	for i := 0; i < report.Total; i++ {
		m.Insert(report.Keys[i], report.Items[i], report.WriterIDs[i])
	}

	return RecoverReport{VolatileKeysBefore: before, DurableKeys: report.Keys}
}

// Free releases the volatile pools and sentinels.
func (m *MRLockSet[T]) Free() {
	m.head, m.tail = nil, nil
	m.pool = nil
}
