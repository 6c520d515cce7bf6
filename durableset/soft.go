package durableset

import (
	"sync/atomic"

	"github.com/metailurini/durableset/durable"
)

// SOFT node states, embedded alongside the next pointer in a softLink.
const (
	stateIntendToInsert uint8 = iota
	stateInserted
	stateIntendToDelete
	stateDeleted
)

// softLink is the immutable value CAS'd behind an atomic.Pointer to realize
// the source's two-bit state packed into the low bits of next: the pair
// (next, state) moves together in a single atomic swap.
type softLink[T any] struct {
	next  *softNode[T]
	state uint8
}

type softNode[T any] struct {
	key  int64
	item T
	link atomic.Pointer[softLink[T]]

	flushedCreate  atomic.Bool
	flushedDestroy atomic.Bool

	writerID  int
	cellIndex int
}

func (n *softNode[T]) loadNext() (*softNode[T], uint8) {
	l := n.link.Load()
	return l.next, l.state
}

func (n *softNode[T]) storeNext(next *softNode[T], state uint8) {
	n.link.Store(&softLink[T]{next: next, state: state})
}

// casLink replaces the whole (next, state) pair. The state transitions use
// it with next unchanged; linking a new node goes through casAdvance.
func (n *softNode[T]) casLink(oldNext *softNode[T], oldState uint8, newNext *softNode[T], newState uint8) bool {
	old := n.link.Load()
	if old.next != oldNext || old.state != oldState {
		return false
	}
	return n.link.CompareAndSwap(old, &softLink[T]{next: newNext, state: newState})
}

// casAdvance replaces only the next pointer, preserving n's own state field
// — the trim/help-trim CAS shape.
func (n *softNode[T]) casAdvance(oldNext *softNode[T], state uint8, newNext *softNode[T]) bool {
	old := n.link.Load()
	if old.next != oldNext || old.state != state {
		return false
	}
	return n.link.CompareAndSwap(old, &softLink[T]{next: newNext, state: state})
}

// stateCAS replaces only n's own state field, preserving its next pointer.
func (n *softNode[T]) stateCAS(oldState, newState uint8) bool {
	old := n.link.Load()
	if old.state != oldState {
		return false
	}
	return n.link.CompareAndSwap(old, &softLink[T]{next: old.next, state: newState})
}

// SOFT is the four-state lock-free variant: the volatile "linking"
// lifecycle (state transitions on the node) is decoupled from the durable
// "persistence" lifecycle (the create/destroy flush pair), so a helper can
// promote a node's state without redoing another thread's flush, and vice
// versa.
type SOFT[T any] struct {
	cfg     Config
	store   *durable.SoftStore[T]
	metrics *metrics

	head, tail1, tail2 *softNode[T]
	pool               [][]*softNode[T]
	allocIndex         []int
}

// NewSOFT constructs a SOFT set over store.
func NewSOFT[T any](cfg Config, store *durable.SoftStore[T]) *SOFT[T] {
	s := &SOFT[T]{cfg: cfg, store: store, metrics: newMetrics()}
	s.resetVolatile(cfg.PerWriterBudget)
	return s
}

// Stats implements StatsProvider.
func (s *SOFT[T]) Stats() (casRetries, casSuccesses, flushes, helps int64) {
	return s.metrics.Stats()
}

func (s *SOFT[T]) resetVolatile(budget []int) {
	s.head = &softNode[T]{key: MinKey}
	s.tail1 = &softNode[T]{key: MaxKey}
	s.tail2 = &softNode[T]{key: MaxKey + 1}
	s.head.storeNext(s.tail1, stateInserted)
	s.tail1.storeNext(s.tail2, stateInserted)
	s.tail2.storeNext(nil, stateInserted)

	s.pool = make([][]*softNode[T], len(budget))
	s.allocIndex = make([]int, len(budget))
	for w, b := range budget {
		s.pool[w] = make([]*softNode[T], b)
		for i := range s.pool[w] {
			s.pool[w][i] = &softNode[T]{}
			s.pool[w][i].storeNext(nil, stateIntendToInsert)
		}
		s.allocIndex[w] = b - 1
	}
}

// find locates (previous, current) such that previous.key < key <=
// current.key, trimming DELETED nodes encountered along the way while
// preserving each predecessor's own state field.
func (s *SOFT[T]) find(key int64) (previous, current *softNode[T]) {
retry:
	previous = s.head
	pNext, _ := previous.loadNext()
	current = pNext

	for {
		cNext, state := current.loadNext()
		for state == stateDeleted {
			pLink := previous.link.Load()
			if pLink.next != current {
				goto retry
			}
			if !previous.link.CompareAndSwap(pLink, &softLink[T]{next: cNext, state: pLink.state}) {
				goto retry
			}
			s.metrics.IncHelp()
			current = cNext
			cNext, state = current.loadNext()
		}
		if current.key >= key {
			return previous, current
		}
		previous = current
		current = cNext
	}
}

func (s *SOFT[T]) publishCreate(n *softNode[T]) {
	if n.flushedCreate.CompareAndSwap(false, true) {
		s.store.MarkValidStart(n.key, n.item, n.writerID, n.cellIndex)
		s.store.MarkValidEnd(n.writerID, n.cellIndex)
		s.metrics.IncFlush()
	}
}

func (s *SOFT[T]) publishDestroy(n *softNode[T]) {
	if n.flushedDestroy.CompareAndSwap(false, true) {
		s.store.MarkDeleted(n.writerID, n.cellIndex)
		s.metrics.IncFlush()
	}
}

// promoteToInserted spins until n's state reaches INSERTED or beyond,
// helping (or performing) the INTEND_TO_INSERT -> INSERTED transition.
// This is wait-free with respect to any one helper: every failed CAS
// implies some other thread made progress on this exact node.
func (s *SOFT[T]) promoteToInserted(n *softNode[T]) {
	for {
		next, state := n.loadNext()
		if state != stateIntendToInsert {
			return
		}
		if n.casLink(next, stateIntendToInsert, next, stateInserted) {
			return
		}
	}
}

// promoteToDeleted spins until n's state reaches DELETED, helping (or
// performing) the INTEND_TO_DELETE -> DELETED transition.
func (s *SOFT[T]) promoteToDeleted(n *softNode[T]) {
	for {
		next, state := n.loadNext()
		if state == stateDeleted {
			return
		}
		if state != stateIntendToDelete {
			continue
		}
		if n.casLink(next, stateIntendToDelete, next, stateDeleted) {
			return
		}
	}
}

// Insert adds key/item under writerID's identity. If a concurrent insert of
// the same key is in flight (state INTEND_TO_INSERT), this call joins it —
// helping publish and promote the existing node — but reports false: the
// key was not newly inserted by this call.
func (s *SOFT[T]) Insert(key int64, item T, writerID int) bool {
	idx := s.allocIndex[writerID]
	if idx < 0 {
		return false
	}
	cellIndex, ok := s.store.RetrieveAddress(writerID)
	if !ok {
		return false
	}
	newNode := s.pool[writerID][idx]

	for {
		previous, current := s.find(key)
		if current.key == key {
			_, state := current.loadNext()
			if state == stateIntendToInsert {
				s.publishCreate(current)
				s.promoteToInserted(current)
			}
			return false
		}

		newNode.key = key
		newNode.item = item
		newNode.writerID = writerID
		newNode.cellIndex = cellIndex
		newNode.flushedCreate.Store(false)
		newNode.flushedDestroy.Store(false)
		newNode.storeNext(current, stateIntendToInsert)

		_, previousState := previous.loadNext()
		if previous.casAdvance(current, previousState, newNode) {
			s.metrics.IncCASSuccess()
			s.publishCreate(newNode)
			s.allocIndex[writerID]--
			s.store.UpdateAddress(writerID)
			s.promoteToInserted(newNode)
			return true
		}
		s.metrics.IncCASRetry()
	}
}

// Contains reports whether key is currently present: found with state in
// {INSERTED, INTEND_TO_DELETE}.
func (s *SOFT[T]) Contains(key int64) bool {
	_, current := s.find(key)
	if current.key != key {
		return false
	}
	_, state := current.loadNext()
	return state == stateInserted || state == stateIntendToDelete
}

// Remove deletes key if present. The thread that wins the INSERTED ->
// INTEND_TO_DELETE race is the one whose call returns true; everyone else
// (helpers, and the not-yet-present case) returns false.
func (s *SOFT[T]) Remove(key int64) bool {
	for {
		previous, current := s.find(key)
		if current.key != key {
			return false
		}
		next, state := current.loadNext()
		switch state {
		case stateIntendToInsert:
			return false
		case stateIntendToDelete, stateDeleted:
			s.publishDestroy(current)
			s.promoteToDeleted(current)
			return false
		}

		if !current.casLink(next, stateInserted, next, stateIntendToDelete) {
			s.metrics.IncCASRetry()
			continue
		}
		s.metrics.IncCASSuccess()
		s.publishDestroy(current)
		s.promoteToDeleted(current)
		s.trim(previous, current)
		return true
	}
}

// trim best-effort unlinks a DELETED node, preserving previous's own state.
func (s *SOFT[T]) trim(previous, current *softNode[T]) {
	pLink := previous.link.Load()
	if pLink.next != current {
		return
	}
	successor, _ := current.loadNext()
	previous.link.CompareAndSwap(pLink, &softLink[T]{next: successor, state: pLink.state})
}

// Recover discards volatile state and reconstructs the set from the
// durable store.
func (s *SOFT[T]) Recover(newBudget []int) RecoverReport {
	var before []int64
	cur, _ := s.head.loadNext()
	for cur != s.tail1 && cur != s.tail2 {
		next, state := cur.loadNext()
		if state != stateDeleted {
			before = append(before, cur.key)
		}
		cur = next
	}

	report := s.store.ReadResetMemory()
	grown := make([]int, len(newBudget))
	for w := range newBudget {
		grown[w] = newBudget[w] + report.PerWriterCounts[w]
	}
	s.store.Resize(grown)
	s.resetVolatile(grown)

	for i := 0; i < report.Total; i++ {
		s.Insert(report.Keys[i], report.Items[i], report.WriterIDs[i])
	}

	return RecoverReport{VolatileKeysBefore: before, DurableKeys: report.Keys}
}

// Free releases the volatile pools and sentinels.
func (s *SOFT[T]) Free() {
	s.head, s.tail1, s.tail2 = nil, nil, nil
	s.pool = nil
}
