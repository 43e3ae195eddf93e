package engine

import (
	"sync"
	"time"

	"github.com/google/btree"
)

// sweepItem is one live session's entry in the time-ordered index C11
// describes: keyed by (deadline, flowID) so the supervisor's periodic sweep
// can find everything past its session cap in O(log n + k) instead of
// scanning every live flow (spec §4.4's 300s session cap, at the hundreds-
// of-concurrent-flows scale spec §2 calls for).
type sweepItem struct {
	deadline time.Time
	flowID   string
	cancel   func()
}

func (a *sweepItem) Less(than btree.Item) bool {
	b := than.(*sweepItem)
	if a.deadline.Equal(b.deadline) {
		return a.flowID < b.flowID
	}
	return a.deadline.Before(b.deadline)
}

// sessionSweep is the B-tree-backed index of live flows' session deadlines.
// Insertion happens at tunnel-establish time, removal at any teardown path;
// removal of an absent key is a no-op (idempotent, per spec §5). Add/Remove
// run on each flow's own goroutine while Expire runs on the sweep's
// goroutine (spec §8 scenario 5's hundreds-of-simultaneous-CONNECTs case), so
// mu guards both tree and items against concurrent map writes and B-tree
// corruption.
type sessionSweep struct {
	mu    sync.Mutex
	tree  *btree.BTree
	items map[string]*sweepItem
}

func newSessionSweep() *sessionSweep {
	return &sessionSweep{
		tree:  btree.New(32),
		items: make(map[string]*sweepItem),
	}
}

// Add registers flowID's session-cap deadline and the cancel func to call
// when the sweep finds it expired.
func (s *sessionSweep) Add(flowID string, deadline time.Time, cancel func()) {
	item := &sweepItem{deadline: deadline, flowID: flowID, cancel: cancel}
	s.mu.Lock()
	s.items[flowID] = item
	s.tree.ReplaceOrInsert(item)
	s.mu.Unlock()
}

// Remove drops flowID from the index. Safe to call even if flowID was
// never added or was already removed.
func (s *sessionSweep) Remove(flowID string) {
	s.mu.Lock()
	item, ok := s.items[flowID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, flowID)
	s.tree.Delete(item)
	s.mu.Unlock()
}

// Expire walks every entry whose deadline is at or before now, invoking its
// cancel func and removing it from the index. The cancel funcs run after mu
// is released, so none of them executes under the lock. Each one cancels a
// flow's relay context; that flow's own goroutine later calls Remove for the
// same flowID, which is then a no-op.
func (s *sessionSweep) Expire(now time.Time) {
	var expired []*sweepItem
	pivot := &sweepItem{deadline: now.Add(time.Nanosecond)}

	s.mu.Lock()
	s.tree.AscendLessThan(pivot, func(i btree.Item) bool {
		expired = append(expired, i.(*sweepItem))
		return true
	})
	for _, item := range expired {
		delete(s.items, item.flowID)
		s.tree.Delete(item)
	}
	s.mu.Unlock()

	for _, item := range expired {
		item.cancel()
	}
}

// Len reports how many sessions the sweep currently tracks.
func (s *sessionSweep) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}
