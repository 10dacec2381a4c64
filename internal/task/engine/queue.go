package engine

import (
	"container/heap"
	"time"
)

// queued is a heap entry. The ordering key (rank, seq) is fixed when the
// entry is created, so comparisons never read mutable task state.
type queued struct {
	t     *task
	rank  int       // -priority: lower ranks dequeue first
	at    time.Time // eligibility time (scheduled store only)
	seq   uint64
	index int
}

// readyHeap orders by (rank asc, seq asc): highest priority first, FIFO within a priority.
type readyHeap []*queued

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x any) {
	q := x.(*queued)
	q.index = len(*h)
	*h = append(*h, q)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.index = -1
	*h = old[:n-1]
	return q
}

// readyQueue holds tasks eligible to run. remove is O(log n) via the index map.
type readyQueue struct {
	h    readyHeap
	byID map[string]*queued
}

func newReadyQueue() readyQueue { return readyQueue{byID: make(map[string]*queued)} }

func (q *readyQueue) push(t *task, seq uint64) {
	e := &queued{t: t, rank: -int(t.priority), seq: seq}
	q.pushEntry(e)
}

func (q *readyQueue) pushEntry(e *queued) {
	heap.Push(&q.h, e)
	q.byID[e.t.id] = e
}

func (q *readyQueue) pop() *queued {
	if len(q.h) == 0 {
		return nil
	}
	e := heap.Pop(&q.h).(*queued)
	delete(q.byID, e.t.id)
	return e
}

func (q *readyQueue) remove(id string) bool {
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, id)
	return true
}

func (q *readyQueue) len() int { return len(q.h) }

// timeHeap orders by eligibility time, then seq.
type timeHeap []*queued

func (h timeHeap) Len() int { return len(h) }
func (h timeHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}
func (h timeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timeHeap) Push(x any) {
	q := x.(*queued)
	q.index = len(*h)
	*h = append(*h, q)
}
func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.index = -1
	*h = old[:n-1]
	return q
}

// scheduledStore holds tasks that are not eligible yet: future submissions
// and retries waiting out their backoff.
type scheduledStore struct {
	h    timeHeap
	byID map[string]*queued
}

func newScheduledStore() scheduledStore { return scheduledStore{byID: make(map[string]*queued)} }

func (s *scheduledStore) push(t *task, at time.Time, seq uint64) {
	e := &queued{t: t, rank: -int(t.priority), at: at, seq: seq}
	heap.Push(&s.h, e)
	s.byID[t.id] = e
}

func (s *scheduledStore) remove(id string) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.h, e.index)
	delete(s.byID, id)
	return true
}

// popDue removes and returns every entry with at <= now, earliest first.
func (s *scheduledStore) popDue(now time.Time) []*queued {
	var due []*queued
	for len(s.h) > 0 && !s.h[0].at.After(now) {
		e := heap.Pop(&s.h).(*queued)
		delete(s.byID, e.t.id)
		due = append(due, e)
	}
	return due
}

// next returns the earliest eligibility time, or zero if empty.
func (s *scheduledStore) next() time.Time {
	if len(s.h) == 0 {
		return time.Time{}
	}
	return s.h[0].at
}

func (s *scheduledStore) len() int { return len(s.h) }
