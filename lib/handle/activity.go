package handle

import (
	"container/heap"
	"time"
)

// activity orders connections by their last request, oldest first. It is a
// binary heap with a map from connection to heap slot, so touching and
// forgetting a connection are O(log n) and the idle ones are found without
// scanning every connection.
//
// Not safe for concurrent use, the table guards it with its mutex.
type activity struct {
	items  []*activityItem
	byConn map[ConnID]*activityItem
}

type activityItem struct {
	conn  ConnID
	last  time.Time
	index int // slot in items, maintained by the heap methods
}

func newActivity() *activity {
	return &activity{
		items:  make([]*activityItem, 0),
		byConn: make(map[ConnID]*activityItem),
	}
}

// touch records activity of conn at now
func (a *activity) touch(conn ConnID, now time.Time) {
	if it, ok := a.byConn[conn]; ok {
		it.last = now
		heap.Fix(a, it.index)
		return
	}
	heap.Push(a, &activityItem{conn: conn, last: now})
}

// forget stops tracking conn
func (a *activity) forget(conn ConnID) {
	if it, ok := a.byConn[conn]; ok {
		heap.Remove(a, it.index)
	}
}

// contains reports whether conn is tracked
func (a *activity) contains(conn ConnID) bool {
	_, ok := a.byConn[conn]
	return ok
}

// idleSince returns the connections last active before deadline, oldest first.
// The connections stay tracked.
func (a *activity) idleSince(deadline time.Time) []ConnID {
	var idle []*activityItem
	for len(a.items) > 0 && a.items[0].last.Before(deadline) {
		idle = append(idle, heap.Pop(a).(*activityItem))
	}

	conns := make([]ConnID, len(idle))
	for i, it := range idle {
		conns[i] = it.conn
		heap.Push(a, it)
	}
	return conns
}

// --------------------------------------------------------------------------
// heap.Interface (use the heap package functions, not these directly)
// --------------------------------------------------------------------------

func (a *activity) Len() int { return len(a.items) }

func (a *activity) Less(i, j int) bool {
	return a.items[i].last.Before(a.items[j].last)
}

func (a *activity) Swap(i, j int) {
	a.items[i], a.items[j] = a.items[j], a.items[i]
	a.items[i].index = i
	a.items[j].index = j
}

func (a *activity) Push(x interface{}) {
	it := x.(*activityItem)
	it.index = len(a.items)
	a.items = append(a.items, it)
	a.byConn[it.conn] = it
}

func (a *activity) Pop() interface{} {
	old := a.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	a.items = old[:n-1]
	delete(a.byConn, it.conn)
	return it
}
