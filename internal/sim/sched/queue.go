// Package sched is a virtual-clock task queue for one-shot delayed callbacks.
//
// The queue never runs anything on its own: the owner advances the clock and
// due callbacks run synchronously on the caller's goroutine, in due order
// (ties broken by scheduling order).
package sched

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled task. The zero Handle is never issued.
type Handle uint64

type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
	Cancel(h Handle) bool
}

type task struct {
	h   Handle
	due time.Duration
	fn  func()
	idx int
}

type Queue struct {
	now     time.Duration
	next    Handle
	pending taskHeap
	byID    map[Handle]*task
}

func NewQueue() *Queue {
	return &Queue{byID: map[Handle]*task{}}
}

// Now is the virtual time elapsed since the queue was created or reset.
func (q *Queue) Now() time.Duration { return q.now }

func (q *Queue) Len() int { return len(q.pending) }

func (q *Queue) Schedule(delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	q.next++
	t := &task{h: q.next, due: q.now + delay, fn: fn}
	heap.Push(&q.pending, t)
	q.byID[t.h] = t
	return t.h
}

// Cancel reports whether h was still pending.
func (q *Queue) Cancel(h Handle) bool {
	t, ok := q.byID[h]
	if !ok {
		return false
	}
	heap.Remove(&q.pending, t.idx)
	delete(q.byID, h)
	return true
}

func (q *Queue) Pending(h Handle) bool {
	_, ok := q.byID[h]
	return ok
}

// Advance moves the clock forward by d and runs every task that became due.
// Callbacks may schedule or cancel tasks; newly scheduled tasks that fall
// within the window run in the same call.
func (q *Queue) Advance(d time.Duration) int {
	if d < 0 {
		d = 0
	}
	return q.AdvanceTo(q.now + d)
}

func (q *Queue) AdvanceTo(target time.Duration) int {
	ran := 0
	for len(q.pending) > 0 && q.pending[0].due <= target {
		t := heap.Pop(&q.pending).(*task)
		delete(q.byID, t.h)
		if t.due > q.now {
			q.now = t.due
		}
		t.fn()
		ran++
	}
	if target > q.now {
		q.now = target
	}
	return ran
}

// Reset drops every pending task without running it.
func (q *Queue) Reset() {
	q.pending = q.pending[:0]
	q.byID = map[Handle]*task{}
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].h < h[j].h
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.idx = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
