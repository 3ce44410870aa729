// Package queue implements the abstract ordered buffer of pending
// inter-router messages, with FIFO and timed/priority concrete
// variants.
package queue

import (
	"container/heap"

	"github.com/netlab/bgpsim/internal/prefix"
	"github.com/netlab/bgpsim/internal/route"
	"github.com/netlab/bgpsim/internal/topology"
)

// Kind distinguishes an update carrying a new route from a withdrawal.
type Kind int

const (
	Update Kind = iota
	Withdraw
)

// Event is one pending message: source and target router, the prefix
// it concerns, and either an updated route or a withdrawal.
type Event struct {
	Source topology.RouterID
	Target topology.RouterID
	Prefix prefix.Key
	Kind   Kind
	Route  route.Route // meaningful only when Kind == Update
}

// Queue is the abstract ordered buffer the orchestrator drains during
// convergence. The variant is fixed at network creation and preserved
// by Network.Clone. The persisted document does not record it:
// persist.Decode uses whichever queue its caller passes in.
type Queue interface {
	Push(e Event)
	Pop() (Event, bool)
	Len() int
	PeekPriority() (float64, bool)
	Variant() string
	Clone() Queue
}

// FIFO fires events in strict insertion order.
type FIFO struct {
	events []Event
}

// NewFIFO returns an empty FIFO queue.
func NewFIFO() *FIFO { return &FIFO{} }

func (q *FIFO) Push(e Event) { q.events = append(q.events, e) }

func (q *FIFO) Pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

func (q *FIFO) Len() int { return len(q.events) }

func (q *FIFO) PeekPriority() (float64, bool) {
	if len(q.events) == 0 {
		return 0, false
	}
	return 0, true // FIFO has no priority ordering; position is the order.
}

func (q *FIFO) Variant() string { return "basic" }

func (q *FIFO) Clone() Queue {
	out := &FIFO{events: make([]Event, len(q.events))}
	copy(out.events, q.events)
	return out
}

// DelayModel assigns a simulated delay to an event traveling over a
// link, for the Timed queue's priority ordering.
type DelayModel func(source, target topology.RouterID) float64

// timedItem is one entry in the priority heap: the event, its assigned
// priority, and its insertion sequence (tiebreak).
type timedItem struct {
	event    Event
	priority float64
	seq      int
}

type timedHeap []timedItem

func (h timedHeap) Len() int { return len(h) }
func (h timedHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h timedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timedHeap) Push(x interface{}) { *h = append(*h, x.(timedItem)) }
func (h *timedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Timed is the priority queue variant: each event's priority is drawn
// from a per-link delay model; ties are broken by insertion order,
// giving reproducible runs for a fixed seed.
type Timed struct {
	h     timedHeap
	delay DelayModel
	seq   int
}

// NewTimed returns an empty Timed queue using delay to assign
// priorities at Push time.
func NewTimed(delay DelayModel) *Timed {
	if delay == nil {
		delay = func(topology.RouterID, topology.RouterID) float64 { return 1 }
	}
	return &Timed{delay: delay}
}

func (q *Timed) Push(e Event) {
	item := timedItem{event: e, priority: q.delay(e.Source, e.Target), seq: q.seq}
	q.seq++
	heap.Push(&q.h, item)
}

func (q *Timed) Pop() (Event, bool) {
	if q.h.Len() == 0 {
		return Event{}, false
	}
	item := heap.Pop(&q.h).(timedItem)
	return item.event, true
}

func (q *Timed) Len() int { return q.h.Len() }

func (q *Timed) PeekPriority() (float64, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].priority, true
}

func (q *Timed) Variant() string { return "timed" }

func (q *Timed) Clone() Queue {
	out := &Timed{delay: q.delay, seq: q.seq, h: make(timedHeap, len(q.h))}
	copy(out.h, q.h)
	return out
}
