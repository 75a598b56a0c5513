package core

import "sync/atomic"

// TickSnapshot is the counter value captured by one second interrupt
type TickSnapshot struct {
	Seq     uint32 // interrupt count since the gate was created
	Counter uint32
}

// TickQueue is a single-producer single-consumer ring of snapshots. The
// interrupt handler is the only producer, the main loop the only consumer.
// Push never blocks: when the ring is full the snapshot is dropped and
// counted.
type TickQueue struct {
	buf     []TickSnapshot
	head    uint32 // next write, owned by producer
	tail    uint32 // next read, owned by consumer
	dropped uint32
}

// NewTickQueue creates a queue holding up to size-1 snapshots
func NewTickQueue(size int) *TickQueue {
	if size < 2 {
		size = 2
	}
	return &TickQueue{buf: make([]TickSnapshot, size)}
}

// Push appends s; returns false if the queue was full
func (q *TickQueue) Push(s TickSnapshot) bool {
	head := atomic.LoadUint32(&q.head)
	next := (head + 1) % uint32(len(q.buf))
	if next == atomic.LoadUint32(&q.tail) {
		atomic.AddUint32(&q.dropped, 1)
		return false
	}
	q.buf[head] = s
	atomic.StoreUint32(&q.head, next)
	return true
}

// Pop removes the oldest snapshot
func (q *TickQueue) Pop() (TickSnapshot, bool) {
	tail := atomic.LoadUint32(&q.tail)
	if tail == atomic.LoadUint32(&q.head) {
		return TickSnapshot{}, false
	}
	s := q.buf[tail]
	atomic.StoreUint32(&q.tail, (tail+1)%uint32(len(q.buf)))
	return s, true
}

// Dropped returns the number of snapshots lost to a full queue
func (q *TickQueue) Dropped() uint32 {
	return atomic.LoadUint32(&q.dropped)
}

// TickGate connects the second interrupt to the main loop. The interrupt
// handler calls Handle; the main loop calls Drain.
type TickGate struct {
	rtc   *RTC
	queue *TickQueue
	fired uint32
}

// NewTickGate creates a gate for rtc with room for queueSize-1 pending ticks
func NewTickGate(rtc *RTC, queueSize int) *TickGate {
	return &TickGate{
		rtc:   rtc,
		queue: NewTickQueue(queueSize),
	}
}

// Enable turns on the second interrupt
func (g *TickGate) Enable() {
	g.rtc.EnableTickInterrupt()
}

// Disable turns off the second interrupt. Snapshots already queued stay.
func (g *TickGate) Disable() {
	g.rtc.DisableTickInterrupt()
}

// Handle is the interrupt body: capture the counter, publish it and
// acknowledge the interrupt exactly once
func (g *TickGate) Handle() {
	seq := atomic.AddUint32(&g.fired, 1)
	g.queue.Push(TickSnapshot{Seq: seq, Counter: g.rtc.ReadCounter()})
	g.rtc.ClearTickInterruptFlag()
}

// Drain hands every queued snapshot to fn, oldest first, and returns how
// many were delivered
func (g *TickGate) Drain(fn func(TickSnapshot)) int {
	n := 0
	for {
		s, ok := g.queue.Pop()
		if !ok {
			return n
		}
		fn(s)
		n++
	}
}

// Fired returns the number of handled interrupts
func (g *TickGate) Fired() uint32 {
	return atomic.LoadUint32(&g.fired)
}

// Dropped returns the number of snapshots lost because the main loop fell
// behind
func (g *TickGate) Dropped() uint32 {
	return g.queue.Dropped()
}
