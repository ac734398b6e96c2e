// Package event implements the time-bucketed deferred-event processor:
// events are scheduled at an absolute fire time and fire in FIFO order
// within the bucket they land in. Re-armable events are reinserted at a
// fresh bucket after firing; the fired bucket is removed before that
// reinsertion so a single Update pass never re-enters the same bucket.
//
// Semantics are grounded in rollo's event_processor.rs: a bucket with key
// <= the new m_time fires; the re-arm diff is (m_time-key)+delay, i.e. the
// total elapsed time since the event was last (re)scheduled.
package event

import (
	"container/heap"

	"github.com/forgenet/ironclad/internal/metrics"
)

// Event is the capability surface a scheduled value must implement.
type Event interface {
	// OnExecute fires when the event's bucket comes due. diff is the total
	// elapsed time, in milliseconds, since the event was (re)scheduled.
	OnExecute(diff int64)
	// IsDeletable reports whether the event should be dropped after firing.
	// false re-arms it at now + its original delay.
	IsDeletable() bool
	// ToAbort reports whether the event should be dropped, unfired, the
	// next time its bucket comes due.
	ToAbort() bool
	// OnAbort fires instead of OnExecute when ToAbort is true.
	OnAbort()
}

type entry struct {
	delay int64
	event Event
}

// keyHeap is a min-heap of distinct bucket keys, used to find the buckets
// due at or before the current m_time without scanning every key.
type keyHeap []int64

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *keyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Processor is an ordered mapping from absolute fire-time (ms) to a FIFO
// queue of pending events. Not safe for concurrent Add/Update/RemoveAll
// calls — the owner serialises access, matching spec §4.4's "holds no
// lock internally" contract.
type Processor struct {
	mTime   int64
	buckets map[int64][]entry
	keys    keyHeap
}

// New creates an event processor whose clock starts at nowMs.
func New(nowMs int64) *Processor {
	p := &Processor{
		mTime:   nowMs,
		buckets: make(map[int64][]entry),
	}
	heap.Init(&p.keys)
	return p
}

// Add schedules event to fire after delayMs, relative to the processor's
// current m_time. FIFO order within the resulting bucket is preserved.
func (p *Processor) Add(ev Event, delayMs int64) {
	key := p.mTime + delayMs
	p.push(key, entry{delay: delayMs, event: ev})
	metrics.SetEventBacklog(len(p.keys))
}

func (p *Processor) push(key int64, e entry) {
	if _, ok := p.buckets[key]; !ok {
		heap.Push(&p.keys, key)
	}
	p.buckets[key] = append(p.buckets[key], e)
}

// Update advances m_time to nowMs and fires every bucket whose key is <=
// nowMs, in key order, FIFO within a bucket. A fired bucket is deleted
// before any of its re-armed events are reinserted, so it cannot be
// re-entered within this call.
func (p *Processor) Update(nowMs int64) {
	p.mTime = nowMs

	var due []int64
	for len(p.keys) > 0 && p.keys[0] <= nowMs {
		due = append(due, heap.Pop(&p.keys).(int64))
	}

	for _, key := range due {
		bucket := p.buckets[key]
		delete(p.buckets, key)

		for _, e := range bucket {
			if e.event.ToAbort() {
				e.event.OnAbort()
				continue
			}

			diff := (nowMs - key) + e.delay
			e.event.OnExecute(diff)

			if !e.event.IsDeletable() {
				p.push(nowMs+e.delay, entry{delay: e.delay, event: e.event})
			}
		}
	}

	metrics.SetEventBacklog(len(p.keys))
}

// RemoveAll drops every pending event. When abort is true, OnAbort is
// invoked on each before it is dropped.
func (p *Processor) RemoveAll(abort bool) {
	if abort {
		for _, bucket := range p.buckets {
			for _, e := range bucket {
				e.event.OnAbort()
			}
		}
	}
	p.buckets = make(map[int64][]entry)
	p.keys = p.keys[:0]
	metrics.SetEventBacklog(0)
}

// IsEmpty reports whether any event is pending.
func (p *Processor) IsEmpty() bool {
	return len(p.keys) == 0
}
