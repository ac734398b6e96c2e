// Package pool implements the buffer-pool discipline that keeps steady-state
// reads and writes allocation-free: a bounded free list of byte slices that
// acquisition never blocks on and never fails from — it degrades to a direct
// allocation once empty.
package pool

import (
	"sync"

	"github.com/forgenet/ironclad/internal/metrics"
)

// BytePool is a bounded free list of byte slices of a fixed initial
// capacity. Get never blocks; Put drops the buffer once the pool is full.
type BytePool struct {
	mu      sync.Mutex
	free    [][]byte
	max     int
	initCap int
}

// New creates a pool whose buffers start life with capacity initCap and
// which retains at most max released buffers.
func New(max, initCap int) *BytePool {
	if max < 0 {
		max = 0
	}
	return &BytePool{max: max, initCap: initCap}
}

// Get removes a buffer from the free list, or allocates a fresh one of
// initCap if the list is empty. The returned slice has length zero.
func (p *BytePool) Get() []byte {
	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		metrics.IncPoolHit()
		return b[:0]
	}
	p.mu.Unlock()
	metrics.IncPoolMiss()
	return make([]byte, 0, p.initCap)
}

// Put clears b and returns it to the free list if there is room, else drops
// it. Callers must not use b after calling Put.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	b = b[:0]
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.max {
		return
	}
	p.free = append(p.free, b)
}

// SetMax adjusts the retained-buffer cap at runtime, e.g. to track
// (active sessions + headroom) x 2 as sessions come and go. Shrinking
// trims the free list immediately; growing only changes the ceiling for
// future Put calls.
func (p *BytePool) SetMax(max int) {
	if max < 0 {
		max = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = max
	if len(p.free) > max {
		p.free = p.free[:max]
	}
}

// Len reports the number of buffers currently retained (test/diagnostic use).
func (p *BytePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Max reports the current retained-buffer cap (test/diagnostic use).
func (p *BytePool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}
