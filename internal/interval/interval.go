// Package interval implements a drift-free accumulator: an Executor's
// Execute runs once accumulated elapsed time crosses a configured
// threshold, and the remainder (not the whole accumulator) carries over,
// so fractional overshoot from one tick is not lost on the next.
//
// The accumulator is a plain atomic int64 advanced with a CAS retry loop,
// mirroring rollo's interval_mgr.rs use of AtomicCell::fetch_update: it
// composes safely with a caller who updates many independent Managers
// from a single goroutine, and also tolerates concurrent callers without
// a mutex.
package interval

import "sync/atomic"

// Executor is invoked once the configured interval has elapsed.
type Executor interface {
	Execute(diff int64)
}

// Manager accumulates elapsed milliseconds against a fixed interval.
type Manager struct {
	current  atomic.Int64
	interval int64
}

// New creates a Manager that fires every intervalMs milliseconds.
func New(intervalMs int64) *Manager {
	return &Manager{interval: intervalMs}
}

// Update adds diff milliseconds to the accumulator, then, if the
// accumulator has reached the configured interval, invokes Execute with
// the accumulated value and resets the accumulator to the remainder.
func (m *Manager) Update(diff int64, exec Executor) {
	m.add(diff)
	if m.IsPassed() {
		total := m.reset()
		exec.Execute(total)
	}
}

func (m *Manager) add(diff int64) {
	for {
		old := m.current.Load()
		if m.current.CompareAndSwap(old, old+diff) {
			return
		}
	}
}

// IsPassed reports whether the accumulator has reached the interval.
func (m *Manager) IsPassed() bool {
	return m.current.Load() >= m.interval
}

// reset replaces the accumulator with its value modulo the interval (not
// zeroing it), preserving any overshoot for the next cycle, and returns
// the pre-reset accumulated value.
func (m *Manager) reset() int64 {
	for {
		old := m.current.Load()
		next := old % m.interval
		if m.current.CompareAndSwap(old, next) {
			return old
		}
	}
}

// Current returns the accumulator's present value.
func (m *Manager) Current() int64 {
	return m.current.Load()
}

// SetInterval changes the threshold used by future IsPassed/Update calls.
// Not atomic with respect to concurrent Update calls by design: intervals
// are expected to be reconfigured rarely, from a single controlling
// goroutine (e.g. on a config reload).
func (m *Manager) SetInterval(intervalMs int64) {
	m.interval = intervalMs
}
