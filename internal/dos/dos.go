// Package dos implements the per-connection denial-of-service admission
// checks: an independent sliding-1000ms-window counter per cmd, and one
// global counter covering both frame count and byte volume.
//
// The window arithmetic matches rollo's dos_protection.rs exactly: a cmd is
// still inside its current window when last_receive_time+1000 >= now: a
// closed rather than open interval at the boundary.
package dos

import "sync"

const windowMillis int64 = 1000

// Policy describes what the session protocol should do when a per-cmd
// check fails. A failing global check is always treated as Close
// regardless of the per-cmd policy in effect (spec §4.7).
type Policy int

const (
	PolicyClose Policy = iota
	PolicyLog
	PolicyNone
)

type cmdCounter struct {
	lastReceive int64
	count       uint16
}

type globalCounter struct {
	seen        bool
	lastReceive int64
	count       uint16
	bytes       uint32
}

// Accountant holds per-session DoS counters. Not safe for use across
// sessions; each session owns one.
type Accountant struct {
	mu     sync.Mutex
	perCmd map[uint16]*cmdCounter
	global globalCounter
}

// New creates an empty accountant.
func New() *Accountant {
	return &Accountant{perCmd: make(map[uint16]*cmdCounter)}
}

// AdmitCmd evaluates the per-cmd sliding window for cmd at time nowMs and
// returns whether the frame is admitted. The first frame seen for a cmd is
// always admitted.
func (a *Accountant) AdmitCmd(cmd uint16, limit uint16, nowMs int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.perCmd[cmd]
	if !ok {
		a.perCmd[cmd] = &cmdCounter{lastReceive: nowMs, count: 1}
		return true
	}

	withinWindow := c.lastReceive+windowMillis >= nowMs
	admitted := true
	if withinWindow {
		if c.count >= limit {
			admitted = false
		} else {
			c.count++
		}
	} else {
		c.count = 1
		c.lastReceive = nowMs
	}
	return admitted
}

// AdmitGlobal evaluates the global sliding window across all cmds: a frame
// is admitted only if the window's byte total including this frame stays
// within sizeLimit and its frame count stays within amountLimit. The window
// starts at the frame that opened it and resets 1000ms later.
func (a *Accountant) AdmitGlobal(nowMs int64, frameSize uint32, sizeLimit uint32, amountLimit uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	g := &a.global
	if !g.seen {
		g.seen = true
		g.lastReceive = nowMs
		g.count = 1
		g.bytes = frameSize
		return true
	}

	withinWindow := g.lastReceive+windowMillis >= nowMs
	if withinWindow {
		if g.bytes+frameSize <= sizeLimit && g.count < amountLimit {
			g.count++
			g.bytes += frameSize
			return true
		}
		return false
	}

	g.lastReceive = nowMs
	g.count = 1
	g.bytes = frameSize
	return true
}
