// Package world defines the capability surface an application implements
// to host sessions on top of the runtime: a World (process-wide state,
// shared immutably from the runtime's perspective) and a Session (one per
// connection). The runtime never assumes a concrete type for either; it
// only calls through these interfaces.
package world

import (
	"github.com/forgenet/ironclad/internal/dos"
	"github.com/forgenet/ironclad/internal/gametime"
)

// World is the application-wide hook set. Implementations hold whatever
// state the game needs; the runtime treats a World as shared and
// immutable from its own perspective, so any interior mutation is the
// application's responsibility.
type World interface {
	// OnStart fires once, before the accept loop begins. cell is the
	// shared game-time cell the loop will publish into, or nil if the
	// caller did not wire a game loop.
	OnStart(cell *gametime.Cell)

	// Update runs once per game-loop tick with the elapsed milliseconds
	// since the previous tick and the latest published GameTime.
	Update(diffMs int64, now gametime.GameTime)

	// PacketLimit returns the per-cmd DoS budget: frames admitted per
	// 1000ms window, the per-cmd payload size cap (0 means no cap beyond
	// MaxFrame), and the policy applied when the budget is exceeded.
	PacketLimit(cmd uint16) (amountPerSecond uint16, sizeCap uint32, policy dos.Policy)

	// GlobalLimit returns the connection-wide DoS budget: frames and
	// bytes admitted per 1000ms window, summed across every cmd.
	GlobalLimit() (amountPerSecond uint16, bytesPerSecond uint32)
}

// Session is the per-connection hook set an application implements.
type Session interface {
	// OnOpen fires once a session is accepted, before its reader loop
	// starts pulling frames off the wire.
	OnOpen()

	// OnMessage fires once per decoded frame, in arrival order, from the
	// session's single dispatcher goroutine. payload may be nil.
	OnMessage(cmd uint16, payload []byte)

	// OnClose fires exactly once, after every session goroutine has torn
	// down, regardless of which one initiated the teardown.
	OnClose()

	// OnDosAttack fires whenever a per-cmd or global DoS check rejects a
	// frame, before the configured policy is applied.
	OnDosAttack(cmd uint16)
}
