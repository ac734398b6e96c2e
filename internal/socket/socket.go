// Package socket implements the handler-facing send/close handle (C9) and
// the writer pump that drains it onto the wire. The pump has a fan-in shape
// (buffered channel, single consumer goroutine, exits on a Close/CloseAfter
// message or a write error) and carries already length-prefixed outbound
// frames.
package socket

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/forgenet/ironclad/internal/metrics"
)

// messageKind distinguishes the variants of an outbound writer message.
type messageKind int

const (
	kindSend messageKind = iota
	kindFlush
	kindClose
	kindCloseAfter
)

// writerMessage is one entry on a session's outbound queue.
type writerMessage struct {
	kind  messageKind
	data  []byte
	flush bool
	after time.Duration
}

// Tools is the per-session handle passed to application code. A *Tools may
// be shared freely: every holder of the pointer sees the same writer queue
// and the same latency/closed state.
type Tools struct {
	remote net.Addr
	id     uint64
	tx     chan writerMessage

	latency atomic.Int64
	closed  atomic.Bool
}

// New creates a Tools bound to a fresh writer queue of the given depth and
// starts its writer pump against conn. The pump exits, closing done, once
// a Close/CloseAfter message drains or conn.Write fails.
func New(id uint64, remote net.Addr, conn io.Writer, queueDepth int) (*Tools, <-chan struct{}) {
	t := &Tools{
		remote: remote,
		id:     id,
		tx:     make(chan writerMessage, queueDepth),
	}
	done := make(chan struct{})
	go t.pump(conn, done)
	return t, done
}

func (t *Tools) pump(conn io.Writer, done chan struct{}) {
	defer close(done)
	defer t.closed.Store(true)

	flusher, _ := conn.(interface{ Flush() error })

	for msg := range t.tx {
		switch msg.kind {
		case kindSend:
			if _, err := conn.Write(msg.data); err != nil {
				metrics.IncError(metrics.ErrConnWrite)
				return
			}
			metrics.AddBytesWritten(len(msg.data))
			if msg.flush && flusher != nil {
				_ = flusher.Flush()
			}
		case kindFlush:
			if flusher != nil {
				_ = flusher.Flush()
			}
		case kindCloseAfter:
			t := time.NewTimer(msg.after)
			<-t.C
			t.Stop()
			return
		case kindClose:
			return
		}
	}
}

// ID returns the session's stable, monotonically assigned identifier.
func (t *Tools) ID() uint64 { return t.id }

// RemoteAddr returns the peer address captured at accept time.
func (t *Tools) RemoteAddr() net.Addr { return t.remote }

// Send enqueues a framed, flushed write. Non-blocking and silent
// (best-effort) if the queue is shut or full.
func (t *Tools) Send(frame []byte) {
	t.enqueue(writerMessage{kind: kindSend, data: frame, flush: true})
}

// WriteData enqueues a framed write without forcing a flush, so several
// small sends can be coalesced by the underlying connection/buffer.
func (t *Tools) WriteData(frame []byte) {
	t.enqueue(writerMessage{kind: kindSend, data: frame, flush: false})
}

// Flush enqueues an explicit flush of anything buffered by WriteData.
func (t *Tools) Flush() {
	t.enqueue(writerMessage{kind: kindFlush})
}

// Close marks the session closed locally and asks the writer to tear
// down once its queue drains.
func (t *Tools) Close() {
	t.enqueue(writerMessage{kind: kindClose})
	t.closed.Store(true)
}

// CloseWithDelay asks the writer to drain, wait d, then tear down.
func (t *Tools) CloseWithDelay(d time.Duration) {
	t.enqueue(writerMessage{kind: kindCloseAfter, after: d})
	t.closed.Store(true)
}

// Latency returns the last ping round-trip time recorded for this
// session, in milliseconds.
func (t *Tools) Latency() int64 { return t.latency.Load() }

// setLatency is called by the session reader on each ping reply; it is
// the lone writer of the latency gauge (spec's single-writer discipline).
func (t *Tools) setLatency(ms int64) { t.latency.Store(ms) }

// SetLatency records a freshly measured ping latency, in milliseconds.
func (t *Tools) SetLatency(ms int64) { t.setLatency(ms) }

// IsClosed reports whether the session has been locally marked closed or
// its writer queue is no longer accepting sends.
func (t *Tools) IsClosed() bool { return t.closed.Load() }

func (t *Tools) enqueue(msg writerMessage) {
	if t.closed.Load() {
		return
	}
	select {
	case t.tx <- msg:
	default:
		// Best-effort: a full queue on a slow/stuck peer drops the send
		// rather than blocking the caller.
	}
}
