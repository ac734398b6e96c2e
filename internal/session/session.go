// Package session implements the per-connection protocol state machine
// (C7): a reader goroutine decoding frames and running DoS checks, a
// dispatcher goroutine invoking the application's OnMessage one frame at
// a time, and a writer pump (internal/socket) draining the outbound
// queue. Any one of the three ending tears down the session; OnClose
// fires exactly once.
package session

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/forgenet/ironclad/internal/dos"
	"github.com/forgenet/ironclad/internal/frame"
	"github.com/forgenet/ironclad/internal/logging"
	"github.com/forgenet/ironclad/internal/metrics"
	"github.com/forgenet/ironclad/internal/pool"
	"github.com/forgenet/ironclad/internal/socket"
	"github.com/forgenet/ironclad/internal/world"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// matching the failure taxonomy named for the session protocol.
var (
	ErrReadingPacket    = errors.New("session: short read of frame")
	ErrNumberConversion = errors.New("session: size word does not fit a platform int")
	ErrPacketSize       = errors.New("session: payload size exceeds limit")
	ErrPacketPayload    = errors.New("session: malformed payload")
	ErrTimeoutReading   = errors.New("session: read deadline exceeded")
	ErrDosProtection    = errors.New("session: dos check rejected frame")
	ErrChannel          = errors.New("session: internal queue gone")
)

// cmdPing is the reserved cmd carrying the ping/latency round trip.
const cmdPing uint16 = 0

// pingPayloadLen is the fixed 16-byte ping payload: 8 bytes opaque client
// time followed by 8 bytes signed big-endian latency in milliseconds.
const pingPayloadLen = 16

// Config bundles the tunables a Session needs beyond the World and
// Session contracts themselves.
type Config struct {
	ReadTimeout  time.Duration // default 20s per frame
	WriteQueue   int           // outbound queue depth
	DispatchSize int           // dispatcher queue depth
	ClockMs      func() int64  // current tick time, ms; defaults to wall clock
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 20 * time.Second
	}
	if c.WriteQueue <= 0 {
		c.WriteQueue = 256
	}
	if c.DispatchSize <= 0 {
		c.DispatchSize = 256
	}
	if c.ClockMs == nil {
		c.ClockMs = func() int64 { return time.Now().UnixMilli() }
	}
	return c
}

type dispatchMessage struct {
	cmd  uint16
	data []byte
	pool *pool.BytePool
}

// Session owns one accepted connection's reader, dispatcher, and writer.
type Session struct {
	id      uint64
	conn    net.Conn
	w       world.World
	s       world.Session
	log     *slog.Logger
	cfg     Config
	tools   *socket.Tools
	outPool *pool.BytePool
	inPool  *pool.BytePool
	acct    *dos.Accountant

	dispatchCh   chan dispatchMessage
	stopDispatch chan struct{}
	stopOnce     sync.Once
	writerDone   <-chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wires up a Session around an already-accepted connection and
// starts its three goroutines. It does not block.
func New(id uint64, conn net.Conn, w world.World, s world.Session, inPool, outPool *pool.BytePool, cfg Config) *Session {
	cfg = cfg.withDefaults()

	tools, writerDone := socket.New(id, conn.RemoteAddr(), conn, cfg.WriteQueue)

	sess := &Session{
		id:           id,
		conn:         conn,
		w:            w,
		s:            s,
		log:          logging.ForSession(id, conn.RemoteAddr().String()),
		cfg:          cfg,
		tools:        tools,
		outPool:      outPool,
		inPool:       inPool,
		acct:         dos.New(),
		dispatchCh:   make(chan dispatchMessage, cfg.DispatchSize),
		stopDispatch: make(chan struct{}),
		writerDone:   writerDone,
	}

	metrics.IncSessionAccepted()
	s.OnOpen()

	sess.wg.Add(3)
	go sess.readLoop()
	go sess.dispatchLoop()
	go sess.watchWriter()

	go sess.waitAndClose()

	return sess
}

// Tools returns the session's send/close handle.
func (sess *Session) Tools() *socket.Tools { return sess.tools }

// watchWriter ends the session the moment the writer pump exits on its
// own (a write error, or a Close/CloseAfter message drained from the
// queue), so a broken write side cannot leave the reader and dispatcher
// running indefinitely against a connection nobody is reading teardown
// from the other side of.
func (sess *Session) watchWriter() {
	defer sess.wg.Done()
	<-sess.writerDone
	_ = sess.conn.Close()
}

// waitAndClose blocks until the reader, dispatcher, and writer watcher
// have all exited, then tears the connection down and invokes OnClose
// exactly once, regardless of which goroutine initiated teardown.
func (sess *Session) waitAndClose() {
	sess.wg.Wait()
	sess.closeOnce.Do(func() {
		_ = sess.conn.Close()
		sess.s.OnClose()
	})
}

func (sess *Session) readLoop() {
	defer sess.wg.Done()
	defer sess.tools.Close()
	defer sess.stopOnce.Do(func() { close(sess.stopDispatch) })

	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(sess.cfg.ReadTimeout))

		pkt, err := frame.Decode(sess.conn, sess.inPool)
		if err != nil {
			sess.classifyReadErr(err)
			return
		}

		now := sess.cfg.ClockMs()
		amount, sizeCap, policy := sess.w.PacketLimit(pkt.Cmd)
		if sizeCap > 0 && uint32(len(pkt.Payload)) >= sizeCap {
			// A size-cap violation is a PacketSize failure, not a DoS
			// rejection: it is checked independently of DoS accounting and
			// always tears the session down, regardless of the per-cmd
			// policy in effect.
			pkt.Release()
			metrics.IncFrameRejectedCmd()
			metrics.IncError(metrics.ErrConnRead)
			return
		}
		if !sess.acct.AdmitCmd(pkt.Cmd, amount, now) {
			metrics.IncFrameRejectedCmd()
			sess.s.OnDosAttack(pkt.Cmd)
			pkt.Release()
			if !sess.applyDosPolicy(policy, pkt.Cmd) {
				return
			}
			continue
		}

		gAmount, gBytes := sess.w.GlobalLimit()
		frameSize := uint32(len(pkt.Payload))
		if !sess.acct.AdmitGlobal(now, frameSize, gBytes, gAmount) {
			pkt.Release()
			metrics.IncFrameRejectedGlobal()
			sess.s.OnDosAttack(pkt.Cmd)
			metrics.IncError(metrics.ErrDosGlobal)
			// A failing global check is always fatal, regardless of the
			// per-cmd policy in effect.
			return
		}

		metrics.IncFrameAccepted()

		if pkt.Cmd == cmdPing {
			sess.handlePing(pkt.Payload)
			pkt.Release()
			continue
		}

		if !sess.enqueueDispatch(pkt.Cmd, pkt.Payload, sess.inPool) {
			return
		}
	}
}

// applyDosPolicy carries out the configured response to a failing per-cmd
// check and reports whether the reader loop should keep going.
func (sess *Session) applyDosPolicy(policy dos.Policy, cmd uint16) bool {
	switch policy {
	case dos.PolicyClose:
		sess.tools.Close()
		metrics.IncError(metrics.ErrDosPerCmd)
		return false
	case dos.PolicyLog:
		sess.log.Warn("dos_policy_triggered", "cmd", cmd)
		return true
	default:
		return true
	}
}

func (sess *Session) classifyReadErr(err error) {
	if errors.Is(err, frame.ErrReadingPacket) {
		if ne, ok := underlyingNetErr(err); ok && ne.Timeout() {
			metrics.IncError(metrics.ErrConnRead)
			sess.log.Debug("read_timeout")
			return
		}
		metrics.IncError(metrics.ErrConnRead)
		return
	}
	if errors.Is(err, frame.ErrPacketSize) {
		metrics.IncError(metrics.ErrConnRead)
		sess.log.Warn("oversized_frame_rejected")
		return
	}
	if errors.Is(err, frame.ErrNumberConversion) {
		metrics.IncError(metrics.ErrConnRead)
		return
	}
	metrics.IncError(metrics.ErrConnRead)
}

func underlyingNetErr(err error) (net.Error, bool) {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// handlePing echoes the 16-byte ping payload back on cmd 0 and records
// the parsed latency on the session's gauge. A malformed ping is logged
// and silently ignored rather than torn down, matching the forgiving
// posture applied to any single malformed control frame.
func (sess *Session) handlePing(payload []byte) {
	if len(payload) != pingPayloadLen {
		sess.log.Warn("malformed_ping", "len", len(payload))
		metrics.IncError(metrics.ErrConnRead)
		return
	}

	latency := parsePingLatency(payload)
	sess.tools.SetLatency(latency)

	echo := make([]byte, pingPayloadLen)
	copy(echo, payload)
	out := frame.Encode(sess.outPool, cmdPing, echo)
	sess.tools.Send(out)
}

func parsePingLatency(payload []byte) int64 {
	var v int64
	for _, b := range payload[8:16] {
		v = (v << 8) | int64(b)
	}
	return v
}

func (sess *Session) enqueueDispatch(cmd uint16, payload []byte, p *pool.BytePool) bool {
	select {
	case sess.dispatchCh <- dispatchMessage{cmd: cmd, data: payload, pool: p}:
		return true
	default:
		// Dispatcher queue is full; drop the connection rather than stall
		// the reader indefinitely behind a slow handler.
		metrics.IncError(metrics.ErrDispatcher)
		return false
	}
}

// dispatchLoop drains decoded packets in arrival order until the reader
// signals shutdown via stopDispatch. It drains whatever is already queued
// before exiting, so a packet the reader successfully enqueued is never
// silently lost.
func (sess *Session) dispatchLoop() {
	defer sess.wg.Done()

	for {
		select {
		case msg := <-sess.dispatchCh:
			sess.s.OnMessage(msg.cmd, msg.data)
			if msg.pool != nil && msg.data != nil {
				msg.pool.Put(msg.data)
			}
		case <-sess.stopDispatch:
			for {
				select {
				case msg := <-sess.dispatchCh:
					sess.s.OnMessage(msg.cmd, msg.data)
					if msg.pool != nil && msg.data != nil {
						msg.pool.Put(msg.data)
					}
				default:
					return
				}
			}
		}
	}
}
