// Package listener implements the TCP accept loop (C8): bind, optionally
// upgrade each accepted connection to TLS under a fixed handshake
// timeout, assign a monotonic session id, and spawn a session (C7) per
// connection. World.OnStart fires once before the loop begins.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgenet/ironclad/internal/gametime"
	"github.com/forgenet/ironclad/internal/logging"
	"github.com/forgenet/ironclad/internal/metrics"
	"github.com/forgenet/ironclad/internal/pool"
	"github.com/forgenet/ironclad/internal/session"
	"github.com/forgenet/ironclad/internal/world"
)

// tlsAcceptTimeout bounds how long a TLS handshake may take before the
// connection is dropped.
const tlsAcceptTimeout = 15 * time.Second

// Sentinel errors for wrapping and classification via errors.Is.
var (
	ErrListen           = errors.New("listener: bind failed")
	ErrAccept           = errors.New("listener: accept failed")
	ErrTlsAcceptTimeout = errors.New("listener: tls handshake timed out")
	ErrTlsAccept        = errors.New("listener: tls handshake failed")
	ErrNoDelayError     = errors.New("listener: failed to configure TCP_NODELAY")
)

// Security selects whether accepted connections are upgraded to TLS.
type Security struct {
	TLS    bool
	Config *tls.Config
}

// Config bundles the listener's tunables.
type Config struct {
	Addr         string
	Security     Security
	NoDelay      bool // set TCP_NODELAY on accepted connections; false leaves it unset
	SessionCfg   session.Config
	PoolHeadroom int // extra capacity added to ActiveSessions when resizing inPool
}

// SessionFactory builds the per-connection application Session the
// runtime should dispatch decoded frames to.
type SessionFactory func(id uint64, remote net.Addr) world.Session

// Listener owns the bound socket and the accept loop.
type Listener struct {
	cfg       Config
	w         world.World
	newSess   SessionFactory
	log       *slog.Logger
	inPool    *pool.BytePool
	outPool   *pool.BytePool
	nextID    atomic.Uint64
	active    atomic.Int64
	ln        net.Listener
	readyOnce sync.Once
	readyCh   chan struct{}
}

// New creates a Listener. inPool is the read-scratch pool; outPool is the
// out-frame pool. Neither is created implicitly — the owner wires sizing
// policy (active-sockets headroom, fixed out cap). cfg.NoDelay is used as
// given: its zero value leaves TCP_NODELAY unset, so callers wanting it on
// set it explicitly.
func New(cfg Config, w world.World, newSess SessionFactory, inPool, outPool *pool.BytePool) *Listener {
	return &Listener{
		cfg:     cfg,
		w:       w,
		newSess: newSess,
		log:     logging.L(),
		inPool:  inPool,
		outPool: outPool,
		readyCh: make(chan struct{}),
	}
}

// Ready closes once the socket is bound and listening and World.OnStart
// has returned.
func (l *Listener) Ready() <-chan struct{} { return l.readyCh }

// Addr returns the bound address, valid only after Ready has fired.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ActiveSessions returns the current count of accepted, not-yet-torn-down
// sessions, used to drive the read-scratch pool's sizing policy.
func (l *Listener) ActiveSessions() int64 { return l.active.Load() }

// Run binds the listener, invokes World.OnStart, then accepts connections
// until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, cell *gametime.Cell) error {
	addr := l.cfg.Addr
	if addr == "" {
		addr = ":0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrListen)
		return wrap
	}
	l.ln = ln
	l.w.OnStart(cell)
	l.readyOnce.Do(func() { close(l.readyCh) })
	l.log.Info("listening", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(metrics.ErrAccept)
			return wrap
		}
		go l.handleAccept(conn)
	}
}

func (l *Listener) handleAccept(conn net.Conn) {
	if l.cfg.NoDelay {
		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				l.log.Warn("no_delay_failed", "error", err)
			}
		}
	}

	if l.cfg.Security.TLS {
		upgraded, err := l.upgradeTLS(conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		conn = upgraded
	}

	id := l.nextID.Add(1)
	sess := l.newSess(id, conn.RemoteAddr())

	active := l.active.Add(1)
	metrics.SetSessionsActive(int(active))
	l.inPool.SetMax(ScratchPoolCap(int(active), l.cfg.PoolHeadroom))

	session.New(id, conn, l.w, &trackedSession{Session: sess, onClose: l.sessionClosed}, l.inPool, l.outPool, l.cfg.SessionCfg)
}

func (l *Listener) sessionClosed() {
	active := l.active.Add(-1)
	metrics.SetSessionsActive(int(active))
	l.inPool.SetMax(ScratchPoolCap(int(active), l.cfg.PoolHeadroom))
}

// trackedSession wraps the application's world.Session so the listener
// can keep ActiveSessions accurate without every World implementation
// having to report its own teardown.
type trackedSession struct {
	world.Session
	onClose func()
}

func (t *trackedSession) OnClose() {
	t.Session.OnClose()
	t.onClose()
}

func (l *Listener) upgradeTLS(conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Server(conn, l.cfg.Security.Config)

	errCh := make(chan error, 1)
	go func() { errCh <- tlsConn.HandshakeContext(context.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			metrics.IncError(metrics.ErrTLSAccept)
			return nil, fmt.Errorf("%w: %v", ErrTlsAccept, err)
		}
		return tlsConn, nil
	case <-time.After(tlsAcceptTimeout):
		metrics.IncError(metrics.ErrTLSAccept)
		return nil, ErrTlsAcceptTimeout
	}
}

// ScratchPoolCap computes the read-scratch pool's policy size: the active
// socket count plus headroom, doubled, per spec §4.1.
func ScratchPoolCap(active int, headroom int) int {
	return (active + headroom) * 2
}

// OutPoolCap is the fixed cap for the out-frame pool.
const OutPoolCap = 4096
