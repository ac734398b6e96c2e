package listener

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgenet/ironclad/internal/dos"
	"github.com/forgenet/ironclad/internal/frame"
	"github.com/forgenet/ironclad/internal/gametime"
	"github.com/forgenet/ironclad/internal/pool"
	"github.com/forgenet/ironclad/internal/world"
)

type stubWorld struct {
	started atomic.Bool
}

func (w *stubWorld) OnStart(cell *gametime.Cell)                { w.started.Store(true) }
func (w *stubWorld) Update(diffMs int64, now gametime.GameTime) {}
func (w *stubWorld) PacketLimit(cmd uint16) (uint16, uint32, dos.Policy) {
	return 1000, 0, dos.PolicyLog
}
func (w *stubWorld) GlobalLimit() (uint16, uint32) { return 1000, 1 << 20 }

type stubSession struct {
	opened atomic.Bool
	closed atomic.Bool
}

func (s *stubSession) OnOpen()                              { s.opened.Store(true) }
func (s *stubSession) OnMessage(cmd uint16, payload []byte) {}
func (s *stubSession) OnClose()                             { s.closed.Store(true) }
func (s *stubSession) OnDosAttack(cmd uint16)               {}

func TestRunBindsAndAcceptsConnections(t *testing.T) {
	w := &stubWorld{}
	sessions := make(chan *stubSession, 4)
	factory := func(id uint64, remote net.Addr) world.Session {
		s := &stubSession{}
		sessions <- s
		return s
	}

	l := New(Config{Addr: "127.0.0.1:0"}, w, factory,
		pool.New(4, frame.MaxFrame), pool.New(4, frame.MaxFrame))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, nil) }()

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("listener never became ready")
	}

	if !w.started.Load() {
		t.Fatal("expected World.OnStart to have been called before accepting")
	}

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var hdr [frame.HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], 0)
	binary.BigEndian.PutUint16(hdr[4:6], 1)
	if _, err := conn.Write(hdr[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-sessions:
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) && !s.opened.Load() {
			time.Sleep(5 * time.Millisecond)
		}
		if !s.opened.Load() {
			t.Fatal("expected OnOpen to be called for accepted session")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a session to be created for the dialed connection")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}

func TestScratchPoolCapFollowsActiveSocketsAndHeadroom(t *testing.T) {
	if got := ScratchPoolCap(10, 4); got != 28 {
		t.Fatalf("expected (10+4)*2=28, got %d", got)
	}
}

func TestInPoolCapTracksActiveSessions(t *testing.T) {
	w := &stubWorld{}
	factory := func(id uint64, remote net.Addr) world.Session { return &stubSession{} }
	inPool := pool.New(4, frame.MaxFrame)
	l := New(Config{Addr: "127.0.0.1:0", PoolHeadroom: 2}, w, factory,
		inPool, pool.New(4, frame.MaxFrame))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, nil)

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("listener never became ready")
	}

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.ActiveSessions() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if want := ScratchPoolCap(1, 2); inPool.Max() != want {
		t.Fatalf("expected inPool cap %d after accept, got %d", want, inPool.Max())
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.ActiveSessions() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if want := ScratchPoolCap(0, 2); inPool.Max() != want {
		t.Fatalf("expected inPool cap %d after close, got %d", want, inPool.Max())
	}
}

func TestActiveSessionsTracksAcceptAndClose(t *testing.T) {
	w := &stubWorld{}
	factory := func(id uint64, remote net.Addr) world.Session { return &stubSession{} }
	l := New(Config{Addr: "127.0.0.1:0"}, w, factory,
		pool.New(4, frame.MaxFrame), pool.New(4, frame.MaxFrame))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, nil)

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatal("listener never became ready")
	}

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.ActiveSessions() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if l.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session after dial, got %d", l.ActiveSessions())
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.ActiveSessions() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if l.ActiveSessions() != 0 {
		t.Fatalf("expected 0 active sessions after close, got %d", l.ActiveSessions())
	}
}
