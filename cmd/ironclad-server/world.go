package main

import (
	"log/slog"
	"net"

	"github.com/forgenet/ironclad/internal/dos"
	"github.com/forgenet/ironclad/internal/gametime"
)

// echoWorld is the minimal reference World this binary hosts: it applies
// a single DoS budget to every cmd and otherwise does nothing, so the
// runtime has something concrete to drive. Real applications plug in
// their own World and Session implementations; this one only exists to
// make `ironclad-server` runnable on its own.
type echoWorld struct {
	log *slog.Logger

	amountPerSecond uint16
	sizeCap         uint32
	policy          dos.Policy

	globalAmount uint16
	globalBytes  uint32
}

func newEchoWorld(log *slog.Logger) *echoWorld {
	return &echoWorld{
		log:             log,
		amountPerSecond: 15,
		sizeCap:         10 * 1024,
		policy:          dos.PolicyLog,
		globalAmount:    50,
		globalBytes:     5000,
	}
}

func (w *echoWorld) OnStart(cell *gametime.Cell) {
	w.log.Info("world_started")
}

func (w *echoWorld) Update(diffMs int64, now gametime.GameTime) {}

func (w *echoWorld) PacketLimit(cmd uint16) (uint16, uint32, dos.Policy) {
	return w.amountPerSecond, w.sizeCap, w.policy
}

func (w *echoWorld) GlobalLimit() (uint16, uint32) {
	return w.globalAmount, w.globalBytes
}

// echoSession logs the lifecycle and traffic of one connection so a bare
// TCP client can exercise the runtime end to end without any further
// application wiring. Ping handling is already covered by the session
// protocol itself; this Session only observes.
type echoSession struct {
	id     uint64
	remote net.Addr
	log    *slog.Logger
}

func newEchoSession(id uint64, remote net.Addr, log *slog.Logger) *echoSession {
	return &echoSession{id: id, remote: remote, log: log}
}

func (s *echoSession) OnOpen() {
	s.log.Info("session_open", "session_id", s.id, "remote", s.remote.String())
}

func (s *echoSession) OnMessage(cmd uint16, payload []byte) {
	s.log.Debug("session_message", "session_id", s.id, "cmd", cmd, "len", len(payload))
}

func (s *echoSession) OnClose() {
	s.log.Info("session_close", "session_id", s.id)
}

func (s *echoSession) OnDosAttack(cmd uint16) {
	s.log.Warn("session_dos_attack", "session_id", s.id, "cmd", cmd)
}
