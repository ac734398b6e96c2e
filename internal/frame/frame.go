// Package frame implements the wire codec: a six-byte big-endian header
// (u32 size, u16 cmd) followed by a payload of exactly `size` bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/forgenet/ironclad/internal/pool"
)

// HeaderSize is the fixed six-byte frame header: 4 bytes size + 2 bytes cmd.
const HeaderSize = 6

// MaxFrame is the payload size limit, 14 KiB: Decode rejects any frame whose
// size is MaxFrame or larger.
const MaxFrame = 14 * 1024

// Errors returned by Decode. They are classified by the session reader to
// decide teardown policy and metrics labels.
var (
	ErrReadingPacket    = errors.New("frame: short read of header")
	ErrPacketSize       = errors.New("frame: payload size exceeds limit")
	ErrNumberConversion = errors.New("frame: size word does not fit a platform int")
)

// Packet is a decoded frame: a cmd and an optional pool-owned payload.
// Payload is nil when size was zero. Release must be called exactly once
// the handler is done with Payload, returning it to the pool it came from.
type Packet struct {
	Cmd     uint16
	Payload []byte

	pool *pool.BytePool
}

// Release returns the packet's payload buffer to its pool. Safe to call on
// a zero-value Packet or one with a nil Payload.
func (p *Packet) Release() {
	if p.pool != nil && p.Payload != nil {
		p.pool.Put(p.Payload)
		p.Payload = nil
	}
}

// Encode writes size(cmd)=len(payload), cmd, then payload into a buffer
// drawn from out. The caller owns the returned slice and should release it
// back to out once written to the wire (or let the writer do so).
func Encode(out *pool.BytePool, cmd uint16, payload []byte) []byte {
	buf := out.Get()
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint16(hdr[4:6], cmd)
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	return buf
}

// Decode reads exactly one frame from r: a 4-byte size, a 2-byte cmd, and
// then size bytes of payload drawn from scratch. A size of zero yields a
// nil Payload. Any short read surfaces as ErrReadingPacket; an oversized
// frame surfaces as ErrPacketSize without consuming the payload bytes
// (the connection is expected to be torn down by the caller).
func Decode(r io.Reader, scratch *pool.BytePool) (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, ErrReadingPacket
	}

	size64 := binary.BigEndian.Uint32(hdr[0:4])
	cmd := binary.BigEndian.Uint16(hdr[4:6])

	if size64 > math.MaxInt32 {
		return Packet{}, ErrNumberConversion
	}
	size := int(size64)

	if size >= MaxFrame {
		return Packet{}, ErrPacketSize
	}

	if size == 0 {
		return Packet{Cmd: cmd}, nil
	}

	buf := scratch.Get()
	buf = growTo(buf, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		scratch.Put(buf)
		return Packet{}, ErrReadingPacket
	}

	return Packet{Cmd: cmd, Payload: buf, pool: scratch}, nil
}

// growTo returns a slice of length n built on b's backing array when it has
// enough capacity, else a fresh allocation; it never shrinks capacity.
func growTo(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}
