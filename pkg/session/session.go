// Package session wraps one remote peer's reliable connection.
//
// A Session owns its net.Conn and runs a single read goroutine that pulls
// framed packets off the stream until the peer disconnects, a read fails, or
// the session is closed. The liveness flag is written only by that goroutine.
package session

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/stupid-engine/stupid/pkg/netlog"
	"github.com/stupid-engine/stupid/pkg/packet"
)

// PacketHandler receives every packet read from a session, in stream order,
// on the session's read goroutine.
type PacketHandler func(s *Session, p packet.Packet)

type Config struct {
	Logger   netlog.Logger
	OnPacket PacketHandler
}

type Session struct {
	conn     net.Conn
	remote   netip.AddrPort
	id       string
	logger   netlog.Logger
	onPacket PacketHandler

	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error

	done chan struct{}
	err  error
}

// Open takes ownership of an accepted connection and starts reading from it.
func Open(conn net.Conn, cfg Config) *Session {
	s := &Session{
		conn:     conn,
		remote:   AddrPortOf(conn.RemoteAddr()),
		id:       uuid.NewString(),
		logger:   netlog.OrNop(cfg.Logger),
		onPacket: cfg.OnPacket,
		done:     make(chan struct{}),
	}
	s.alive.Store(true)

	s.logger.Info("peer connected", "session", s.id, "remote", s.remote)

	go s.readLoop()
	return s
}

// ==================================================================
// Identity
// ==================================================================

// ID returns a random identifier used to tell sessions apart in logs.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address. It never changes.
func (s *Session) RemoteAddr() netip.AddrPort {
	return s.remote
}

func (s *Session) String() string {
	return s.remote.String()
}

// ==================================================================
// Lifecycle
// ==================================================================

// IsAlive reports whether the read goroutine is still running.
func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

// Close shuts down the connection in both directions. It does not wait for
// the read goroutine; use Done for that. Closing twice is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// Done is closed once the read goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the read goroutine stopped. It is nil while the session is
// alive, after an orderly disconnect, and after a local Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// ==================================================================
// Send
// ==================================================================

// SendReliable writes b to the connection. Transport errors are returned as
// is; there is no retry at this layer.
func (s *Session) SendReliable(b []byte) (int, error) {
	return s.conn.Write(b)
}

// Send writes the wire frame of p.
func (s *Session) Send(p packet.Packet) (int, error) {
	return s.SendReliable(packet.Marshal(p))
}

// ==================================================================
// Read
// ==================================================================

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		p, err := packet.ReadFrame(s.conn)
		if err != nil {
			s.err = s.classify(err)
			break
		}

		if s.onPacket != nil {
			s.onPacket(s, p)
		}
	}

	s.alive.Store(false)
	if err := s.Close(); err != nil {
		s.logger.Warn("failed to shut down connection", "session", s.id, "error", err)
	}
}

// classify logs why reading stopped and returns the error worth keeping.
func (s *Session) classify(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("peer disconnected", "session", s.id, "remote", s.remote)
		return nil

	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		s.logger.Debug("session closed locally", "session", s.id, "remote", s.remote)
		return nil

	case errors.Is(err, packet.ErrUnknownKind), errors.Is(err, packet.ErrLength):
		s.logger.Warn("malformed packet, dropping connection", "session", s.id, "remote", s.remote, "error", err)
		return err

	default:
		s.logger.Error("failed to receive reliable message", "session", s.id, "remote", s.remote, "error", err)
		return err
	}
}

// AddrPortOf converts a transport address to the key used for peers.
// IPv4-mapped IPv6 addresses are unmapped so TCP and UDP agree.
func AddrPortOf(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.TCPAddr:
		ap = a.AddrPort()
	case *net.UDPAddr:
		ap = a.AddrPort()
	default:
		if addr == nil {
			return netip.AddrPort{}
		}
		ap, _ = netip.ParseAddrPort(addr.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
