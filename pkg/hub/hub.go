// Package hub accepts peers over TCP and UDP on a single port and routes
// packets between them and the game.
//
// Every TCP connection becomes a session.Session keyed by its remote address.
// The same address is used for unreliable sends: a peer is expected to
// receive datagrams on the port its TCP connection originates from.
package hub

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stupid-engine/stupid/pkg/netlog"
	"github.com/stupid-engine/stupid/pkg/packet"
	"github.com/stupid-engine/stupid/pkg/session"
)

const (
	DefaultHost = "127.0.0.1"

	maxDatagramSize  = 64 << 10
	maxAcceptBackoff = time.Second
)

// Inbound is a decoded packet together with where it came from.
type Inbound struct {
	From     netip.AddrPort
	Packet   packet.Packet
	Reliable bool
}

// Handler receives inbound packets. It is called from the datagram loop and
// from every session's read goroutine, so it must be safe for concurrent use.
// Packets from one session arrive in stream order.
type Handler func(msg Inbound)

type Config struct {
	// Host defaults to DefaultHost.
	Host string
	// Port is shared by both sockets. 0 lets the system pick one.
	Port    int
	Logger  netlog.Logger
	Handler Handler
}

// Stats is a snapshot of the hub's counters.
type Stats struct {
	Accepted          uint64
	Sessions          int
	DatagramsReceived uint64
	DatagramsDropped  uint64
	ReliableSent      uint64
	UnreliableSent    uint64
}

type counters struct {
	accepted          atomic.Uint64
	datagramsReceived atomic.Uint64
	datagramsDropped  atomic.Uint64
	reliableSent      atomic.Uint64
	unreliableSent    atomic.Uint64
}

type Hub struct {
	logger  netlog.Logger
	handler Handler

	listener net.Listener
	udp      *net.UDPConn
	addr     netip.AddrPort

	sessions *registry
	stats    counters

	// group tracks the accept loop, the datagram loop and one reaper per session.
	group     errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// New binds the TCP listener and the UDP socket to the same port and starts
// serving. If either bind fails nothing is left open.
func New(cfg Config) (*Hub, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	tcpAddr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return nil, &BindError{Network: "tcp", Addr: tcpAddr, Err: err}
	}

	// bind UDP to the port actually chosen, so Port 0 yields one shared port
	addr := session.AddrPortOf(listener.Addr())
	udpAddr := net.UDPAddrFromAddrPort(addr)
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return nil, &BindError{Network: "udp", Addr: udpAddr.String(), Err: err}
	}

	h := &Hub{
		logger:   netlog.OrNop(cfg.Logger),
		handler:  cfg.Handler,
		listener: listener,
		udp:      udp,
		addr:     addr,
		sessions: newRegistry(),
	}

	h.group.Go(h.acceptLoop)
	h.group.Go(h.datagramLoop)

	h.logger.Info("hub listening", "addr", addr)
	return h, nil
}

// Addr returns the address both sockets are bound to.
func (h *Hub) Addr() netip.AddrPort {
	return h.addr
}

// ==================================================================
// Accept
// ==================================================================

func (h *Hub) acceptLoop() error {
	var backoff time.Duration

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				h.logger.Debug("listener closed, stopping accept loop")
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			h.logger.Error("failed to accept new peer", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		h.admit(conn)
	}
}

func (h *Hub) admit(conn net.Conn) {
	ses := session.Open(conn, session.Config{
		Logger:   h.logger,
		OnPacket: h.onReliable,
	})
	h.stats.accepted.Add(1)

	stale, ok := h.sessions.insert(ses)
	if !ok {
		h.logger.Debug("hub closing, rejecting peer", "remote", ses.RemoteAddr())
		ses.Close()
	}
	if stale != nil {
		h.logger.Warn("replacing stale session", "remote", stale.RemoteAddr(), "session", stale.ID())
		stale.Close()
	}

	// reaper: unregister once the read goroutine is gone
	h.group.Go(func() error {
		<-ses.Done()
		if h.sessions.remove(ses) {
			h.logger.Debug("session removed", "remote", ses.RemoteAddr(), "session", ses.ID())
		}
		return nil
	})
}

func (h *Hub) onReliable(s *session.Session, p packet.Packet) {
	h.deliver(Inbound{From: s.RemoteAddr(), Packet: p, Reliable: true})
}

func (h *Hub) deliver(msg Inbound) {
	if h.handler == nil {
		h.logger.Debug("no handler, discarding packet", "from", msg.From, "kind", packet.Name(msg.Packet.Kind()))
		return
	}
	h.handler(msg)
}

// ==================================================================
// Datagrams
// ==================================================================

func (h *Hub) datagramLoop() error {
	buf := make([]byte, maxDatagramSize)

	for {
		n, from, err := h.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				h.logger.Debug("udp socket closed, stopping datagram loop")
				return nil
			}
			h.logger.Warn("failed to receive datagram", "error", err)
			continue
		}
		h.stats.datagramsReceived.Add(1)
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		p, err := packet.Unmarshal(buf[:n])
		if err != nil {
			h.stats.datagramsDropped.Add(1)
			h.logger.Debug("dropping malformed datagram", "from", from, "len", n, "error", err)
			continue
		}

		h.deliver(Inbound{From: from, Packet: p})
	}
}

// ==================================================================
// Send
// ==================================================================

// Session returns the session registered for addr.
func (h *Hub) Session(addr netip.AddrPort) (*session.Session, bool) {
	s, ok, _ := h.sessions.get(addr)
	return s, ok
}

func (h *Hub) lookup(addr netip.AddrPort) (*session.Session, error) {
	s, ok, closed := h.sessions.get(addr)
	if closed {
		return nil, ErrHubClosed
	}
	if !ok {
		return nil, &NotConnectedError{Addr: addr}
	}
	return s, nil
}

// SendReliable writes p over the TCP connection of the peer at addr.
func (h *Hub) SendReliable(addr netip.AddrPort, p packet.Packet) (int, error) {
	s, err := h.lookup(addr)
	if err != nil {
		return 0, err
	}

	n, err := s.SendReliable(packet.Marshal(p))
	if err != nil {
		return n, fmt.Errorf("send reliable to %s: %w", addr, err)
	}
	h.stats.reliableSent.Add(1)
	return n, nil
}

// SendUnreliable sends p as a single datagram to addr. addr must belong to a
// connected peer even though UDP itself is connectionless.
func (h *Hub) SendUnreliable(addr netip.AddrPort, p packet.Packet) (int, error) {
	if _, err := h.lookup(addr); err != nil {
		return 0, err
	}

	n, err := h.udp.WriteToUDPAddrPort(packet.Marshal(p), addr)
	if err != nil {
		return n, fmt.Errorf("send unreliable to %s: %w", addr, err)
	}
	h.stats.unreliableSent.Add(1)
	return n, nil
}

// Send dispatches p reliably or unreliably.
func (h *Hub) Send(addr netip.AddrPort, p packet.Packet, reliable bool) (int, error) {
	if reliable {
		return h.SendReliable(addr, p)
	}
	return h.SendUnreliable(addr, p)
}

// Broadcast sends p to every registered peer. Failures for single peers do
// not stop the others; they are joined into the returned error.
func (h *Hub) Broadcast(p packet.Packet, reliable bool) error {
	return h.BroadcastExcept(netip.AddrPort{}, p, reliable)
}

// BroadcastExcept is Broadcast without the peer at skip.
func (h *Hub) BroadcastExcept(skip netip.AddrPort, p packet.Packet, reliable bool) error {
	var errs []error
	for _, s := range h.sessions.snapshot() {
		if s.RemoteAddr() == skip {
			continue
		}
		if _, err := h.Send(s.RemoteAddr(), p, reliable); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ==================================================================
// Introspection
// ==================================================================

// Addrs returns the addresses of all registered peers.
func (h *Hub) Addrs() []netip.AddrPort {
	sessions := h.sessions.snapshot()
	addrs := make([]netip.AddrPort, 0, len(sessions))
	for _, s := range sessions {
		addrs = append(addrs, s.RemoteAddr())
	}
	return addrs
}

// Len returns the number of registered peers.
func (h *Hub) Len() int {
	return h.sessions.len()
}

func (h *Hub) Stats() Stats {
	return Stats{
		Accepted:          h.stats.accepted.Load(),
		Sessions:          h.sessions.len(),
		DatagramsReceived: h.stats.datagramsReceived.Load(),
		DatagramsDropped:  h.stats.datagramsDropped.Load(),
		ReliableSent:      h.stats.reliableSent.Load(),
		UnreliableSent:    h.stats.unreliableSent.Load(),
	}
}

// ==================================================================
// Lifecycle
// ==================================================================

// Close stops accepting peers, closes both sockets and every session, and
// returns once every goroutine started by the hub has exited.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		sessions := h.sessions.close()

		var errs []error
		if err := h.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		if err := h.udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}

		for _, s := range sessions {
			if err := s.Close(); err != nil {
				h.logger.Warn("failed to close session", "remote", s.RemoteAddr(), "error", err)
			}
		}

		if err := h.group.Wait(); err != nil {
			errs = append(errs, err)
		}

		h.closeErr = errors.Join(errs...)
		h.logger.Info("hub closed", "addr", h.addr, "sessions", len(sessions))
	})
	return h.closeErr
}
