// Package client is the peer side of the hub: one TCP connection plus a UDP
// socket bound to the same local address, so datagrams the hub addresses to
// the TCP peer address arrive here.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/stupid-engine/stupid/pkg/packet"
	"github.com/stupid-engine/stupid/pkg/session"
)

var bufferPool = &sync.Pool{
	New: func() any {
		buf := make([]byte, 2048)
		return &buf
	},
}

type Client struct {
	conn   net.Conn
	udp    *net.UDPConn
	local  netip.AddrPort
	server netip.AddrPort

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the hub listening on addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	local := session.AddrPortOf(conn.LocalAddr())
	udp, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind udp %s: %w", local, err)
	}

	return &Client{
		conn:   conn,
		udp:    udp,
		local:  local,
		server: session.AddrPortOf(conn.RemoteAddr()),
	}, nil
}

// LocalAddr is the address the hub knows this client by.
func (c *Client) LocalAddr() netip.AddrPort {
	return c.local
}

func (c *Client) SendReliable(p packet.Packet) (int, error) {
	return packet.WriteFrame(c.conn, p)
}

func (c *Client) SendUnreliable(p packet.Packet) (int, error) {
	return c.udp.WriteToUDPAddrPort(packet.Marshal(p), c.server)
}

// SendRaw writes b to the TCP connection unframed.
func (c *Client) SendRaw(b []byte) (int, error) {
	return c.conn.Write(b)
}

// SendRawDatagram sends b to the hub's UDP socket unframed.
func (c *Client) SendRawDatagram(b []byte) (int, error) {
	return c.udp.WriteToUDPAddrPort(b, c.server)
}

// ReadPacket reads the next frame from the TCP connection. It must not be
// called concurrently.
func (c *Client) ReadPacket() (packet.Packet, error) {
	return packet.ReadFrame(c.conn)
}

// ReadDatagram waits for the next datagram from the hub and decodes it.
// Datagrams from other senders are skipped.
func (c *Client) ReadDatagram() (packet.Packet, error) {
	bufp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufp)
	buf := *bufp

	for {
		n, from, err := c.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			return nil, err
		}
		if netip.AddrPortFrom(from.Addr().Unmap(), from.Port()) != c.server {
			continue
		}
		return packet.Unmarshal(buf[:n])
	}
}

// SetReadDeadline applies t to both sockets.
func (c *Client) SetReadDeadline(t time.Time) error {
	return errors.Join(c.conn.SetReadDeadline(t), c.udp.SetReadDeadline(t))
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.conn.Close(), c.udp.Close())
	})
	return c.closeErr
}
