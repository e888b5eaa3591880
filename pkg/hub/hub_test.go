package hub_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-engine/stupid/pkg/client"
	"github.com/stupid-engine/stupid/pkg/hub"
	"github.com/stupid-engine/stupid/pkg/packet"
	"github.com/stupid-engine/stupid/pkg/session"
)

const waitFor = 2 * time.Second

func newHub(t *testing.T, handler hub.Handler) *hub.Hub {
	t.Helper()

	h, err := hub.New(hub.Config{Port: 0, Handler: handler})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func dial(t *testing.T, h *hub.Hub) *client.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	c, err := client.Dial(ctx, h.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.Eventually(t, func() bool {
		_, ok := h.Session(c.LocalAddr())
		return ok
	}, waitFor, 5*time.Millisecond, "hub never registered %s", c.LocalAddr())
	return c
}

func spawn() packet.SpawnEntity {
	return packet.SpawnEntity{
		EntityID:   7,
		EntityKind: 2,
		MaxHealth:  10,
		Health:     10,
		Position:   packet.NewVector2(1.0, 2.0),
	}
}

func TestNewBindsBothSocketsToOnePort(t *testing.T) {
	inbox := hub.NewInbox(0)
	h := newHub(t, inbox.Push)

	addr := h.Addr()
	require.True(t, addr.IsValid())
	assert.NotZero(t, addr.Port())
	assert.Equal(t, netip.MustParseAddr(hub.DefaultHost), addr.Addr())

	udp, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	require.NoError(t, err)
	defer udp.Close()

	_, err = udp.Write(packet.Marshal(packet.DespawnEntity{EntityID: 1}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inbox.Len() == 1 }, waitFor, 5*time.Millisecond)
	msgs := inbox.Drain()
	assert.Equal(t, packet.DespawnEntity{EntityID: 1}, msgs[0].Packet)
	assert.False(t, msgs[0].Reliable)
}

func TestNewTCPPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	_, err = hub.New(hub.Config{Port: port})
	require.Error(t, err)

	var berr *hub.BindError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "tcp", berr.Network)
}

func TestNewUDPPortInUseLeavesNothingBound(t *testing.T) {
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer udp.Close()

	port := udp.LocalAddr().(*net.UDPAddr).Port
	_, err = hub.New(hub.Config{Port: port})
	require.Error(t, err)

	var berr *hub.BindError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "udp", berr.Network)

	// the TCP listener must have been released
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	ln.Close()
}

func TestAcceptRegistersEveryPeer(t *testing.T) {
	h := newHub(t, nil)

	const n = 8
	clients := make([]*client.Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := client.Dial(context.Background(), h.Addr().String())
			if assert.NoError(t, err) {
				clients[i] = c
			}
		}(i)
	}
	wg.Wait()
	defer func() {
		for _, c := range clients {
			if c != nil {
				c.Close()
			}
		}
	}()

	require.Eventually(t, func() bool { return h.Len() == n }, waitFor, 5*time.Millisecond)

	want := make(map[netip.AddrPort]bool)
	for _, c := range clients {
		require.NotNil(t, c)
		want[c.LocalAddr()] = true
	}
	require.Len(t, want, n)

	got := make(map[netip.AddrPort]bool)
	for _, a := range h.Addrs() {
		got[a] = true
	}
	assert.Equal(t, want, got)
	assert.EqualValues(t, n, h.Stats().Accepted)
}

func TestSendReliableSpawnEntity(t *testing.T) {
	h := newHub(t, nil)
	c := dial(t, h)

	n, err := h.SendReliable(c.LocalAddr(), spawn())
	require.NoError(t, err)
	assert.Equal(t, 1+packet.SpawnEntitySize, n)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	got, err := c.ReadPacket()
	require.NoError(t, err)

	se, ok := got.(packet.SpawnEntity)
	require.True(t, ok)
	assert.EqualValues(t, 7, se.EntityID)
	assert.EqualValues(t, 2, se.EntityKind)
	assert.EqualValues(t, 10, se.MaxHealth)
	assert.EqualValues(t, 10, se.Health)
	assert.Equal(t, packet.NewVector2(1.0, 2.0), se.Position)
}

func TestReceiveReliableSpawnEntity(t *testing.T) {
	inbox := hub.NewInbox(0)
	h := newHub(t, inbox.Push)
	c := dial(t, h)

	_, err := c.SendReliable(spawn())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inbox.Len() == 1 }, waitFor, 5*time.Millisecond)
	msg := inbox.Drain()[0]
	assert.Equal(t, c.LocalAddr(), msg.From)
	assert.True(t, msg.Reliable)
	assert.Equal(t, spawn(), msg.Packet)
}

func TestReliableOrderWithinSession(t *testing.T) {
	inbox := hub.NewInbox(0)
	h := newHub(t, inbox.Push)
	c := dial(t, h)

	const n = 200
	var buf []byte
	for i := 0; i < n; i++ {
		buf = packet.AppendFrame(buf, packet.DespawnEntity{EntityID: uint32(i)})
	}
	_, err := c.SendRaw(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inbox.Len() == n }, waitFor, 5*time.Millisecond)
	for i, msg := range inbox.Drain() {
		assert.Equal(t, packet.DespawnEntity{EntityID: uint32(i)}, msg.Packet)
	}
}

func TestSendUnreliable(t *testing.T) {
	h := newHub(t, nil)
	c := dial(t, h)

	p := packet.MoveEntity{EntityID: 3, Position: packet.NewVector2(4, 5)}
	n, err := h.SendUnreliable(c.LocalAddr(), p)
	require.NoError(t, err)
	assert.Equal(t, 1+packet.MoveEntitySize, n)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	got, err := c.ReadDatagram()
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSendToUnknownAddress(t *testing.T) {
	h := newHub(t, nil)
	unknown := netip.MustParseAddrPort("127.0.0.1:1")

	start := time.Now()
	n, err := h.SendUnreliable(unknown, spawn())
	assert.Zero(t, n)
	assert.ErrorIs(t, err, hub.ErrNotConnected)
	assert.Less(t, time.Since(start), time.Second)

	var nerr *hub.NotConnectedError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, unknown, nerr.Addr)

	_, err = h.SendReliable(unknown, spawn())
	assert.ErrorIs(t, err, hub.ErrNotConnected)

	assert.Zero(t, h.Stats().UnreliableSent)
	assert.Zero(t, h.Stats().ReliableSent)
}

func TestMalformedDatagramsAreDropped(t *testing.T) {
	inbox := hub.NewInbox(0)
	h := newHub(t, inbox.Push)
	c := dial(t, h)

	valid := packet.MoveEntity{EntityID: 1, Position: packet.NewVector2(1, 1)}
	frame := packet.Marshal(valid)

	for _, b := range [][]byte{
		{byte(packet.KindSpawnEntity)},        // no payload
		frame[:len(frame)-1],                  // short
		append(append([]byte{}, frame...), 0), // long
		{0xEE, 1, 2, 3},                       // unknown kind
	} {
		_, err := c.SendRawDatagram(b)
		require.NoError(t, err)
	}
	_, err := c.SendUnreliable(valid)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Stats().DatagramsReceived == 5 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return inbox.Len() == 1 }, waitFor, 5*time.Millisecond)

	msg := inbox.Drain()[0]
	assert.Equal(t, valid, msg.Packet)
	assert.Equal(t, c.LocalAddr(), msg.From)
	assert.EqualValues(t, 4, h.Stats().DatagramsDropped)
}

func TestMalformedStreamDropsOnlyThatPeer(t *testing.T) {
	h := newHub(t, nil)
	bad := dial(t, h)
	good := dial(t, h)

	ses, ok := h.Session(bad.LocalAddr())
	require.True(t, ok)

	_, err := bad.SendRaw([]byte{0xEE})
	require.NoError(t, err)

	select {
	case <-ses.Done():
	case <-time.After(waitFor):
		t.Fatal("session survived an unknown packet kind")
	}
	assert.ErrorIs(t, ses.Err(), packet.ErrUnknownKind)

	_, err = h.SendReliable(good.LocalAddr(), spawn())
	require.NoError(t, err)
	require.NoError(t, good.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = good.ReadPacket()
	require.NoError(t, err)
}

func TestPeerDisconnectMarksSessionDead(t *testing.T) {
	h := newHub(t, nil)
	c := dial(t, h)
	other := dial(t, h)

	ses, ok := h.Session(c.LocalAddr())
	require.True(t, ok)
	require.True(t, ses.IsAlive())

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return !ses.IsAlive() }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := h.Session(c.LocalAddr())
		return !ok
	}, waitFor, 5*time.Millisecond)

	otherSes, ok := h.Session(other.LocalAddr())
	require.True(t, ok)
	assert.True(t, otherSes.IsAlive())
	assert.Equal(t, 1, h.Len())
}

func TestSendReliableAfterPeerClosed(t *testing.T) {
	h := newHub(t, nil)
	c := dial(t, h)
	addr := c.LocalAddr()

	ses, ok := h.Session(addr)
	require.True(t, ok)
	require.NoError(t, c.Close())
	<-ses.Done()

	done := make(chan error, 1)
	go func() {
		_, err := h.SendReliable(addr, spawn())
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("send hung after peer closed")
	}

	_, err := ses.SendReliable(packet.Marshal(spawn()))
	assert.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	h := newHub(t, nil)
	clients := []*client.Client{dial(t, h), dial(t, h), dial(t, h)}

	p := packet.UpdateHealth{EntityID: 1, MaxHealth: 10, Health: 3}
	require.NoError(t, h.Broadcast(p, true))

	for _, c := range clients {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
		got, err := c.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	require.NoError(t, h.BroadcastExcept(clients[0].LocalAddr(), p, false))
	for _, c := range clients[1:] {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
		got, err := c.ReadDatagram()
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	assert.EqualValues(t, 5, h.Stats().ReliableSent+h.Stats().UnreliableSent)
}

func TestCloseWaitsForEverySession(t *testing.T) {
	h, err := hub.New(hub.Config{})
	require.NoError(t, err)

	var sessions []*session.Session
	for i := 0; i < 5; i++ {
		c := dial(t, h)
		ses, ok := h.Session(c.LocalAddr())
		require.True(t, ok)
		sessions = append(sessions, ses)
	}

	require.NoError(t, h.Close())

	running := 0
	for _, ses := range sessions {
		select {
		case <-ses.Done():
		default:
			running++
		}
		assert.False(t, ses.IsAlive())
	}
	assert.Zero(t, running, "read goroutines outlived Close")
	assert.Zero(t, h.Len())

	_, err = h.SendReliable(sessions[0].RemoteAddr(), spawn())
	assert.ErrorIs(t, err, hub.ErrHubClosed)
	_, err = h.SendUnreliable(sessions[0].RemoteAddr(), spawn())
	assert.ErrorIs(t, err, hub.ErrHubClosed)

	assert.NoError(t, h.Close(), "second close is a no-op")
}

func TestCloseStopsAccepting(t *testing.T) {
	h, err := hub.New(hub.Config{})
	require.NoError(t, err)
	addr := h.Addr().String()
	require.NoError(t, h.Close())

	conn, err := net.DialTimeout("tcp", addr, waitFor)
	if err == nil {
		conn.Close()
		t.Fatal("hub still accepting after close")
	}
}
