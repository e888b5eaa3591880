package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-engine/stupid/pkg/client"
	"github.com/stupid-engine/stupid/pkg/hub"
	"github.com/stupid-engine/stupid/pkg/packet"
	"github.com/stupid-engine/stupid/pkg/relay"
)

func TestRelayForwardsToOtherPeers(t *testing.T) {
	inbox := hub.NewInbox(0)
	h, err := hub.New(hub.Config{Handler: inbox.Push})
	require.NoError(t, err)
	defer h.Close()

	r := relay.New(h, inbox, nil)

	var clients []*client.Client
	for i := 0; i < 3; i++ {
		c, err := client.Dial(context.Background(), h.Addr().String())
		require.NoError(t, err)
		defer c.Close()
		clients = append(clients, c)
	}
	require.Eventually(t, func() bool { return h.Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	reliable := packet.SpawnEntity{EntityID: 1, EntityKind: 1, MaxHealth: 5, Health: 5}
	unreliable := packet.MoveEntity{EntityID: 1, Position: packet.NewVector2(2, 3)}

	_, err = clients[0].SendReliable(reliable)
	require.NoError(t, err)
	_, err = clients[0].SendUnreliable(unreliable)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inbox.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	var seen []hub.Inbound
	r.OnTick(func(msgs []hub.Inbound) { seen = append(seen, msgs...) })
	assert.Equal(t, 2, r.Tick())
	assert.Len(t, seen, 2)

	for _, c := range clients[1:] {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))

		got, err := c.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, reliable, got)

		got, err = c.ReadDatagram()
		require.NoError(t, err)
		assert.Equal(t, unreliable, got)
	}

	// the sender does not get its own packets back
	require.NoError(t, clients[0].SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = clients[0].ReadPacket()
	assert.Error(t, err)

	assert.Zero(t, r.Tick())
}

func TestRelayRunStopsWithContext(t *testing.T) {
	inbox := hub.NewInbox(0)
	h, err := hub.New(hub.Config{Handler: inbox.Push})
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.New(h, inbox, nil).Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
