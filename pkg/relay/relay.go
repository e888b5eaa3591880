// Package relay is the server's game loop: on every tick it drains the hub's
// inbox and forwards each packet to every other connected peer.
package relay

import (
	"context"
	"time"

	"github.com/stupid-engine/stupid/pkg/hub"
	"github.com/stupid-engine/stupid/pkg/netlog"
	"github.com/stupid-engine/stupid/pkg/packet"
)

type Relay struct {
	hub    *hub.Hub
	inbox  *hub.Inbox
	logger netlog.Logger
	onTick func(msgs []hub.Inbound)
}

// New returns a Relay forwarding what h pushes into inbox. The hub must have
// been created with inbox.Push as its handler.
func New(h *hub.Hub, inbox *hub.Inbox, logger netlog.Logger) *Relay {
	return &Relay{
		hub:    h,
		inbox:  inbox,
		logger: netlog.OrNop(logger),
	}
}

// OnTick registers fn to be called with every batch before it is relayed.
func (r *Relay) OnTick(fn func(msgs []hub.Inbound)) {
	r.onTick = fn
}

// Tick relays everything received since the previous tick and returns how
// many packets it handled. Each packet keeps the transport it arrived on.
func (r *Relay) Tick() int {
	msgs := r.inbox.Drain()
	if r.onTick != nil {
		r.onTick(msgs)
	}

	for _, msg := range msgs {
		if err := r.hub.BroadcastExcept(msg.From, msg.Packet, msg.Reliable); err != nil {
			r.logger.Warn("failed to relay packet",
				"from", msg.From,
				"kind", packet.Name(msg.Packet.Kind()),
				"reliable", msg.Reliable,
				"error", err,
			)
		}
	}
	return len(msgs)
}

// Run ticks every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.Tick(); n > 0 {
				r.logger.Debug("tick", "relayed", n, "peers", r.hub.Len())
			}
		}
	}
}
