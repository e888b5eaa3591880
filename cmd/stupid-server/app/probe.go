package app

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stupid-engine/stupid/pkg/client"
	"github.com/stupid-engine/stupid/pkg/netlog/slogadapter"
	"github.com/stupid-engine/stupid/pkg/packet"
)

func probeCmd() *cli.Command {
	var (
		addr     = "127.0.0.1:7777"
		entityID uint
		wait     = 2 * time.Second
	)
	return &cli.Command{
		Name:  "probe",
		Usage: "Connects to a server, spawns an entity and prints what comes back",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Server address", Value: addr, Destination: &addr},
			&cli.UintFlag{Name: "entity", Usage: "Entity id to spawn", Value: 1, Destination: &entityID},
			&cli.DurationFlag{Name: "wait", Usage: "How long to listen for relayed packets", Value: wait, Destination: &wait},
		},
		Action: func(ctx *cli.Context) error {
			logger := slogadapter.New(slog.Default()).With("server", addr)

			c, err := client.Dial(ctx.Context, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			logger.Info("connected", "local", c.LocalAddr())

			id := uint32(entityID)
			if _, err := c.SendReliable(packet.SpawnEntity{EntityID: id, EntityKind: 1, MaxHealth: 10, Health: 10}); err != nil {
				return err
			}
			if _, err := c.SendUnreliable(packet.MoveEntity{EntityID: id, Position: packet.NewVector2(1, 2)}); err != nil {
				return err
			}

			if err := c.SetReadDeadline(time.Now().Add(wait)); err != nil {
				return err
			}
			for {
				p, err := c.ReadPacket()
				if err != nil {
					logger.Debug("stopped reading", "error", err)
					return nil
				}
				logger.Info("received", "kind", packet.Name(p.Kind()), "packet", p)
			}
		},
	}
}
