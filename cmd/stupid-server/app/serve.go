package app

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/stupid-engine/stupid/pkg/config"
	"github.com/stupid-engine/stupid/pkg/hub"
	"github.com/stupid-engine/stupid/pkg/netlog/zapadapter"
	"github.com/stupid-engine/stupid/pkg/relay"
)

func serveCmd() *cli.Command {
	var (
		configPath string
		host       string
		port       int
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the hub and relays packets between connected players",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML config file", Destination: &configPath},
			&cli.StringFlag{Name: "host", Usage: "Address to bind both sockets to", Destination: &host},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port shared by TCP and UDP", Destination: &port},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if ctx.IsSet("host") {
				cfg.Server.Host = host
			}
			if ctx.IsSet("port") {
				cfg.Server.Port = port
			}
			if ctx.IsSet("log-level") {
				cfg.Log.Level = ctx.String("log-level")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(ctx.Context, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	zl, err := zapadapter.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := zapadapter.New(zl)

	inbox := hub.NewInbox(4096)
	h, err := hub.New(hub.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Logger:  logger,
		Handler: inbox.Push,
	})
	if err != nil {
		return err
	}

	err = relay.New(h, inbox, logger).Run(ctx, cfg.Server.TickInterval)

	stats := h.Stats()
	if cerr := h.Close(); cerr != nil {
		logger.Error("failed to close hub", "error", cerr)
	}
	logger.Info("server stopped",
		"accepted", stats.Accepted,
		"datagrams_received", stats.DatagramsReceived,
		"datagrams_dropped", stats.DatagramsDropped,
		"inbox_dropped", inbox.Dropped(),
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
