package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"
)

func Instance() *cli.App {
	loglevel := "info"
	return &cli.App{
		Name:  "stupid-server",
		Usage: "Game server accepting players over TCP and UDP",
		Commands: []*cli.Command{
			serveCmd(),
			probeCmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"STUPID_LOG_LEVEL"},
				Destination: &loglevel,
				Value:       loglevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(ctx.App.ErrWriter, &slog.HandlerOptions{
				Level: parseLevel(loglevel),
			})))
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	return Instance().RunContext(ctx, args)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
