package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/chat-delivery-service/config"
	"github.com/webitel/chat-delivery-service/internal/app"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

const (
	ServiceName      = "chat-delivery-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	cliApp := &cli.App{
		Name:  ServiceName,
		Usage: "Real-time one-to-one chat delivery service",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	return cliApp.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the delivery service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to an optional YAML config file overlaying the env-var defaults",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}

			tel, err := telemetry.New(c.Context, telemetry.Config{
				ServiceName:    ServiceName,
				LogLevel:       parseLevel(cfg.Logging.Level),
				TracingEnabled: cfg.Tracing.Enabled,
				SampleRatio:    cfg.Tracing.SampleRatio,
			})
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			fxApp := app.New(cfg, tel)
			if err := fxApp.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return fxApp.Stop(context.Background())
		},
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
