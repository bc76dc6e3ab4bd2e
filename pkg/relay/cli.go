package relay

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Vehicle position relay",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the feed poller, broker consumer, websocket hub and API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "path to the relay YAML config",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					ctx, cancel := context.WithCancel(context.Background())
					defer cancel()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
					defer signal.Stop(signals)

					go func() {
						<-signals // wait for signal
						log.Info().Msg("Shutting down")
						cancel()

						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					r := Setup(ctx, cfg)

					err = r.Run(ctx)

					closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer closeCancel()
					r.Close(closeCtx)

					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				},
			},
		},
	}
}
