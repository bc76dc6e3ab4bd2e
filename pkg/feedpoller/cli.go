package feedpoller

import (
	"context"
	"fmt"

	"github.com/kr/pretty"
	"github.com/travigo/sytral-relay/pkg/config"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Vehicle feed tools",
		Subcommands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "fetch the vehicle feed once and print the parsed batch",
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

					poller, err := New(cfg.Feed, nil)
					if err != nil {
						return err
					}

					batch, err := poller.FetchBatch(context.Background())
					if err != nil {
						return err
					}

					pretty.Println(batch)
					fmt.Printf("%d vehicles\n", len(batch))

					return nil
				},
			},
		},
	}
}
