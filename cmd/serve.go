package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/openpress/reviewforms/internal/api"
	"github.com/openpress/reviewforms/internal/config"
	"github.com/openpress/reviewforms/internal/database"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the review forms API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured port",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if port := c.Int("port"); port != 0 {
				cfg.Server.Port = port
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			db, driver, err := database.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(context.Background(), db, driver); err != nil {
				return err
			}

			server := api.NewServer(cfg, db)
			return server.Start()
		},
	}
}
