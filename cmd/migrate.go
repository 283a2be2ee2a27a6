package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/openpress/reviewforms/internal/config"
	"github.com/openpress/reviewforms/internal/database"
)

// MigrateCommand returns the CLI command for applying the schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}

			db, driver, err := database.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(context.Background(), db, driver); err != nil {
				return err
			}

			fmt.Println("Schema is up to date.")
			return nil
		},
	}
}
