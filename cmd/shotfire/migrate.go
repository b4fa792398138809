package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, true, func(_ context.Context, c *app.Container) error {
				c.Logger.Info("schema is up to date")
				return nil
			})
		},
	}
}
