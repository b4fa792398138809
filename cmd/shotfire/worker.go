package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Pop jobs from the main queue and render them until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, false, func(ctx context.Context, c *app.Container) error {
				if c.Pool == nil {
					return errors.New("renderer endpoint is not configured (SHOTFIRE_RENDERER_ENDPOINT)")
				}
				c.Logger.Info("worker pool starting", "worker_id", c.Pool.ID(), "concurrency", c.Config.WorkerCount)
				return c.Pool.Start(ctx)
			})
		},
	}
}
