package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run stuck job recovery, failed job retries and delayed queue promotion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, false, runScheduler)
		},
	}
}

// runScheduler blocks until ctx is done, then stops the scheduler and waits
// for in-flight passes up to the HTTP shutdown timeout.
func runScheduler(ctx context.Context, c *app.Container) error {
	if err := c.Scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Config.HTTP.ShutdownTimeout)
	defer cancel()
	return c.Scheduler.Stop(stopCtx)
}
