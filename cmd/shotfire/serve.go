package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RezaEskandarii/shotfire/app"
	"github.com/RezaEskandarii/shotfire/web"
)

func serveCmd() *cobra.Command {
	var withWorkers, withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, optionally with workers and the recovery scheduler in-process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, true, func(ctx context.Context, c *app.Container) error {
				if withWorkers && c.Pool == nil {
					return errors.New("--workers needs SHOTFIRE_RENDERER_ENDPOINT")
				}
				opts := []web.RouteOption{web.WithHealthCheck(healthCheck(c))}
				if c.DB != nil {
					// Operators only persist in Postgres; with the memory store the
					// configured static admin is the only credential source.
					opts = append(opts, web.WithAdminAuthenticator(c.Operators))
				}
				handler := web.NewRouteHandler(c.JobManager, c.Scheduler, c.Metrics, c.Config.HTTP, c.Logger, opts...)

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error { return handler.Serve(ctx) })
				if withScheduler {
					g.Go(func() error { return runScheduler(ctx, c) })
				}
				if withWorkers {
					g.Go(func() error { return c.Pool.Start(ctx) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "workers", false, "also run the render worker pool")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "also run the recovery scheduler")
	return cmd
}

func healthCheck(c *app.Container) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if c.DB != nil {
			if err := c.DB.PingContext(ctx); err != nil {
				return err
			}
		}
		if c.Redis != nil {
			return c.Redis.Ping(ctx).Err()
		}
		return nil
	}
}
