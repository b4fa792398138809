package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
	"github.com/RezaEskandarii/shotfire/types"
)

// eventsCmd tails the job event queue. Handy for checking the webhook feed.
func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print job.completed and job.failed events as they arrive on RabbitMQ",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, false, func(ctx context.Context, c *app.Container) error {
				if c.Broker == nil {
					return errors.New("event publishing is disabled (SHOTFIRE_PUBLISH_EVENTS)")
				}
				messages, err := c.Broker.Consume(ctx, c.Config.RabbitMQConfig.Queue)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg, ok := <-messages:
						if !ok {
							return nil
						}
						var event types.JobEvent
						if err := json.Unmarshal(msg, &event); err != nil {
							c.Logger.Warn("skip malformed event", "error", err)
							continue
						}
						fmt.Fprintf(out, "%s  %-14s job=%s owner=%s status=%s retries=%d\n",
							event.At.Format("2006-01-02T15:04:05Z07:00"), event.Type, event.JobID, event.OwnerID, event.Status, event.RetryCount)
					}
				}
			})
		},
	}
}
