package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
	"github.com/RezaEskandarii/shotfire/types/config"
)

var (
	instance        string
	defaultInstance string
)

var rootCmd = &cobra.Command{
	Use:           "shotfire",
	Short:         "Screenshot job service with stuck job recovery and retries",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	host, _ := os.Hostname()
	rootCmd.PersistentFlags().StringVar(&instance, "instance", "", "instance name used as lock owner prefix (default $SHOTFIRE_INSTANCE or hostname)")
	defaultInstance = host

	rootCmd.AddCommand(serveCmd(), workerCmd(), schedulerCmd(), migrateCmd(), eventsCmd(), operatorCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var opts []config.Option
	switch {
	case instance != "":
		opts = append(opts, config.WithInstance(instance))
	case os.Getenv("SHOTFIRE_INSTANCE") == "":
		opts = append(opts, config.WithInstance(defaultInstance))
	}
	return config.LoadFromEnv(opts...)
}

// withContainer builds the container, runs fn and closes the container afterwards.
func withContainer(cmd *cobra.Command, migrate bool, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	c, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.Logger.Error("close container", "error", err)
		}
	}()

	if migrate {
		if err := c.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return fn(ctx, c)
}
