package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RezaEskandarii/shotfire/app"
)

func operatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage admin operators stored in Postgres",
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an operator or reset its password (password is read from stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && password == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(password, "\r\n")
			if len(password) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			return withOperators(cmd, func(ctx context.Context, c *app.Container) error {
				id, err := c.Operators.Upsert(ctx, args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "operator %s saved (id %d)\n", args[0], id)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <username>",
		Short: "Delete an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperators(cmd, func(ctx context.Context, c *app.Container) error {
				return c.Operators.Delete(ctx, args[0])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOperators(cmd, func(ctx context.Context, c *app.Container) error {
				operators, err := c.Operators.List(ctx)
				if err != nil {
					return err
				}
				for _, op := range operators {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", op.ID, op.Username, op.CreatedAt.Format("2006-01-02"))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func withOperators(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	return withContainer(cmd, true, func(ctx context.Context, c *app.Container) error {
		if c.DB == nil {
			return errors.New("operators need the postgres storage driver")
		}
		return fn(ctx, c)
	})
}
