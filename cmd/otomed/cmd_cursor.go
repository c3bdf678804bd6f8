package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otomed/otomed3/internal/cursor"
)

func init() {
	rootCmd.AddCommand(cursorCmd)
	cursorCmd.AddCommand(cursorGetCmd, cursorSetCmd, cursorResetCmd)
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or move the last processed notification id",
}

// withCursor opens the configured store for a one-off command.
func withCursor(cmd *cobra.Command, fn func(ctx context.Context, store cursor.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := openCursor(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

var cursorGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCursor(cmd, func(ctx context.Context, store cursor.Store) error {
			v, ok, err := store.Get(ctx)
			if err != nil {
				return err
			}
			if !ok {
				v = "(none)"
			}
			fmt.Fprintln(os.Stdout, v)
			return nil
		})
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <notification-id>",
	Short: "Skip everything up to and including the given notification id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.TrimSpace(args[0])
		if id == "" || strings.Trim(id, "0123456789") != "" {
			return fmt.Errorf("invalid notification id: %q", args[0])
		}
		return withCursor(cmd, func(ctx context.Context, store cursor.Store) error {
			if err := store.Set(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Cursor set to %s\n", id)
			return nil
		})
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the cursor so the next pass starts from the newest notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCursor(cmd, func(ctx context.Context, store cursor.Store) error {
			if err := store.Set(ctx, ""); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "Cursor cleared.")
			return nil
		})
	},
}
